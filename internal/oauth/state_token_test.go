package oauth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) (*stateSigner, func(time.Duration)) {
	t.Helper()
	clock := newTestClock()
	signer, err := newStateSigner(testStateSecret, 5*time.Minute, clock)
	require.NoError(t, err)
	return signer, clock.Advance
}

func sampleState() StateToken {
	return StateToken{
		Nonce:       "nonce-123",
		ClientID:    "sheets-addon",
		RedirectURI: "https://app.example.com/cb",
		CreatedAt:   testEpoch,
	}
}

func TestStateSigner_RoundTrip(t *testing.T) {
	signer, _ := newTestSigner(t)

	raw, err := signer.Mint(sampleState())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(raw, ":"), "wire form is payload:signature")

	tok, err := signer.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "nonce-123", tok.Nonce)
	assert.Equal(t, "sheets-addon", tok.ClientID)
	assert.True(t, tok.CreatedAt.Equal(testEpoch))
}

func TestStateSigner_RejectsShortSecret(t *testing.T) {
	_, err := newStateSigner([]byte("short"), time.Minute, nil)
	assert.Error(t, err)
}

func TestStateSigner_AnyAlteredSignatureByteIsInvalid(t *testing.T) {
	signer, _ := newTestSigner(t)
	raw, err := signer.Mint(sampleState())
	require.NoError(t, err)

	payload, sigPart, _ := strings.Cut(raw, ":")
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	require.NoError(t, err)

	for i := range sig {
		for _, bit := range []byte{0x01, 0x80} {
			tampered := append([]byte(nil), sig...)
			tampered[i] ^= bit
			_, err := signer.Verify(payload + ":" + base64.RawURLEncoding.EncodeToString(tampered))
			require.ErrorIs(t, err, ErrInvalidState, "byte %d bit %#x", i, bit)
		}
	}
}

func TestStateSigner_AlteredPayloadIsInvalid(t *testing.T) {
	signer, _ := newTestSigner(t)
	raw, err := signer.Mint(sampleState())
	require.NoError(t, err)
	_, sigPart, _ := strings.Cut(raw, ":")

	forged := sampleState()
	forged.ClientID = "attacker"
	forgedRaw, err := signer.Mint(forged)
	require.NoError(t, err)
	forgedPayload, _, _ := strings.Cut(forgedRaw, ":")

	_, err = signer.Verify(forgedPayload + ":" + sigPart)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateSigner_OtherSecretIsInvalid(t *testing.T) {
	signer, _ := newTestSigner(t)
	other, err := newStateSigner([]byte("ffffffffffffffffffffffffffffffff"), 5*time.Minute, newTestClock())
	require.NoError(t, err)

	raw, err := other.Mint(sampleState())
	require.NoError(t, err)
	_, err = signer.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateSigner_Malformed(t *testing.T) {
	signer, _ := newTestSigner(t)
	for _, raw := range []string{"", "nocolon", ":sig", "payload:", "a:b:c", "!!!:???"} {
		_, err := signer.Verify(raw)
		assert.ErrorIs(t, err, ErrInvalidState, "raw=%q", raw)
	}
}

func TestStateSigner_Expiry(t *testing.T) {
	signer, advance := newTestSigner(t)
	raw, err := signer.Mint(sampleState())
	require.NoError(t, err)

	advance(5 * time.Minute)
	_, err = signer.Verify(raw)
	require.NoError(t, err, "exactly at the TTL is still valid")

	advance(time.Second)
	tok, err := signer.Verify(raw)
	assert.ErrorIs(t, err, ErrExpiredState)
	require.NotNil(t, tok, "expired claims are returned so the nonce can be discarded")
	assert.Equal(t, "nonce-123", tok.Nonce)
}
