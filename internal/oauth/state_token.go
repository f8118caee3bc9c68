package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// stateSigner mints and verifies StateTokens. The wire form is
// base64url(json(StateToken)) + ":" + base64url(HMAC-SHA256(payload)).
type stateSigner struct {
	secret []byte
	ttl    time.Duration
	clock  Clock
}

func newStateSigner(secret []byte, ttl time.Duration, clock Clock) (*stateSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("state secret must be at least 32 bytes")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &stateSigner{secret: key, ttl: ttl, clock: clockOrDefault(clock)}, nil
}

func (s *stateSigner) sign(payload string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Mint serializes and signs tok.
func (s *stateSigner) Mint(tok StateToken) (string, error) {
	data, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(data)
	sig := base64.RawURLEncoding.EncodeToString(s.sign(payload))
	return payload + ":" + sig, nil
}

// Verify checks the signature before trusting any field, then the TTL.
// Single-use is enforced by the caller consuming the nonce.
func (s *stateSigner) Verify(raw string) (*StateToken, error) {
	payload, sigPart, ok := strings.Cut(raw, ":")
	if !ok || payload == "" || sigPart == "" {
		return nil, newError(KindInvalidState, "state parameter is malformed", nil)
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, newError(KindInvalidState, "state signature is invalid", nil)
	}
	if !hmac.Equal(sig, s.sign(payload)) {
		return nil, newError(KindInvalidState, "state signature is invalid", nil)
	}

	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, newError(KindInvalidState, "state payload is malformed", err)
	}
	var tok StateToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, newError(KindInvalidState, "state payload is malformed", err)
	}
	if tok.Nonce == "" || tok.CreatedAt.IsZero() {
		return nil, newError(KindInvalidState, "state payload is incomplete", nil)
	}

	if s.clock.Now().Sub(tok.CreatedAt) > s.ttl {
		return &tok, newError(KindExpiredState, "authorization session expired, start again", nil)
	}
	return &tok, nil
}
