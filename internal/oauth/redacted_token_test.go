package oauth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactedToken_Formatting(t *testing.T) {
	token := NewRedactedToken("ya29.super-secret")

	assert.Equal(t, "ya29.super-secret", token.Value())
	assert.Equal(t, "Token: [REDACTED]", fmt.Sprintf("Token: %s", token))
	assert.Equal(t, "Token: [REDACTED]", fmt.Sprintf("Token: %v", token))
	assert.Equal(t, "Token: oauth.RedactedToken{[REDACTED]}", fmt.Sprintf("Token: %#v", token))

	err := fmt.Errorf("failed with token: %s", token)
	assert.Equal(t, "failed with token: [REDACTED]", err.Error())
}

func TestRedactedToken_IsEmpty(t *testing.T) {
	assert.True(t, NewRedactedToken("").IsEmpty())
	assert.False(t, NewRedactedToken("value").IsEmpty())
}

func TestRedactedToken_InStruct(t *testing.T) {
	type Request struct {
		Token RedactedToken `json:"token"`
		Name  string        `json:"name"`
	}
	req := Request{Token: NewRedactedToken("secret-token"), Name: "test"}

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Equal(t, `{"token":"[REDACTED]","name":"test"}`, string(data))
	assert.Equal(t, "{Token:[REDACTED] Name:test}", fmt.Sprintf("%+v", req))
}

func TestTokenPair_NeverPrintsSecrets(t *testing.T) {
	pair := &TokenPair{
		AccessToken:  "ya29.access-secret",
		RefreshToken: "1//refresh-secret",
		Expiry:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Scopes:       ScopeModeStandard.Scopes(),
	}

	for _, out := range []string{
		fmt.Sprintf("%s", pair),
		fmt.Sprintf("%v", pair),
		fmt.Sprintf("%#v", pair),
	} {
		assert.NotContains(t, out, "access-secret")
		assert.NotContains(t, out, "refresh-secret")
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("stored", "pair", pair)
	assert.NotContains(t, buf.String(), "secret")
	assert.Contains(t, buf.String(), `"has_refresh_token":true`)
}
