package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := newError(KindExpiredState, "state expired", nil)
	wrapped := fmt.Errorf("callback: %w", err)

	assert.True(t, errors.Is(wrapped, ErrExpiredState))
	assert.False(t, errors.Is(wrapped, ErrInvalidState))
	assert.Equal(t, KindExpiredState, KindOf(wrapped))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := newError(KindTokenStoreCorrupted, "token record failed authentication", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "token record failed authentication", MessageOf(err))
}

func TestKindOf_NonDomainError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("boom")))
	assert.Equal(t, "internal error", MessageOf(errors.New("secret detail")))
}

func TestHTTPStatus(t *testing.T) {
	tests := map[ErrorKind]int{
		KindPkceRequired:           http.StatusBadRequest,
		KindInvalidRedirectURI:     http.StatusBadRequest,
		KindRateLimited:            http.StatusTooManyRequests,
		KindStateAlreadyUsed:       http.StatusConflict,
		KindPrincipalMismatch:      http.StatusForbidden,
		KindCodeExchangeFailed:     http.StatusBadGateway,
		KindReauthRequired:         http.StatusUnauthorized,
		KindUpstreamTransientError: http.StatusServiceUnavailable,
		KindTokenStoreCorrupted:    http.StatusInternalServerError,
		"":                         http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, HTTPStatus(kind), "kind %q", kind)
	}
}
