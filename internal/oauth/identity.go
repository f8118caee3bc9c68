package oauth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// idTokenClaims are the ID token fields that bind a credential to an account.
type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	jwt.RegisteredClaims
}

// upstreamIdentity is the account that consented upstream.
type upstreamIdentity struct {
	Subject string
	Email   string
}

// parseIDToken reads the consenting account from an ID token that arrived in
// the token endpoint response. That response comes straight from the provider
// over TLS, so the signature is not checked. Audience, subject and expiry are.
// Email is only returned when the provider marks it verified.
func parseIDToken(raw, clientID string, now time.Time) (upstreamIdentity, error) {
	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return upstreamIdentity{}, fmt.Errorf("malformed ID token: %w", err)
	}
	if claims.Subject == "" {
		return upstreamIdentity{}, errors.New("ID token has no subject")
	}
	if !slices.Contains(claims.Audience, clientID) {
		return upstreamIdentity{}, errors.New("ID token was issued to another client")
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return upstreamIdentity{}, errors.New("ID token has expired")
	}

	id := upstreamIdentity{Subject: claims.Subject}
	if emailVerified(claims.EmailVerified) {
		id.Email = claims.Email
	}
	return id, nil
}

// emailVerified accepts the boolean and the string forms providers use.
func emailVerified(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	}
	return false
}

// Account is the principal name an identity maps to: the verified email, or
// the subject when there is none.
func (id upstreamIdentity) Account() string {
	if id.Email != "" {
		return id.Email
	}
	return "sub:" + id.Subject
}
