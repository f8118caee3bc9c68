package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure the authorization subsystem can surface.
// The string value is the wire form used in structured error bodies.
type ErrorKind string

const (
	KindPkceRequired           ErrorKind = "pkce_required"
	KindUnsupportedPkceMethod  ErrorKind = "unsupported_pkce_method"
	KindInvalidRedirectURI     ErrorKind = "invalid_redirect_uri"
	KindRateLimited            ErrorKind = "rate_limited"
	KindInvalidState           ErrorKind = "invalid_state"
	KindExpiredState           ErrorKind = "expired_state"
	KindStateAlreadyUsed       ErrorKind = "state_already_used"
	KindCodeExchangeFailed     ErrorKind = "code_exchange_failed"
	KindTokenStoreCorrupted    ErrorKind = "token_store_corrupted"
	KindReauthRequired         ErrorKind = "reauth_required"
	KindUpstreamTransientError ErrorKind = "upstream_transient_error"
	KindUnknownScopeMode       ErrorKind = "unknown_scope_mode"

	// Downstream client and code redemption failures.
	KindInvalidClient    ErrorKind = "invalid_client"
	KindInvalidRequest   ErrorKind = "invalid_request"
	KindInvalidGrant     ErrorKind = "invalid_grant"
	KindNotAuthenticated ErrorKind = "not_authenticated"

	// KindPrincipalMismatch rejects a credential whose upstream account is
	// not the one the principal is bound to.
	KindPrincipalMismatch ErrorKind = "principal_mismatch"
)

// Error is the single error type returned by this package. Message is safe to
// show to callers. Err carries internal detail and is only ever logged.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so the sentinels
// below work with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrPkceRequired           = &Error{Kind: KindPkceRequired}
	ErrUnsupportedPkceMethod  = &Error{Kind: KindUnsupportedPkceMethod}
	ErrInvalidRedirectURI     = &Error{Kind: KindInvalidRedirectURI}
	ErrRateLimited            = &Error{Kind: KindRateLimited}
	ErrInvalidState           = &Error{Kind: KindInvalidState}
	ErrExpiredState           = &Error{Kind: KindExpiredState}
	ErrStateAlreadyUsed       = &Error{Kind: KindStateAlreadyUsed}
	ErrCodeExchangeFailed     = &Error{Kind: KindCodeExchangeFailed}
	ErrTokenStoreCorrupted    = &Error{Kind: KindTokenStoreCorrupted}
	ErrReauthRequired         = &Error{Kind: KindReauthRequired}
	ErrUpstreamTransientError = &Error{Kind: KindUpstreamTransientError}
	ErrUnknownScopeMode       = &Error{Kind: KindUnknownScopeMode}
	ErrInvalidClient          = &Error{Kind: KindInvalidClient}
	ErrInvalidRequest         = &Error{Kind: KindInvalidRequest}
	ErrInvalidGrant           = &Error{Kind: KindInvalidGrant}
	ErrNotAuthenticated       = &Error{Kind: KindNotAuthenticated}
	ErrPrincipalMismatch      = &Error{Kind: KindPrincipalMismatch}
)

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf returns the caller-safe message for err. Errors that are not an
// *Error get a generic message so internal detail never reaches a response.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps an error kind to the HTTP status used on the wire.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInvalidClient, KindReauthRequired, KindNotAuthenticated:
		return http.StatusUnauthorized
	case KindPrincipalMismatch:
		return http.StatusForbidden
	case KindStateAlreadyUsed:
		return http.StatusConflict
	case KindCodeExchangeFailed:
		return http.StatusBadGateway
	case KindUpstreamTransientError:
		return http.StatusServiceUnavailable
	case KindTokenStoreCorrupted, "":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
