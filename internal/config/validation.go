package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

var validScopeModes = map[string]bool{"minimal": true, "standard": true, "full": true, "readonly": true}

// Validate checks the configuration for consistency. Secrets must have been
// resolved first.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs.Add("server.port", "must be between 1 and 65535", c.Server.Port)
	}
	if c.Server.PublicURL == "" {
		errs.Add("server.publicUrl", "is required")
	} else if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add("server.publicUrl", "must be an absolute URL", c.Server.PublicURL)
	}
	if !strings.HasPrefix(c.Server.CallbackPath, "/") {
		errs.Add("server.callbackPath", "must start with /", c.Server.CallbackPath)
	}

	up := c.OAuth.Upstream
	if up.ClientID == "" {
		errs.Add("oauth.upstream.clientId", "is required")
	}
	switch up.Provider {
	case "google", "":
	case "custom":
		if up.Issuer == "" && (up.AuthURL == "" || up.TokenURL == "") {
			errs.Add("oauth.upstream", "custom providers require issuer, or authUrl and tokenUrl")
		}
	default:
		errs.Add("oauth.upstream.provider", "must be google or custom", up.Provider)
	}
	if up.Timeout <= 0 {
		errs.Add("oauth.upstream.timeout", "must be positive", up.Timeout)
	}

	if !validScopeModes[c.OAuth.ScopeMode] {
		errs.Add("oauth.scopeMode", "must be one of minimal, standard, full, readonly", c.OAuth.ScopeMode)
	}

	if len(c.OAuth.Clients) == 0 {
		errs.Add("oauth.clients", "at least one client registration is required")
	}
	seen := make(map[string]bool)
	for i, client := range c.OAuth.Clients {
		field := fmt.Sprintf("oauth.clients[%d]", i)
		if client.ClientID == "" {
			errs.Add(field+".clientId", "is required")
		}
		if seen[client.ClientID] {
			errs.Add(field+".clientId", "is registered twice", client.ClientID)
		}
		seen[client.ClientID] = true
		if len(client.RedirectURIs) == 0 {
			errs.Add(field+".redirectUris", "must have at least one item")
		}
		for _, raw := range client.RedirectURIs {
			u, err := url.Parse(raw)
			if err != nil || u.Scheme == "" || u.Host == "" {
				errs.Add(field+".redirectUris", "must be absolute URLs", raw)
				continue
			}
			if u.Fragment != "" {
				errs.Add(field+".redirectUris", "must not contain a fragment", raw)
			}
		}
		if !client.Public && client.Secret == "" {
			errs.Add(field, "confidential clients require secretEnv")
		}
	}

	if c.OAuth.StateTTL <= 0 {
		errs.Add("oauth.stateTTL", "must be positive", c.OAuth.StateTTL)
	}
	if c.OAuth.CodeTTL <= 0 {
		errs.Add("oauth.codeTTL", "must be positive", c.OAuth.CodeTTL)
	}
	if len(c.OAuth.StateSecret) < 32 {
		errs.Add("oauth.stateSecretEnv", "state secret must be at least 32 bytes")
	}
	if c.OAuth.RateLimit.Attempts <= 0 || c.OAuth.RateLimit.Window <= 0 {
		errs.Add("oauth.rateLimit", "attempts and window must be positive")
	}

	switch c.OAuth.SessionStore.Type {
	case "memory", "":
	case "redis":
		if c.OAuth.SessionStore.Redis.Address == "" {
			errs.Add("oauth.sessionStore.redis.address", "is required when using redis")
		}
	default:
		errs.Add("oauth.sessionStore.type", "must be memory or redis", c.OAuth.SessionStore.Type)
	}

	if c.Tokens.Dir == "" {
		errs.Add("tokens.dir", "is required")
	}
	if len(c.Tokens.EncryptionKey) != 32 {
		errs.Add("tokens.encryptionKeyEnv", "encryption key must decode to 32 bytes (AES-256)")
	}
	if c.Tokens.RefreshThreshold <= 0 || c.Tokens.RefreshThreshold >= 1 {
		errs.Add("tokens.refreshThreshold", "must be between 0 and 1 (exclusive)", c.Tokens.RefreshThreshold)
	}
	if c.Tokens.RefreshInterval <= 0 {
		errs.Add("tokens.refreshInterval", "must be positive", c.Tokens.RefreshInterval)
	}
	if c.Tokens.Retry.MaxAttempts <= 0 {
		errs.Add("tokens.retry.maxAttempts", "must be positive", c.Tokens.Retry.MaxAttempts)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
