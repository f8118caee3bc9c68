package config

import "time"

// Config is the top-level configuration structure for sheetgate.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	OAuth   OAuthConfig   `yaml:"oauth"`
	Tokens  TokenConfig   `yaml:"tokens"`
}

// ServerConfig defines the HTTP listener serving the authorization endpoints.
type ServerConfig struct {
	Host         string `yaml:"host,omitempty"`         // Host to bind to (default: localhost)
	Port         int    `yaml:"port,omitempty"`         // Port to listen on (default: 8090)
	PublicURL    string `yaml:"publicUrl,omitempty"`    // Externally reachable base URL, used to build the upstream redirect URI
	CallbackPath string `yaml:"callbackPath,omitempty"` // Path of the upstream callback (default: /oauth/callback)
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
}

// OAuthConfig configures the authorization flow.
type OAuthConfig struct {
	Upstream UpstreamConfig `yaml:"upstream"`

	// ScopeMode is one of minimal, standard, full, readonly.
	ScopeMode string `yaml:"scopeMode,omitempty"`

	// Clients is the static allow-list of downstream client registrations.
	Clients []ClientConfig `yaml:"clients,omitempty"`

	// StateTTL bounds the lifetime of a state token.
	StateTTL time.Duration `yaml:"stateTTL,omitempty"`

	// CodeTTL bounds the lifetime of a downstream authorization code.
	CodeTTL time.Duration `yaml:"codeTTL,omitempty"`

	// StateSecretEnv names the environment variable holding the HMAC key for state tokens.
	StateSecretEnv string `yaml:"stateSecretEnv,omitempty"`
	StateSecret    []byte `yaml:"-"`

	RateLimit    RateLimitConfig    `yaml:"rateLimit"`
	SessionStore SessionStoreConfig `yaml:"sessionStore"`
}

// UpstreamConfig describes the identity provider sheetgate obtains credentials from.
type UpstreamConfig struct {
	// Provider is "google" (default) or "custom". Custom providers set either
	// Issuer, whose endpoints are discovered at startup, or AuthURL and TokenURL.
	Provider string `yaml:"provider,omitempty"`
	Issuer   string `yaml:"issuer,omitempty"`
	AuthURL  string `yaml:"authUrl,omitempty"`
	TokenURL string `yaml:"tokenUrl,omitempty"`

	ClientID        string `yaml:"clientId,omitempty"`
	ClientSecretEnv string `yaml:"clientSecretEnv,omitempty"`
	ClientSecret    string `yaml:"-"`

	// Timeout bounds every code exchange and refresh call.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// CAFile is an optional PEM bundle trusted in addition to the system roots.
	CAFile string `yaml:"caFile,omitempty"`

	// VerifyIdentity names each credential after the upstream account that
	// consented, read from the ID token (default: true).
	VerifyIdentity bool `yaml:"verifyIdentity"`
}

// ClientConfig is one entry of the downstream client allow-list.
type ClientConfig struct {
	ClientID     string   `yaml:"clientId"`
	RedirectURIs []string `yaml:"redirectUris"`

	// Public clients authenticate with PKCE only. Confidential clients must also
	// present the secret named by SecretEnv when redeeming a code.
	Public    bool   `yaml:"public,omitempty"`
	SecretEnv string `yaml:"secretEnv,omitempty"`
	Secret    string `yaml:"-"`
}

// RateLimitConfig bounds authorization attempts per client/IP key.
type RateLimitConfig struct {
	Attempts int           `yaml:"attempts,omitempty"`
	Window   time.Duration `yaml:"window,omitempty"`
}

// SessionStoreConfig selects the backing store for state and code records.
type SessionStoreConfig struct {
	Type          string        `yaml:"type,omitempty"` // memory or redis
	SweepInterval time.Duration `yaml:"sweepInterval,omitempty"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the shared redis store used by multi-instance deployments.
type RedisConfig struct {
	Address     string `yaml:"address,omitempty"`
	PasswordEnv string `yaml:"passwordEnv,omitempty"`
	Password    string `yaml:"-"`
	DB          int    `yaml:"db,omitempty"`
	KeyPrefix   string `yaml:"keyPrefix,omitempty"`
	TLSEnabled  bool   `yaml:"tlsEnabled,omitempty"`
}

// TokenConfig configures encrypted credential storage and the refresh lifecycle.
type TokenConfig struct {
	Dir string `yaml:"dir,omitempty"`

	// EncryptionKeyEnv names the environment variable holding the base64-encoded
	// 32-byte master key.
	EncryptionKeyEnv string `yaml:"encryptionKeyEnv,omitempty"`
	EncryptionKey    []byte `yaml:"-"`

	// RefreshThreshold is the fraction of a token's lifetime after which it is refreshed.
	RefreshThreshold float64       `yaml:"refreshThreshold,omitempty"`
	RefreshInterval  time.Duration `yaml:"refreshInterval,omitempty"`
	StatusCacheTTL   time.Duration `yaml:"statusCacheTTL,omitempty"`

	// WatchDir removes cached credentials when their file is deleted out of band.
	WatchDir bool `yaml:"watchDir,omitempty"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig is the exponential backoff policy for transient refresh failures.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"maxAttempts,omitempty"`
	InitialInterval time.Duration `yaml:"initialInterval,omitempty"`
	MaxInterval     time.Duration `yaml:"maxInterval,omitempty"`
}
