package config

import "time"

const (
	// DefaultCallbackPath is the default path for upstream OAuth callbacks
	DefaultCallbackPath = "/oauth/callback"

	// DefaultScopeMode is used when no scope mode is configured
	DefaultScopeMode = "standard"

	DefaultStateTTL = 5 * time.Minute
	DefaultCodeTTL  = 2 * time.Minute

	DefaultRateLimitAttempts = 5
	DefaultRateLimitWindow   = time.Minute

	DefaultRefreshThreshold = 0.8
	DefaultRefreshInterval  = 5 * time.Minute
	DefaultStatusCacheTTL   = 5 * time.Minute

	DefaultUpstreamTimeout = 30 * time.Second

	DefaultStateSecretEnv   = "SHEETGATE_STATE_SECRET"
	DefaultEncryptionKeyEnv = "SHEETGATE_ENCRYPTION_KEY"
	DefaultClientSecretEnv  = "SHEETGATE_CLIENT_SECRET"
)

// GetDefaultConfig returns the configuration used when no config.yaml exists,
// and the base that a loaded file is merged over.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8090,
			CallbackPath: DefaultCallbackPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		OAuth: OAuthConfig{
			Upstream: UpstreamConfig{
				Provider:        "google",
				ClientSecretEnv: DefaultClientSecretEnv,
				Timeout:         DefaultUpstreamTimeout,
				VerifyIdentity:  true,
			},
			ScopeMode:      DefaultScopeMode,
			StateTTL:       DefaultStateTTL,
			CodeTTL:        DefaultCodeTTL,
			StateSecretEnv: DefaultStateSecretEnv,
			RateLimit: RateLimitConfig{
				Attempts: DefaultRateLimitAttempts,
				Window:   DefaultRateLimitWindow,
			},
			SessionStore: SessionStoreConfig{
				Type:          "memory",
				SweepInterval: time.Minute,
				Redis: RedisConfig{
					KeyPrefix: "sheetgate:",
				},
			},
		},
		Tokens: TokenConfig{
			EncryptionKeyEnv: DefaultEncryptionKeyEnv,
			RefreshThreshold: DefaultRefreshThreshold,
			RefreshInterval:  DefaultRefreshInterval,
			StatusCacheTTL:   DefaultStatusCacheTTL,
			WatchDir:         true,
			Retry: RetryConfig{
				MaxAttempts:     4,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     30 * time.Second,
			},
		},
	}
}
