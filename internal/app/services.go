package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"sheetgate/internal/config"
	"sheetgate/internal/oauth"
	"sheetgate/internal/server"
	"sheetgate/pkg/logging"
	pkgoauth "sheetgate/pkg/oauth"
)

// Services holds every component wired from the configuration.
//
// Service Dependencies:
// The services are initialized in a specific order to handle dependencies:
//  1. Metrics registry and upstream HTTP client
//  2. Session store and rate limiter (memory or redis)
//  3. Upstream identity provider, with endpoint discovery for custom issuers
//  4. Encrypted token store and lifecycle Manager
//  5. Authorizer, HTTP handler and server
type Services struct {
	Registry *prometheus.Registry
	Metrics  *oauth.Metrics

	Sessions oauth.SessionStore
	Limiter  oauth.RateLimiter

	// sweeper is set when the in-memory session store needs a cleanup loop.
	sweeper *oauth.MemorySessionStore
	redis   redis.UniversalClient

	Upstream   *oauth.OAuth2Upstream
	TokenStore *oauth.EncryptedTokenStore
	Manager    *oauth.Manager
	Authorizer *oauth.Authorizer
	Watcher    *oauth.TokenDirWatcher
	Server     *server.HTTPServer

	config *config.Config
}

// InitializeServices builds the component graph. Nothing is started; see
// Start. Network access happens only for redis and issuer discovery.
func InitializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	if err := server.ValidatePublicURL(cfg.Server.PublicURL); err != nil {
		return nil, err
	}

	s := &Services{config: cfg, Registry: prometheus.NewRegistry()}
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.Metrics = oauth.NewMetrics(s.Registry)

	httpClient, err := upstreamHTTPClient(cfg.OAuth.Upstream)
	if err != nil {
		return nil, err
	}

	if err := s.initSessionStore(ctx, cfg.OAuth.SessionStore); err != nil {
		return nil, err
	}

	upstream, err := newUpstream(ctx, cfg, httpClient)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Upstream = upstream

	s.TokenStore, err = oauth.NewEncryptedTokenStore(cfg.Tokens.Dir, cfg.Tokens.EncryptionKey, s.Metrics)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	s.Manager, err = oauth.NewManager(oauth.ManagerConfig{
		Store:            s.TokenStore,
		Upstream:         upstream,
		RefreshThreshold: cfg.Tokens.RefreshThreshold,
		RefreshInterval:  cfg.Tokens.RefreshInterval,
		StatusCacheTTL:   cfg.Tokens.StatusCacheTTL,
		Retry: oauth.RetryPolicy{
			MaxAttempts:     cfg.Tokens.Retry.MaxAttempts,
			InitialInterval: cfg.Tokens.Retry.InitialInterval,
			MaxInterval:     cfg.Tokens.Retry.MaxInterval,
		},
		Metrics: s.Metrics,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Tokens.WatchDir {
		s.Watcher = oauth.NewTokenDirWatcher(cfg.Tokens.Dir, s.Manager)
	}

	scopeMode, err := oauth.ParseScopeMode(cfg.OAuth.ScopeMode)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Authorizer, err = oauth.NewAuthorizer(oauth.AuthorizerConfig{
		Clients:           clientRegistrations(cfg.OAuth.Clients),
		ScopeMode:         scopeMode,
		StateSecret:       cfg.OAuth.StateSecret,
		StateTTL:          cfg.OAuth.StateTTL,
		CodeTTL:           cfg.OAuth.CodeTTL,
		RateLimitAttempts: cfg.OAuth.RateLimit.Attempts,
		RateLimitWindow:   cfg.OAuth.RateLimit.Window,
		VerifyIdentity:    cfg.OAuth.Upstream.VerifyIdentity,
		Sessions:          s.Sessions,
		Limiter:           s.Limiter,
		Upstream:          upstream,
		Tokens:            s.Manager,
		Metrics:           s.Metrics,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Server, err = server.New(server.Config{
		Addr:     net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		OAuth:    oauth.NewHandler(s.Authorizer, s.Manager, cfg.Server.CallbackPath),
		Reauth:   s.Manager,
		Gatherer: s.Registry,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	logging.Info("Services", "Initialized: scopeMode=%s sessionStore=%s clients=%d tokens=%s",
		scopeMode, sessionStoreType(cfg.OAuth.SessionStore), len(cfg.OAuth.Clients), cfg.Tokens.Dir)
	return s, nil
}

func sessionStoreType(cfg config.SessionStoreConfig) string {
	if cfg.Type == "" {
		return "memory"
	}
	return cfg.Type
}

// initSessionStore selects the session store and rate limiter. Both share
// the backend so multi-instance deployments agree on state and limits.
func (s *Services) initSessionStore(ctx context.Context, cfg config.SessionStoreConfig) error {
	switch sessionStoreType(cfg) {
	case "redis":
		opts := &redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		if cfg.Redis.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)

		store := oauth.NewRedisSessionStore(client, cfg.Redis.KeyPrefix)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		s.redis = client
		s.Sessions = store
		s.Limiter = oauth.NewRedisRateLimiter(client, cfg.Redis.KeyPrefix)
		logging.Info("Services", "Using redis session store at %s", cfg.Redis.Address)
	default:
		store := oauth.NewMemorySessionStore(nil)
		s.sweeper = store
		s.Sessions = store
		s.Limiter = oauth.NewMemoryRateLimiter(nil)
		logging.Warn("Services", "Using in-memory session store (single instance only)")
	}
	return nil
}

// upstreamHTTPClient returns nil to use the default client unless a custom
// CA is configured.
func upstreamHTTPClient(cfg config.UpstreamConfig) (*http.Client, error) {
	if cfg.CAFile == "" {
		return nil, nil
	}
	client, err := server.NewHTTPClientWithCA(cfg.CAFile, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client with CA: %w", err)
	}
	logging.Info("Services", "Using custom CA for identity provider TLS verification: %s", cfg.CAFile)
	return client, nil
}

// newUpstream builds the identity provider client. A custom provider given
// only an issuer has its endpoints discovered first.
func newUpstream(ctx context.Context, cfg *config.Config, httpClient *http.Client) (*oauth.OAuth2Upstream, error) {
	up := cfg.OAuth.Upstream
	authURL, tokenURL := up.AuthURL, up.TokenURL

	if up.Provider == "custom" && (authURL == "" || tokenURL == "") {
		var opts []pkgoauth.DiscovererOption
		if httpClient != nil {
			opts = append(opts, pkgoauth.WithHTTPClient(httpClient))
		}
		metadata, err := pkgoauth.NewDiscoverer(opts...).Discover(ctx, up.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover endpoints for issuer %s: %w", up.Issuer, err)
		}
		if !metadata.SupportsPKCE() {
			logging.Warn("Services", "Issuer %s does not advertise S256 PKCE support", up.Issuer)
		}
		if !metadata.SupportsRefresh() {
			logging.Warn("Services", "Issuer %s does not advertise the refresh_token grant", up.Issuer)
		}
		if authURL == "" {
			authURL = metadata.AuthorizationEndpoint
		}
		if tokenURL == "" {
			tokenURL = metadata.TokenEndpoint
		}
	}

	return oauth.NewOAuth2Upstream(oauth.UpstreamOptions{
		Provider:     up.Provider,
		AuthURL:      authURL,
		TokenURL:     tokenURL,
		ClientID:     up.ClientID,
		ClientSecret: up.ClientSecret,
		RedirectURL:  strings.TrimSuffix(cfg.Server.PublicURL, "/") + cfg.Server.CallbackPath,
		Timeout:      up.Timeout,
		HTTPClient:   httpClient,
	}), nil
}

// OpenTokenManager builds just the token store and Manager for offline
// administration. The background loop is not started.
func OpenTokenManager(ctx context.Context, cfg *config.Config) (*oauth.Manager, error) {
	httpClient, err := upstreamHTTPClient(cfg.OAuth.Upstream)
	if err != nil {
		return nil, err
	}
	upstream, err := newUpstream(ctx, cfg, httpClient)
	if err != nil {
		return nil, err
	}
	store, err := oauth.NewEncryptedTokenStore(cfg.Tokens.Dir, cfg.Tokens.EncryptionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}
	return oauth.NewManager(oauth.ManagerConfig{
		Store:            store,
		Upstream:         upstream,
		RefreshThreshold: cfg.Tokens.RefreshThreshold,
		Retry: oauth.RetryPolicy{
			MaxAttempts:     cfg.Tokens.Retry.MaxAttempts,
			InitialInterval: cfg.Tokens.Retry.InitialInterval,
			MaxInterval:     cfg.Tokens.Retry.MaxInterval,
		},
	})
}

func clientRegistrations(clients []config.ClientConfig) []oauth.ClientRegistration {
	out := make([]oauth.ClientRegistration, 0, len(clients))
	for _, c := range clients {
		out = append(out, oauth.ClientRegistration{
			ClientID:     c.ClientID,
			RedirectURIs: append([]string(nil), c.RedirectURIs...),
			Public:       c.Public,
			Secret:       c.Secret,
		})
	}
	return out
}

// Close releases connections held by services that were built but never
// started, or after Stop.
func (s *Services) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logging.Warn("Services", "Error closing redis client: %v", err)
		}
		s.redis = nil
	}
}
