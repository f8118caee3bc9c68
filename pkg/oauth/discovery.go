package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for discovery requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is the default TTL for cached server metadata.
	DefaultMetadataCacheTTL = 30 * time.Minute

	// maxMetadataBytes bounds a metadata document.
	maxMetadataBytes = 1 << 20
)

// Metadata is the subset of RFC 8414 authorization server metadata the
// gateway needs to talk to a custom identity provider.
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	GrantTypesSupported           []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsPKCE returns true if the server supports S256 PKCE.
func (m *Metadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == MethodS256 {
			return true
		}
	}
	// If not specified, assume S256 is supported (OAuth 2.1 requirement)
	return len(m.CodeChallengeMethodsSupported) == 0
}

// SupportsRefresh reports whether the refresh_token grant is advertised.
// RFC 8414 defaults grant_types_supported to authorization_code and implicit,
// but most providers omit the field while supporting refresh, so an empty
// list is accepted.
func (m *Metadata) SupportsRefresh() bool {
	if len(m.GrantTypesSupported) == 0 {
		return true
	}
	for _, grant := range m.GrantTypesSupported {
		if grant == "refresh_token" {
			return true
		}
	}
	return false
}

type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Discoverer fetches and caches authorization server metadata.
type Discoverer struct {
	httpClient *http.Client
	ttl        time.Duration

	mu    sync.RWMutex
	cache map[string]*metadataCacheEntry

	// deduplicates concurrent fetches for one issuer
	group singleflight.Group
}

// DiscovererOption configures a Discoverer.
type DiscovererOption func(*Discoverer)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) DiscovererOption {
	return func(d *Discoverer) {
		d.httpClient = httpClient
	}
}

// WithMetadataCacheTTL sets the metadata cache TTL.
func WithMetadataCacheTTL(ttl time.Duration) DiscovererOption {
	return func(d *Discoverer) {
		d.ttl = ttl
	}
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		ttl:        DefaultMetadataCacheTTL,
		cache:      make(map[string]*metadataCacheEntry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover fetches metadata for issuer. It tries RFC 8414
// (/.well-known/oauth-authorization-server) first and falls back to OpenID
// Connect discovery (/.well-known/openid-configuration).
func (d *Discoverer) Discover(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")
	if m := d.cached(issuer); m != nil {
		return m, nil
	}

	result, err, _ := d.group.Do(issuer, func() (any, error) {
		if m := d.cached(issuer); m != nil {
			return m, nil
		}
		return d.discover(ctx, issuer)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Metadata), nil
}

func (d *Discoverer) cached(issuer string) *Metadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if entry, ok := d.cache[issuer]; ok && time.Since(entry.fetchedAt) < d.ttl {
		return entry.metadata
	}
	return nil
}

func (d *Discoverer) discover(ctx context.Context, issuer string) (*Metadata, error) {
	var errs []error
	for _, path := range []string{"/.well-known/oauth-authorization-server", "/.well-known/openid-configuration"} {
		metadata, err := d.fetch(ctx, issuer+path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
			errs = append(errs, fmt.Errorf("%s: metadata lacks authorization or token endpoint", path))
			continue
		}
		if metadata.Issuer != "" && strings.TrimSuffix(metadata.Issuer, "/") != issuer {
			errs = append(errs, fmt.Errorf("%s: issuer mismatch (got %s)", path, metadata.Issuer))
			continue
		}

		d.mu.Lock()
		d.cache[issuer] = &metadataCacheEntry{metadata: metadata, fetchedAt: time.Now()}
		d.mu.Unlock()
		return metadata, nil
	}
	return nil, fmt.Errorf("failed to discover OAuth metadata for %s: %w", issuer, errors.Join(errs...))
}

func (d *Discoverer) fetch(ctx context.Context, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	var metadata Metadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataBytes)).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &metadata, nil
}

// ClearCache drops every cached document.
func (d *Discoverer) ClearCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]*metadataCacheEntry)
}
