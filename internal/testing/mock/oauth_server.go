package mock

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OAuthServerConfig configures the mock identity provider.
type OAuthServerConfig struct {
	// ClientID is the expected OAuth client ID
	ClientID string

	// ClientSecret is the expected client secret (optional)
	ClientSecret string

	// TokenLifetime is how long access tokens remain valid
	TokenLifetime time.Duration

	// PKCERequired rejects authorize requests without an S256 challenge
	PKCERequired bool

	// AutoApprove redirects straight back with a code instead of rendering a consent page
	AutoApprove bool

	// RotateRefreshTokens issues a new refresh token on every refresh
	RotateRefreshTokens bool

	// OmitRefreshToken leaves refresh_token out of code exchange responses
	OmitRefreshToken bool

	// Subject and Email name the account that approves authorizations until
	// SetIdentity changes it
	Subject string
	Email   string

	// OmitIDToken leaves id_token out of code exchange responses even when
	// openid was requested
	OmitIDToken bool

	// Clock is the clock to use for time operations (defaults to RealClock)
	Clock Clock

	// Debug enables debug logging
	Debug bool
}

// OAuthErrorSimulation allows simulating error conditions at the token endpoint.
type OAuthErrorSimulation struct {
	// InvalidGrant rejects every grant with invalid_grant
	InvalidGrant bool

	// ServerError answers every token request with 503
	ServerError bool

	// FailRequests answers the next N token requests with 503, then recovers
	FailRequests int

	// Delay is added before every token response
	Delay time.Duration
}

// OAuthServer is a mock OAuth 2.1 authorization server that behaves like the
// subset of an upstream identity provider the gateway talks to.
type OAuthServer struct {
	config     OAuthServerConfig
	httpServer *http.Server
	listener   net.Listener
	baseURL    string
	running    bool
	mu         sync.RWMutex

	simulation    OAuthErrorSimulation
	authCodes     map[string]*authCodeEntry
	refreshTokens map[string]*issuedToken
	refreshCount  int
	exchangeCount int

	subject    string
	email      string
	signingKey []byte

	clock Clock
}

type authCodeEntry struct {
	ClientID        string
	RedirectURI     string
	Scope           string
	CodeChallenge   string
	ChallengeMethod string
	Subject         string
	Email           string
	CreatedAt       time.Time
}

type issuedToken struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ClientID     string
	ExpiresAt    time.Time
}

// TokenResponse is the OAuth token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// NewOAuthServer creates a new mock OAuth server
func NewOAuthServer(config OAuthServerConfig) *OAuthServer {
	if config.TokenLifetime == 0 {
		config.TokenLifetime = 1 * time.Hour
	}
	if config.ClientID == "" {
		config.ClientID = "test-client"
	}
	if config.Subject == "" {
		config.Subject = "100000000000000000001"
	}
	if config.Email == "" {
		config.Email = "user@example.com"
	}

	// Use the provided clock or default to RealClock
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}

	return &OAuthServer{
		config:        config,
		authCodes:     make(map[string]*authCodeEntry),
		refreshTokens: make(map[string]*issuedToken),
		subject:       config.Subject,
		email:         config.Email,
		signingKey:    []byte(generateOpaqueToken()),
		clock:         clock,
	}
}

// Start starts the OAuth server on a random loopback port.
func (s *OAuthServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.baseURL = "http://" + listener.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleMetadata)
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/token", s.handleToken)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          log.New(io.Discard, "", 0),
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			if s.config.Debug {
				fmt.Fprintf(os.Stderr, "OAuth server error: %v\n", err)
			}
		}
	}()

	s.running = true
	return nil
}

// Stop stops the OAuth server
func (s *OAuthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.running = false
	return err
}

// BaseURL returns the server's root URL.
func (s *OAuthServer) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL
}

// GetAuthorizeURL returns the authorization endpoint URL
func (s *OAuthServer) GetAuthorizeURL() string {
	return s.BaseURL() + "/authorize"
}

// GetTokenURL returns the token endpoint URL
func (s *OAuthServer) GetTokenURL() string {
	return s.BaseURL() + "/token"
}

// GetClientID returns the expected client ID.
func (s *OAuthServer) GetClientID() string {
	return s.config.ClientID
}

// SetSimulation replaces the active error simulation.
func (s *OAuthServer) SetSimulation(sim OAuthErrorSimulation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.simulation = sim
}

// RefreshCount returns how many refresh_token grants reached the server.
func (s *OAuthServer) RefreshCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshCount
}

// ExchangeCount returns how many authorization_code grants reached the server.
func (s *OAuthServer) ExchangeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exchangeCount
}

// SetIdentity changes the account that approves later authorizations.
func (s *OAuthServer) SetIdentity(subject, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subject = subject
	s.email = email
}

// GenerateAuthCode generates an authorization code for testing.
// This simulates a user completing consent in the browser.
func (s *OAuthServer) GenerateAuthCode(clientID, redirectURI, scope, codeChallenge, codeChallengeMethod string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := generateOpaqueToken()
	s.authCodes[code] = &authCodeEntry{
		ClientID:        clientID,
		RedirectURI:     redirectURI,
		Scope:           scope,
		CodeChallenge:   codeChallenge,
		ChallengeMethod: codeChallengeMethod,
		Subject:         s.subject,
		Email:           s.email,
		CreatedAt:       s.clock.Now(),
	}
	return code
}

// ApproveAuthorizeURL parses an authorize URL the gateway produced and
// returns the code and state the provider would redirect back with.
func (s *OAuthServer) ApproveAuthorizeURL(authorizeURL string) (code, state string, err error) {
	u, err := url.Parse(authorizeURL)
	if err != nil {
		return "", "", err
	}
	q := u.Query()
	if q.Get("client_id") != s.config.ClientID {
		return "", "", fmt.Errorf("unexpected client_id %q", q.Get("client_id"))
	}
	code = s.GenerateAuthCode(q.Get("client_id"), q.Get("redirect_uri"), q.Get("scope"),
		q.Get("code_challenge"), q.Get("code_challenge_method"))
	return code, q.Get("state"), nil
}

// IssueRefreshToken registers a refresh token as if it had been issued by an
// earlier exchange.
func (s *OAuthServer) IssueRefreshToken(refreshToken, scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[refreshToken] = &issuedToken{
		RefreshToken: refreshToken,
		Scope:        scope,
		ClientID:     s.config.ClientID,
	}
}

// RevokeRefreshToken forgets a refresh token so later refreshes get invalid_grant.
func (s *OAuthServer) RevokeRefreshToken(refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshTokens, refreshToken)
}

// handleMetadata returns RFC 8414 server metadata
func (s *OAuthServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := s.BaseURL()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                           issuer,
		"authorization_endpoint":           issuer + "/authorize",
		"token_endpoint":                   issuer + "/token",
		"response_types_supported":         []string{"code"},
		"grant_types_supported":            []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported": []string{"S256"},
	})
}

// handleAuthorize handles authorization requests
func (s *OAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")
	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")

	if q.Get("response_type") != "code" {
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	}
	if clientID != s.config.ClientID {
		http.Error(w, "invalid_client", http.StatusBadRequest)
		return
	}
	if s.config.PKCERequired && (codeChallenge == "" || codeChallengeMethod != "S256") {
		http.Error(w, "PKCE required: S256 code_challenge missing", http.StatusBadRequest)
		return
	}

	code := s.GenerateAuthCode(clientID, redirectURI, q.Get("scope"), codeChallenge, codeChallengeMethod)

	if !s.config.AutoApprove {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "code=%s\nstate=%s\n", code, state)
		return
	}

	redirectURL, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	rq := redirectURL.Query()
	rq.Set("code", code)
	if state != "" {
		rq.Set("state", state)
	}
	redirectURL.RawQuery = rq.Encode()
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

// handleToken handles token exchange requests
func (s *OAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	grantType := r.PostForm.Get("grant_type")

	s.mu.Lock()
	sim := s.simulation
	switch grantType {
	case "authorization_code":
		s.exchangeCount++
	case "refresh_token":
		s.refreshCount++
	}
	failNow := sim.ServerError || s.simulation.FailRequests > 0
	if s.simulation.FailRequests > 0 {
		s.simulation.FailRequests--
	}
	s.mu.Unlock()

	if sim.Delay > 0 {
		select {
		case <-time.After(sim.Delay):
		case <-r.Context().Done():
			return
		}
	}
	if failNow {
		writeOAuthError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "try again later")
		return
	}
	if sim.InvalidGrant {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "grant has been revoked")
		return
	}
	if !s.authenticateClient(r) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	switch grantType {
	case "authorization_code":
		s.handleAuthCodeExchange(w, r)
	case "refresh_token":
		s.handleRefreshToken(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type",
			fmt.Sprintf("grant_type %s not supported", grantType))
	}
}

func (s *OAuthServer) authenticateClient(r *http.Request) bool {
	clientID, secret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostForm.Get("client_id")
		secret = r.PostForm.Get("client_secret")
	}
	if clientID != s.config.ClientID {
		return false
	}
	return s.config.ClientSecret == "" || secret == s.config.ClientSecret
}

func (s *OAuthServer) handleAuthCodeExchange(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")
	codeVerifier := r.PostForm.Get("code_verifier")

	s.mu.Lock()
	entry, exists := s.authCodes[code]
	if exists {
		delete(s.authCodes, code)
	}
	s.mu.Unlock()

	if !exists {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code not found or expired")
		return
	}
	if entry.CodeChallenge != "" && !verifyPKCE(entry.CodeChallenge, entry.ChallengeMethod, codeVerifier) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier verification failed")
		return
	}

	token := s.issue(entry.ClientID, entry.Scope, generateOpaqueToken())
	resp := s.response(token)
	if !s.config.OmitIDToken && hasScope(entry.Scope, "openid") {
		idToken, err := s.signIDToken(entry)
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		resp.IDToken = idToken
	}
	if s.config.OmitRefreshToken {
		resp.RefreshToken = ""
	} else {
		s.mu.Lock()
		s.refreshTokens[token.RefreshToken] = token
		s.mu.Unlock()
	}
	writeTokenResponse(w, resp)
}

func (s *OAuthServer) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.PostForm.Get("refresh_token")

	s.mu.Lock()
	original, ok := s.refreshTokens[refreshToken]
	if ok && s.config.RotateRefreshTokens {
		delete(s.refreshTokens, refreshToken)
	}
	s.mu.Unlock()

	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token not found")
		return
	}

	nextRefresh := refreshToken
	if s.config.RotateRefreshTokens {
		nextRefresh = generateOpaqueToken()
	}
	token := s.issue(original.ClientID, original.Scope, nextRefresh)

	s.mu.Lock()
	s.refreshTokens[nextRefresh] = token
	s.mu.Unlock()

	resp := s.response(token)
	if !s.config.RotateRefreshTokens {
		// Providers commonly omit the refresh token when it is unchanged.
		resp.RefreshToken = ""
	}
	writeTokenResponse(w, resp)
}

func (s *OAuthServer) issue(clientID, scope, refreshToken string) *issuedToken {
	return &issuedToken{
		AccessToken:  generateOpaqueToken(),
		RefreshToken: refreshToken,
		Scope:        scope,
		ClientID:     clientID,
		ExpiresAt:    s.clock.Now().Add(s.config.TokenLifetime),
	}
}

func (s *OAuthServer) response(token *issuedToken) TokenResponse {
	return TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.TokenLifetime.Seconds()),
		Scope:        token.Scope,
	}
}

// signIDToken issues an HS256 ID token for the account that approved entry.
func (s *OAuthServer) signIDToken(entry *authCodeEntry) (string, error) {
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"iss": s.BaseURL(),
		"sub": entry.Subject,
		"aud": entry.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(s.config.TokenLifetime).Unix(),
	}
	if entry.Email != "" {
		claims["email"] = entry.Email
		claims["email_verified"] = true
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

func hasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}

func writeTokenResponse(w http.ResponseWriter, resp TokenResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func verifyPKCE(challenge, method, verifier string) bool {
	if verifier == "" {
		return false
	}
	switch strings.ToUpper(method) {
	case "S256", "":
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]) == challenge
	default:
		return false
	}
}

func generateOpaqueToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
