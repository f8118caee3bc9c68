package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sheetgate/internal/oauth"
	"sheetgate/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default timeout for writing responses. It
	// covers a callback's upstream code exchange.
	DefaultWriteTimeout = 60 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second

	// RequestIDHeader carries the per-request correlation id.
	RequestIDHeader = "X-Request-ID"

	// maxRequestIDLength caps caller supplied request ids.
	maxRequestIDLength = 64
)

// ReauthReporter lists principals that need interactive sign-in.
// *oauth.Manager implements it.
type ReauthReporter interface {
	ReauthRequired() []string
}

// Config wires the HTTP server to the authorization subsystem.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string

	// OAuth serves the authorize, callback, token and status routes.
	OAuth *oauth.Handler

	// Reauth feeds the health endpoint. Optional.
	Reauth ReauthReporter

	// Gatherer is exposed on /metrics. Optional.
	Gatherer prometheus.Gatherer
}

// HTTPServer serves the sheetgate HTTP surface.
type HTTPServer struct {
	config     Config
	handler    http.Handler
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	errCh    chan error
}

// New builds the server and its routes. Call Start to listen.
func New(cfg Config) (*HTTPServer, error) {
	if cfg.OAuth == nil {
		return nil, errors.New("server requires an OAuth handler")
	}
	s := &HTTPServer{config: cfg, errCh: make(chan error, 1)}
	s.handler = withRequestID(s.CreateMux())
	return s, nil
}

// CreateMux registers the health, metrics and OAuth routes.
func (s *HTTPServer) CreateMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint for liveness checks (unauthenticated)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.config.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}

	s.config.OAuth.Register(mux)
	logging.Info("Server", "Registered OAuth endpoints")

	return mux
}

// Handler returns the root handler, middleware included.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

type healthResponse struct {
	Status         string   `json:"status"`
	ReauthRequired []string `json:"reauthRequired,omitempty"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.config.Reauth != nil {
		pending := s.config.Reauth.ReauthRequired()
		sort.Strings(pending)
		for _, p := range pending {
			resp.ReauthRequired = append(resp.ReauthRequired, logging.TruncateID(p))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Start binds the listener and serves in the background. It returns once the
// socket is bound, so callers can report readiness.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.New("server already started")
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	httpServer := s.httpServer
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Server", err, "HTTP server stopped unexpectedly")
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()

	logging.Info("Server", "Listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Errors reports a failure of the serving goroutine.
func (s *HTTPServer) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}
	logging.Info("Server", "Shutting down HTTP server")
	return httpServer.Shutdown(ctx)
}

// withRequestID tags each request with a correlation id and logs its outcome.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(withRequestIDValue(r.Context(), id)))

		logging.Debug("Server", "%s %s -> %d (%s) request_id=%s",
			r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond), id)
	})
}

type requestIDKey struct{}

func withRequestIDValue(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation id attached by the server, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Server", "Failed to write response: %v", err)
	}
}
