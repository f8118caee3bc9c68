package oauth

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"sheetgate/pkg/logging"
	pkgstrings "sheetgate/pkg/strings"
)

// Default endpoint paths.
const (
	DefaultAuthorizePath = "/oauth/authorize"
	DefaultCallbackPath  = "/oauth/callback"
	DefaultTokenPath     = "/oauth/token"
	DefaultStatusPath    = "/oauth/status"
)

// Handler exposes the Authorizer and Manager over HTTP.
type Handler struct {
	authorizer   *Authorizer
	manager      *Manager
	callbackPath string
}

// NewHandler creates the OAuth HTTP handler. callbackPath defaults to
// DefaultCallbackPath.
func NewHandler(authorizer *Authorizer, manager *Manager, callbackPath string) *Handler {
	if callbackPath == "" {
		callbackPath = DefaultCallbackPath
	}
	return &Handler{
		authorizer:   authorizer,
		manager:      manager,
		callbackPath: callbackPath,
	}
}

// Register mounts the OAuth routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+DefaultAuthorizePath, h.HandleAuthorize)
	mux.HandleFunc("GET "+h.callbackPath, h.HandleCallback)
	mux.HandleFunc("POST "+DefaultTokenPath, h.HandleToken)
	mux.HandleFunc("DELETE "+DefaultTokenPath, h.HandleRevoke)
	mux.HandleFunc("GET "+DefaultStatusPath, h.HandleStatus)
}

// HandleAuthorize validates the downstream request and redirects the browser
// to the upstream provider.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := AuthorizationRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		ScopeMode:           q.Get("scope_mode"),
		Principal:           q.Get("principal"),
		ClientState:         q.Get("state"),
		RemoteAddr:          r.RemoteAddr,
	}

	target, err := h.authorizer.BeginAuthorization(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleCallback is called by the browser after the user consents upstream.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")

	if errorParam := q.Get("error"); errorParam != "" {
		logging.Warn("OAuth", "Identity provider returned error=%s description=%q on callback",
			pkgstrings.SingleLine(errorParam, pkgstrings.DefaultMaxLen),
			pkgstrings.SingleLine(q.Get("error_description"), pkgstrings.DefaultMaxLen))
		// Run the attempt without a code so its state is consumed and the
		// failure is classified like any other callback.
		code = ""
	}
	if state == "" {
		h.writeError(w, r, newError(KindInvalidState, "callback is missing the state parameter", nil))
		return
	}

	result, err := h.authorizer.CompleteCallback(r.Context(), code, state)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	logging.Info("OAuth", "Authorization completed for client=%s principal=%s",
		result.ClientID, logging.TruncateID(result.Principal))

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, result.Summary)
		return
	}
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// HandleToken redeems a downstream authorization code.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, newError(KindInvalidRequest, "request body is not a valid form", err))
		return
	}
	if gt := r.PostForm.Get("grant_type"); gt != "authorization_code" {
		writeJSONError(w, newError(KindInvalidRequest, fmt.Sprintf("unsupported grant_type %q", gt), nil))
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostForm.Get("client_id")
		clientSecret = r.PostForm.Get("client_secret")
	}

	summary, err := h.authorizer.RedeemCode(r.Context(), TokenRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         r.PostForm.Get("code"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
	})
	if err != nil {
		writeJSONError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, summary)
}

// HandleStatus reports a principal's credential without token values. The
// caller authenticates as a confidential client and only sees credentials it
// authorized.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.authenticateCaller(w, r)
	if !ok {
		return
	}
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		writeJSONError(w, newError(KindInvalidRequest, "principal is required", nil))
		return
	}
	status, err := h.manager.StatusFor(r.Context(), principal, clientID)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleRevoke deletes a principal's stored credential if the calling
// client authorized it.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.authenticateCaller(w, r)
	if !ok {
		return
	}
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		writeJSONError(w, newError(KindInvalidRequest, "principal is required", nil))
		return
	}
	if _, err := h.manager.RevokeOwned(r.Context(), principal, clientID); err != nil {
		writeJSONError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authenticateCaller checks HTTP Basic client credentials and answers 401
// when they are missing or wrong.
func (h *Handler) authenticateCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	clientID, secret, ok := r.BasicAuth()
	var err error = newError(KindInvalidClient, "client authentication required", nil)
	if ok {
		err = h.authorizer.AuthenticateClient(clientID, secret)
	}
	if err != nil {
		logging.Warn("OAuth", "Rejected unauthenticated %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", `Basic realm="sheetgate"`)
		writeJSONError(w, err)
		return "", false
	}
	return clientID, true
}

// errorBody is the structured error returned to programmatic callers.
type errorBody struct {
	Error            ErrorKind `json:"error"`
	ErrorDescription string    `json:"error_description"`
}

// writeError answers browsers with an HTML page and everyone else with JSON.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if wantsHTML(r) {
		renderErrorPage(w, HTTPStatus(KindOf(err)), MessageOf(err))
		return
	}
	writeJSONError(w, err)
}

func writeJSONError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	status := HTTPStatus(kind)
	if kind == "" {
		logging.Error("OAuth", err, "Request failed")
		kind = "server_error"
	}
	if kind == KindRateLimited {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, status, errorBody{Error: kind, ErrorDescription: MessageOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("OAuth", "Failed to write response: %v", err)
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}

// setSecurityHeaders sets recommended security headers for HTML responses.
// These headers help prevent XSS, clickjacking, and MIME sniffing attacks.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

// renderErrorPage renders an HTML page describing a failed sign-in.
func renderErrorPage(w http.ResponseWriter, status int, message string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	// Escape message to prevent XSS attacks
	safeMessage := html.EscapeString(message)

	page := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Sign-in Failed - Sheetgate</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #f4f6f8;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #202124;
        }
        .container {
            text-align: center;
            padding: 2.5rem;
            background: #fff;
            border-radius: 12px;
            border: 1px solid #dadce0;
            max-width: 480px;
            margin: 1rem;
        }
        h1 { font-size: 1.5rem; font-weight: 600; margin-bottom: 0.5rem; }
        .message { color: #c5221f; font-weight: 500; margin-top: 1rem; }
        p { color: #5f6368; line-height: 1.6; margin-top: 1rem; }
        .footer { margin-top: 2rem; font-size: 0.8rem; color: #9aa0a6; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Sign-in Failed</h1>
        <p class="message">%s</p>
        <p>Return to your application and start the sign-in again.</p>
        <div class="footer">Sheetgate</div>
    </div>
</body>
</html>`, safeMessage)

	_, _ = w.Write([]byte(page))
}
