package oauth

import (
	"net"
	"net/url"
	"strings"
)

type redirectTarget struct {
	scheme     string
	host       string
	port       string
	path       string
	rawQuery   string
	forceQuery bool
}

// parseRedirectTarget normalises scheme, host and port. Path and query are
// kept byte-for-byte. Userinfo, fragments and opaque URLs are rejected.
func parseRedirectTarget(raw string) (redirectTarget, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Opaque != "" || u.User != nil || u.Host == "" {
		return redirectTarget{}, false
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return redirectTarget{}, false
	}

	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "https":
			port = "443"
		case "http":
			port = "80"
		}
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return redirectTarget{
		scheme:     scheme,
		host:       strings.ToLower(u.Hostname()),
		port:       port,
		path:       path,
		rawQuery:   u.RawQuery,
		forceQuery: u.ForceQuery,
	}, true
}

// matchRedirectURI reports whether requested equals one of the registered
// URIs by exact origin (scheme, host, port) and exact path. Any difference in
// query string rejects the match, and a fragment always does.
func matchRedirectURI(registered []string, requested string) bool {
	want, ok := parseRedirectTarget(requested)
	if !ok {
		return false
	}
	for _, candidate := range registered {
		have, ok := parseRedirectTarget(candidate)
		if ok && have == want {
			return true
		}
	}
	return false
}

// appendQuery adds params to a redirect URI without disturbing its path.
func appendQuery(raw string, params url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// clientKey builds the rate-limit key from a client id and remote address.
func clientKey(clientID, remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	return clientID + "|" + host
}
