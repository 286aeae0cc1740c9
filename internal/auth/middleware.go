// Package auth provides a simple API-key / bearer-token / HTTP Basic
// authentication wrapper for the query HTTP surface.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// AuthMiddleware authenticates incoming HTTP requests against a static
// API key and/or a set of bearer tokens.
//
// Adapted from the reference safekeeper's auth middleware
// (internal/auth/middleware.go) — the page-server subtree of the teacher
// references an internal/auth package in its server wiring but never
// defines one, so this package follows the sibling component that
// actually implements the same contract.
type AuthMiddleware struct {
	apiKey     string
	authTokens map[string]bool
	tokensMu   sync.RWMutex
	enabled    bool
}

// NewAuthMiddleware builds middleware accepting apiKey via the
// X-API-Key header and/or any token in the comma-separated authTokens
// list via a bearer token or HTTP Basic password. Passing both empty
// disables authentication entirely.
func NewAuthMiddleware(apiKey string, authTokens string) *AuthMiddleware {
	a := &AuthMiddleware{authTokens: make(map[string]bool)}

	if apiKey != "" {
		a.apiKey = apiKey
		a.enabled = true
	}

	if authTokens != "" {
		for _, token := range strings.Split(authTokens, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				a.authTokens[token] = true
			}
		}
		a.enabled = true
	}

	return a
}

// IsEnabled reports whether any credential was configured.
func (a *AuthMiddleware) IsEnabled() bool {
	return a.enabled
}

// Authenticate checks r's credentials against the configured API key
// and token set.
func (a *AuthMiddleware) Authenticate(r *http.Request) bool {
	if !a.enabled {
		return true
	}

	if a.apiKey != "" {
		if key := r.Header.Get("X-API-Key"); key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) == 1 {
			return true
		}
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case "bearer":
		a.tokensMu.RLock()
		valid := a.authTokens[parts[1]]
		a.tokensMu.RUnlock()
		return valid

	case "basic":
		decoded, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return false
		}
		credentials := strings.SplitN(string(decoded), ":", 2)
		if len(credentials) != 2 {
			return false
		}
		if a.apiKey != "" && subtle.ConstantTimeCompare([]byte(credentials[1]), []byte(a.apiKey)) == 1 {
			return true
		}
		a.tokensMu.RLock()
		valid := a.authTokens[credentials[1]]
		a.tokensMu.RUnlock()
		return valid
	}

	return false
}

// Middleware wraps next, rejecting unauthenticated requests with a JSON
// 401 before next ever runs.
func (a *AuthMiddleware) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Authenticate(r) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Basic realm="Page Server"`)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "error",
				"error":  "authentication required",
			})
			return
		}
		next(w, r)
	}
}

// AddToken registers token as valid and enables authentication.
func (a *AuthMiddleware) AddToken(token string) {
	a.tokensMu.Lock()
	defer a.tokensMu.Unlock()
	a.authTokens[token] = true
	a.enabled = true
}

// RemoveToken revokes token.
func (a *AuthMiddleware) RemoveToken(token string) {
	a.tokensMu.Lock()
	defer a.tokensMu.Unlock()
	delete(a.authTokens, token)
}
