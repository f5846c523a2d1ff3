package tenant

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// MiddlewareOptions configures request authentication.
type MiddlewareOptions struct {
	// Header carrying the ingest API key. Defaults to X-Spanlight-Key.
	Header string
	// BypassPaths are served without authentication (health checks).
	BypassPaths []string
}

// Middleware authenticates every request via the resolver and scopes it to
// the resolved tenant. The key header is stripped before the request reaches
// handlers so it cannot leak into logs or downstream calls.
func Middleware(resolver Resolver, options MiddlewareOptions, next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if resolver == nil {
		return next
	}

	header := NormalizeHeaderName(options.Header)
	bypass := make(map[string]struct{}, len(options.BypassPaths))
	for _, path := range options.BypassPaths {
		bypass[path] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := bypass[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(header))
		if token == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing api key")
			return
		}

		identity, err := resolver.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrMissingAPIKey) || errors.Is(err, ErrInvalidAPIKey) {
				writeAuthError(w, http.StatusUnauthorized, "missing or invalid api key")
				return
			}
			writeAuthError(w, http.StatusServiceUnavailable, "api key verification unavailable")
			return
		}

		request := r.Clone(WithIdentity(r.Context(), identity))
		request.Header = r.Header.Clone()
		request.Header.Del(header)

		next.ServeHTTP(w, request)
	})
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
