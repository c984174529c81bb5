// Package middleware holds the HTTP middleware shared by the router.
package middleware

import (
	"net/http"
	"strings"
)

// CORSOptions 描述跨域策略。空的 AllowedOrigins 允许任意来源。
type CORSOptions struct {
	AllowedOrigins []string
}

// CORS returns a middleware that answers preflight requests and sets the
// Access-Control headers for allowed origins.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowed[origin]; ok || len(allowed) == 0 {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
					h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
