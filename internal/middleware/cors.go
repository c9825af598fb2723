package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

// CORS builds the options for the web clients. Credentials are only allowed
// with an explicit origin list; browsers reject them alongside "*".
func CORS(allowedOrigins []string) cors.Options {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	return cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           600,
	}
}
