package middleware

import (
	"github.com/go-chi/cors"
)

// CORS returns cors.Options for the quota API. The rate-limit headers are
// exposed so browser clients can read their remaining budget without an
// extra preflight call. If "*" is present, AllowCredentials is set to false
// (browsers reject Access-Control-Allow-Credentials: true with a wildcard
// origin).
func CORS(allowedOrigins []string) cors.Options {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://app.ledgerly.dev", "http://localhost:3000"}
	}

	allowCreds := true
	for _, o := range allowedOrigins {
		if o == "*" {
			allowCreds = false
			break
		}
	}

	return cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{
			"X-Request-ID",
			"X-RateLimit-Remaining-Hour",
			"X-RateLimit-Remaining-Day",
			"X-RateLimit-Remaining-Month",
			"X-Quota-Denied-By",
			"Retry-After",
		},
		AllowCredentials: allowCreds,
		MaxAge:           300,
	}
}
