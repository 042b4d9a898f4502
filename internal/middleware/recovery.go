package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/ledgerly-hq/ledgerly/internal/api"
)

// Recovery turns panics into 500 responses. Deferred cleanup below this
// middleware, the quota release included, has already run by the time the
// panic reaches here.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
					"stack", string(debug.Stack()),
				)
				api.HandleError(w, api.ErrInternalServer)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
