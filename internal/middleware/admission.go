package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ledgerly-hq/ledgerly/internal/api"
	"github.com/ledgerly-hq/ledgerly/internal/auth"
	"github.com/ledgerly-hq/ledgerly/internal/quota"
)

// Admission gates every request through the quota engine. The host app
// mounts it on its resource routes, after auth.
//
// The concurrency slot taken on admission is released in a defer, so it is
// returned on every exit path: normal completion, handler error, client
// cancellation, or a panic unwinding toward the recovery middleware. Leaking
// a slot would silently shrink the user's effective concurrency limit.
//
// Storage failures deny the request with a 503: admission control fails
// closed, because admitting on error would make every budget unenforceable.
func Admission(engine *quota.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserID(r.Context())
			if !ok {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			endpoint := routePattern(r)
			decision, release, err := engine.CheckAndAdmit(r.Context(), userID, endpoint)
			if err != nil {
				if errors.Is(err, quota.ErrStorage) {
					api.HandleError(w, api.ErrServiceUnavailable)
					return
				}
				api.HandleError(w, api.ErrInternalServer)
				return
			}
			defer release()

			if !decision.Admitted {
				writeDenial(w, decision)
				return
			}

			setRemainingHeaders(w, decision)
			next.ServeHTTP(w, r)
		})
	}
}

func writeDenial(w http.ResponseWriter, decision *quota.AdmitDecision) {
	w.Header().Set("X-Quota-Denied-By", string(decision.Reason))
	api.JSON(w, http.StatusTooManyRequests, decision)
}

func setRemainingHeaders(w http.ResponseWriter, decision *quota.AdmitDecision) {
	w.Header().Set("X-RateLimit-Remaining-Hour", strconv.FormatInt(decision.Remaining.Hour, 10))
	w.Header().Set("X-RateLimit-Remaining-Day", strconv.FormatInt(decision.Remaining.Day, 10))
	w.Header().Set("X-RateLimit-Remaining-Month", strconv.FormatInt(decision.Remaining.Month, 10))
}
