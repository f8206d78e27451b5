package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// rateLimitByIP limits requests per resolved client address.
func rateLimitByIP(resolver *ClientIPResolver, limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return resolver.Resolve(r), nil
		}),
		httprate.WithLimitHandler(limitExceeded(window)),
	)
}

// rateLimitByUser limits requests per authenticated user. It must run after
// RequireAuth.
func rateLimitByUser(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := GetIdentity(r); id != nil {
				return "user:" + strconv.FormatInt(id.UserID, 10), nil
			}
			return "anonymous", nil
		}),
		httprate.WithLimitHandler(limitExceeded(window)),
	)
}

func limitExceeded(window time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(retryAfterSeconds(window))
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", retryAfter)
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, "Too many requests, please try again later")
	}
}

func retryAfterSeconds(window time.Duration) int {
	if window <= 0 {
		return 1
	}
	return int(math.Ceil(window.Seconds()))
}
