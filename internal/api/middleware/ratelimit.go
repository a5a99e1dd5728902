package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/coldcrate/fridgevision/internal/api/response"
	"github.com/coldcrate/fridgevision/internal/cache"
)

const defaultRequestsPerMinute = 60

// rateLimitWindow is the fixed counting window. Snapshot status polling is
// the traffic that matters here: one upload fans out into many polls, so
// the budget has to cover a full processing cycle of them.
const rateLimitWindow = 60 * time.Second

// RateLimit counts requests per API key prefix in Redis over a fixed
// window. The prefix identifies the key without holding its secret, so the
// counter key is safe to log alongside the status mirror's keyspace.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
}

func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin}
}

// Limit enforces the per-key budget. Requests without a key prefix (the
// auth middleware did not run, as on /health) pass through uncounted, and
// so does every request while Redis is down: the limiter protects the
// vision provider and the database, it is not a correctness gate.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix), rateLimitWindow)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateLimitWindow).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow/time.Second)))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
