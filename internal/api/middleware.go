package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/ignite/mailtrack/internal/pkg/httputil"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	limiterhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// APIKeyHeader carries the management API key.
const APIKeyHeader = "X-API-Key"

// requireAPIKey rejects requests whose X-API-Key does not match key. An empty
// key locks the API entirely.
func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httputil.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// newRateLimiter builds the /api rate limit middleware. Limits are shared
// across replicas when a Redis client is given and per-process otherwise.
func newRateLimiter(formatted string, client *redis.Client) (func(http.Handler) http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate limit %q: %w", formatted, err)
	}

	var store limiter.Store
	if client != nil {
		store, err = limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{
			Prefix: "mailtrack:ratelimit",
		})
		if err != nil {
			return nil, fmt.Errorf("redis rate limit store: %w", err)
		}
	} else {
		store = memory.NewStore()
	}

	mw := limiterhttp.NewMiddleware(limiter.New(store, rate),
		limiterhttp.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			httputil.TooManyRequests(w)
		}),
		limiterhttp.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("rate limiter unavailable", "error", err)
			httputil.Error(w, http.StatusServiceUnavailable, "rate limiter unavailable")
		}),
	)
	return mw.Handler, nil
}
