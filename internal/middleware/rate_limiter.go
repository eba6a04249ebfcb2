package middleware

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

// idleLimiterTTL is how long a client's limiter survives without requests
const idleLimiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles admin API clients, keyed by remote host
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	rate      rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
	logger    *logger.Logger
}

// NewRateLimiter creates a limiter allowing requestsPerSecond per client with
// the given burst
func NewRateLimiter(requestsPerSecond float64, burst int, log *logger.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		now:      time.Now,
		logger:   log.WithField("middleware", "rate_limiter"),
	}
}

// allow reports whether the client may proceed, sweeping idle clients at
// most once per TTL
func (rl *RateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > idleLimiterTTL {
		for key, cl := range rl.limiters {
			if now.Sub(cl.lastSeen) > idleLimiterTTL {
				delete(rl.limiters, key)
			}
		}
		rl.lastSweep = now
	}

	cl, ok := rl.limiters[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[client] = cl
	}
	cl.lastSeen = now

	return cl.limiter.AllowN(now, 1)
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Middleware rejects requests over the limit with 429
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	limit := fmt.Sprintf("%.2f", float64(rl.rate))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientHost(r)
			w.Header().Set("X-RateLimit-Limit", limit)

			if !rl.allow(client) {
				rl.logger.WithFields(map[string]interface{}{
					"client": client,
					"path":   r.URL.Path,
					"method": r.Method,
				}).Warn("Rate limit exceeded")

				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientHost strips the port from RemoteAddr. Forwarding headers are not
// trusted: the admin API is not meant to sit behind a proxy.
func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
