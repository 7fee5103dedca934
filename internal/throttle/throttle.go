package throttle

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/clinicops/clinic-portal/internal/audit"
	"github.com/maypok86/otter/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const maxClients = 10_000

// Limiter applies a token bucket per client address. Buckets for clients
// that have been quiet for the idle period are evicted.
type Limiter struct {
	limit    rate.Limit
	burst    int
	limiters *otter.Cache[string, *rate.Limiter]
}

// New returns a limiter allowing perMinute requests per client, with the
// given burst.
func New(perMinute, burst int, idle time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limit: rate.Every(time.Minute / time.Duration(max(perMinute, 1))),
		burst: burst,
		limiters: otter.Must(&otter.Options[string, *rate.Limiter]{
			MaximumSize:      maxClients,
			ExpiryCalculator: otter.ExpiryAccessing[string, *rate.Limiter](idle),
		}),
	}
}

// Allow reports whether the client may proceed, and if not how long until it
// may.
func (l *Limiter) Allow(client string) (bool, time.Duration) {
	limiter, ok := l.limiters.GetIfPresent(client)
	if !ok {
		limiter, _ = l.limiters.SetIfAbsent(client, rate.NewLimiter(l.limit, l.burst))
	}

	reservation := limiter.Reserve()
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return false, delay
	}

	return true, 0
}

// Middleware rejects requests over the limit with 429.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddress(r)

			allowed, retryAfter := l.Allow(client)
			if !allowed {
				audit.Log(r.Context()).Error = "rate limit exceeded"
				log.Ctx(r.Context()).Warn().Str("client", client).Msg("rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())+1))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "too many booking attempts, try again later",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
