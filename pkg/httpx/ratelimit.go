package httpx

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines a token-bucket profile.
type RateLimitConfig struct {
	// RequestsPerWindow is the sustained number of requests per Window.
	RequestsPerWindow int
	// Window is the time window the sustained rate is measured over.
	Window time.Duration
	// Burst allows short spikes above the sustained rate.
	Burst int
}

// StrictLimit suits credential-adjacent endpoints (login, refresh
// redemption) where brute force is the concern.
var StrictLimit = RateLimitConfig{
	RequestsPerWindow: 5,
	Window:            time.Minute,
	Burst:             5,
}

// ModerateLimit suits authenticated operations.
var ModerateLimit = RateLimitConfig{
	RequestsPerWindow: 60,
	Window:            time.Minute,
	Burst:             60,
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit enforces a per-client-IP token bucket. Idle entries are
// dropped after ten minutes to keep the map bounded.
func RateLimit(cfg RateLimitConfig) Middleware {
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)

	limit := rate.Every(cfg.Window / time.Duration(cfg.RequestsPerWindow))

	go func() {
		for range time.Tick(time.Minute) {
			mu.Lock()
			for ip, v := range visitors {
				if time.Since(v.lastSeen) > 10*time.Minute {
					delete(visitors, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			mu.Lock()
			v, ok := visitors[ip]
			if !ok {
				v = &visitor{limiter: rate.NewLimiter(limit, cfg.Burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()

			if !v.limiter.Allow() {
				w.Header().Set("Retry-After", "60")
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
