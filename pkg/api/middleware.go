package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GlobalRateLimiter manages per-IP rate limiters.
type GlobalRateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	stop     chan struct{}
	once     sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGlobalRateLimiter allows rps requests per second per client IP with the
// given burst. Call Close to stop the idle-visitor sweeper.
func NewGlobalRateLimiter(rps int, burst int) *GlobalRateLimiter {
	rl := &GlobalRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		stop:     make(chan struct{}),
	}
	go rl.cleanupVisitors()
	return rl
}

func (rl *GlobalRateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.visitors[ip] = &visitor{limiter, time.Now()}
		return limiter
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors drops entries idle for more than 3 minutes.
func (rl *GlobalRateLimiter) cleanupVisitors() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-t.C:
		}
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *GlobalRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// Middleware enforces the per-IP limit.
func (rl *GlobalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getVisitor(ClientIP(r)).Allow() {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP is the remote address without port or IPv6 brackets.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}

// LimiterStore decides whether actor may spend cost tokens.
type LimiterStore interface {
	Allow(ctx context.Context, actorID string, perMinute, burst, cost int) (bool, error)
}

// ActorFunc names the actor a request is charged to.
type ActorFunc func(r *http.Request) string

// WithLimiterStore charges each request one token against store. Store
// errors fail closed.
func WithLimiterStore(store LimiterStore, perMinute, burst int, actor ActorFunc) func(http.Handler) http.Handler {
	if actor == nil {
		actor = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := store.Allow(r.Context(), actor(r), perMinute, burst, 1)
			if err != nil {
				slog.ErrorContext(r.Context(), "limiter store failed", "error", err)
				WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Rate limiter unavailable")
				return
			}
			if !ok {
				WriteTooManyRequests(w, 60/max(perMinute, 1)+1)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MemoryLimiterStore is the single-process LimiterStore.
type MemoryLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMemoryLimiterStore() *MemoryLimiterStore {
	return &MemoryLimiterStore{limiters: make(map[string]*rate.Limiter)}
}

func (m *MemoryLimiterStore) Allow(_ context.Context, actorID string, perMinute, burst, cost int) (bool, error) {
	m.mu.Lock()
	l, ok := m.limiters[actorID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(max(perMinute, 1))/60), max(burst, 1))
		m.limiters[actorID] = l
	}
	m.mu.Unlock()
	return l.AllowN(time.Now(), cost), nil
}
