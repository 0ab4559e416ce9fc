package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/santa-tracker/santa-gateway/internal/config"
	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/types"
)

const (
	defaultRateLimitBurst = 5
	minRateLimitTTL       = 30 * time.Second
)

type clientRateState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits generation requests per client IP
type RateLimiter struct {
	enabled bool
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	paths   map[string]bool

	mu      sync.Mutex
	clients map[string]*clientRateState
}

// NewRateLimiter creates a limiter for POST requests to paths. A zero
// requests-per-minute setting disables it.
func NewRateLimiter(cfg config.RateLimitConfig, paths ...string) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		return &RateLimiter{}
	}

	burst := cfg.Burst
	if burst < 1 {
		burst = defaultRateLimitBurst
	}
	ttl := time.Duration(cfg.ClientTTL) * time.Second
	if ttl < minRateLimitTTL {
		ttl = minRateLimitTTL
	}

	rl := &RateLimiter{
		enabled: true,
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:   burst,
		ttl:     ttl,
		paths:   make(map[string]bool, len(paths)),
		clients: make(map[string]*clientRateState),
	}
	for _, p := range paths {
		rl.paths[p] = true
	}

	logger.Infof("Rate limiting enabled (rpm=%d burst=%d ttl=%s)", cfg.RequestsPerMinute, burst, ttl)
	return rl
}

// Enabled reports whether requests are limited at all
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.enabled
}

func (rl *RateLimiter) allow(clientKey string) bool {
	now := time.Now()
	cutoff := now.Add(-rl.ttl)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, state := range rl.clients {
		if state.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}

	state, ok := rl.clients[clientKey]
	if !ok {
		state = &clientRateState{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientKey] = state
	}
	state.lastSeen = now

	return state.limiter.Allow()
}

// Middleware rejects limited requests with a RateLimited envelope
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Enabled() || c.Request.Method != http.MethodPost || !rl.paths[c.Request.URL.Path] {
			c.Next()
			return
		}

		clientIP := strings.TrimSpace(c.ClientIP())
		if clientIP == "" {
			clientIP = "unknown"
		}

		if !rl.allow(clientIP) {
			c.Header("Retry-After", "1")
			Error(c, types.New(types.ErrRateLimited, "rate limit exceeded"))
			return
		}

		c.Next()
	}
}
