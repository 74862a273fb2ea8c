package middleware

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultFailuresPerMinute bounds rejected credentials per client address.
	DefaultFailuresPerMinute = 10

	// DefaultMaxTrackedClients caps the number of client addresses held in memory.
	DefaultMaxTrackedClients = 10000

	sweepInterval = time.Minute
	idleTTL       = 5 * time.Minute
)

// RateLimiter throttles clients that keep presenting bad API keys. Clients
// with no recorded failures are never limited.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*failureBucket
	limit      rate.Limit
	burst      int
	maxClients int
	stop       context.CancelFunc
}

type failureBucket struct {
	limiter *rate.Limiter
	touched time.Time
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithMaxTrackedClients overrides DefaultMaxTrackedClients.
func WithMaxTrackedClients(n int) RateLimitOption {
	return func(rl *RateLimiter) {
		if n > 0 {
			rl.maxClients = n
		}
	}
}

// NewRateLimiter allows perMinute failures per client before rejecting it. A
// non-positive perMinute uses DefaultFailuresPerMinute. Idle clients are
// swept until ctx is done or Stop is called.
func NewRateLimiter(ctx context.Context, perMinute int, opts ...RateLimitOption) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultFailuresPerMinute
	}

	ctx, stop := context.WithCancel(ctx)
	rl := &RateLimiter{
		clients:    make(map[string]*failureBucket),
		limit:      rate.Every(time.Minute / time.Duration(perMinute)),
		burst:      perMinute,
		maxClients: DefaultMaxTrackedClients,
		stop:       stop,
	}
	for _, opt := range opts {
		opt(rl)
	}

	go rl.sweepLoop(ctx)
	return rl
}

// Allow reports whether client may attempt authentication again.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.clients[client]
	if !ok {
		return true
	}
	bucket.touched = time.Now()
	return bucket.limiter.Tokens() >= 1
}

// RecordFailure charges one failure to client and reports whether the client
// is still within its budget.
func (rl *RateLimiter) RecordFailure(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	bucket, ok := rl.clients[client]
	if !ok {
		if len(rl.clients) >= rl.maxClients {
			rl.evictLocked()
		}
		bucket = &failureBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[client] = bucket
	}
	bucket.touched = now
	return bucket.limiter.AllowN(now, 1)
}

// Tracked returns the number of clients with recorded failures.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop ends the sweep goroutine.
func (rl *RateLimiter) Stop() {
	rl.stop()
}

func (rl *RateLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for client, bucket := range rl.clients {
		if now.Sub(bucket.touched) > idleTTL {
			delete(rl.clients, client)
		}
	}
}

// evictLocked drops the least recently seen client.
func (rl *RateLimiter) evictLocked() {
	var (
		victim string
		oldest time.Time
	)
	for client, bucket := range rl.clients {
		if victim == "" || bucket.touched.Before(oldest) {
			victim, oldest = client, bucket.touched
		}
	}
	delete(rl.clients, victim)
}

// ClientIP strips the port from a host:port address.
func ClientIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
