package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var (
	// ErrGuardUnavailable indicates the guard backend is unreachable.
	// Callers treat it as a block, never as an allow.
	ErrGuardUnavailable = errors.New("guard backend unavailable")
)

// Config holds guard tuning parameters.
type Config struct {
	// MaxFailures is the number of failed attempts tolerated inside one
	// window before a lockout begins.
	MaxFailures int
	// Window bounds the failure counter. Counters reset when the window
	// elapses without a lockout.
	Window time.Duration
	// BaseLockout is the first lockout duration. Each consecutive
	// lockout doubles it, capped by MaxLockout.
	BaseLockout time.Duration
	// MaxLockout caps the exponential backoff.
	MaxLockout time.Duration
	// GlobalRate optionally bounds attempts across all keys in this
	// process. Zero disables the pre-filter.
	GlobalRate  rate.Limit
	GlobalBurst int
}

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait, set only when
	// Allowed is false and a lockout TTL is known.
	RetryAfter time.Duration
}

// Guard tracks failed authentication attempts per principal and per
// origin. Either dimension tripping its threshold blocks the attempt.
type Guard struct {
	redis  redis.UniversalClient
	config Config
	prefix string

	// limiter is a process-local pre-filter that sheds floods before
	// they reach Redis. Nil when disabled.
	limiter *rate.Limiter
}

// New creates a [Guard]. prefix namespaces keys; it defaults to "gd".
func New(redisClient redis.UniversalClient, cfg Config, prefix string) *Guard {
	if prefix == "" {
		prefix = "gd"
	}
	g := &Guard{redis: redisClient, config: cfg, prefix: prefix}
	if cfg.GlobalRate > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRate)
		}
		g.limiter = rate.NewLimiter(cfg.GlobalRate, burst)
	}
	return g
}

func (g *Guard) failKey(dimension, id string) string {
	return g.prefix + ":f:" + dimension + ":" + id
}

func (g *Guard) lockKey(dimension, id string) string {
	return g.prefix + ":l:" + dimension + ":" + id
}

func (g *Guard) strikeKey(dimension, id string) string {
	return g.prefix + ":s:" + dimension + ":" + id
}

// Check reports whether an attempt for the principal+origin pair may
// proceed. It does not count the attempt; call RecordFailure or
// RecordSuccess with the outcome.
func (g *Guard) Check(ctx context.Context, principalID, origin string) (Decision, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		return Decision{Allowed: false}, nil
	}

	for _, dim := range g.dimensions(principalID, origin) {
		d, err := g.checkDimension(ctx, dim.name, dim.id)
		if err != nil {
			return Decision{Allowed: false}, err
		}
		if !d.Allowed {
			return d, nil
		}
	}
	return Decision{Allowed: true}, nil
}

func (g *Guard) checkDimension(ctx context.Context, dimension, id string) (Decision, error) {
	ttl, err := g.redis.PTTL(ctx, g.lockKey(dimension, id)).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	if ttl > 0 {
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true}, nil
}

// RecordFailure counts a failed attempt against both dimensions. When a
// counter reaches MaxFailures a lockout starts; consecutive lockouts
// double in length up to MaxLockout. Returns the decision a subsequent
// Check would produce, so callers can report RetryAfter immediately.
func (g *Guard) RecordFailure(ctx context.Context, principalID, origin string) (Decision, error) {
	out := Decision{Allowed: true}
	for _, dim := range g.dimensions(principalID, origin) {
		d, err := g.recordFailure(ctx, dim.name, dim.id)
		if err != nil {
			return Decision{Allowed: false}, err
		}
		// Report the longest wait when both dimensions lock.
		if !d.Allowed && (out.Allowed || d.RetryAfter > out.RetryAfter) {
			out = d
		}
	}
	return out, nil
}

func (g *Guard) recordFailure(ctx context.Context, dimension, id string) (Decision, error) {
	count, err := g.redis.Incr(ctx, g.failKey(dimension, id)).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := g.redis.Expire(ctx, g.failKey(dimension, id), g.config.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
		}
	}

	if count < int64(g.config.MaxFailures) {
		return Decision{Allowed: true}, nil
	}

	lockout, err := g.startLockout(ctx, dimension, id)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: false, RetryAfter: lockout}, nil
}

func (g *Guard) startLockout(ctx context.Context, dimension, id string) (time.Duration, error) {
	strikes, err := g.redis.Incr(ctx, g.strikeKey(dimension, id)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}

	lockout := g.config.BaseLockout
	for i := int64(1); i < strikes && lockout < g.config.MaxLockout; i++ {
		lockout *= 2
	}
	if lockout > g.config.MaxLockout {
		lockout = g.config.MaxLockout
	}

	// The strike counter outlives the lockout so repeat offenders keep
	// escalating. It decays after twice the max lockout of quiet time.
	_, err = g.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, g.lockKey(dimension, id), strikes, lockout)
		pipe.Expire(ctx, g.strikeKey(dimension, id), 2*g.config.MaxLockout)
		pipe.Del(ctx, g.failKey(dimension, id))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	return lockout, nil
}

// RecordSuccess clears failure and strike state for both dimensions.
// Active lockouts are left in place; success during a lockout should be
// impossible for callers that Check first.
func (g *Guard) RecordSuccess(ctx context.Context, principalID, origin string) error {
	keys := make([]string, 0, 4)
	for _, dim := range g.dimensions(principalID, origin) {
		keys = append(keys, g.failKey(dim.name, dim.id), g.strikeKey(dim.name, dim.id))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := g.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	return nil
}

// FailureCount returns the current window's failure counter for a
// principal. Missing keys return zero and do not reveal account
// existence.
func (g *Guard) FailureCount(ctx context.Context, principalID string) (int, error) {
	count, err := g.redis.Get(ctx, g.failKey("p", principalID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	return int(count), nil
}

// Unlock clears a principal's lockout and strike state. Administrative
// escape hatch.
func (g *Guard) Unlock(ctx context.Context, principalID string) error {
	keys := []string{
		g.failKey("p", principalID),
		g.lockKey("p", principalID),
		g.strikeKey("p", principalID),
	}
	if err := g.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	return nil
}

type dimension struct {
	name string
	id   string
}

func (g *Guard) dimensions(principalID, origin string) []dimension {
	dims := make([]dimension, 0, 2)
	if principalID != "" {
		dims = append(dims, dimension{name: "p", id: principalID})
	}
	if origin != "" {
		dims = append(dims, dimension{name: "o", id: origin})
	}
	return dims
}
