// Package store implements the Reputation & Counter Store: blacklist
// membership, fixed-window rate limiting, IP reputation, and the
// verdict cache, all keyed with per-entry TTL. It is grounded in the
// teacher's internal/fabric.RedisHubStore (JSON-serialized Redis
// values with TTL) and internal/middleware.RateLimiter (read-first
// fast path, background janitor), with an in-memory fallback for
// deployments without Redis reachable, matching the teacher's
// graceful-fallback instinct at boot.
package store

import (
	"context"
	"time"

	"github.com/ocx/wafcore/internal/wafmodel"
)

// Store is the Reputation & Counter Store contract. The reads
// GetReputation and GetVerdictCache report a backend fault as a zero
// value and ok=false, with no error. IsBlacklisted and CheckRateLimit
// return an error alongside a usable answer (doc'd on each method),
// and every write returns its backend error to the caller.
type Store interface {
	// IsBlacklisted reports whether ip is currently banned. On a
	// backend fault it returns (false, err): the decision engine
	// proceeds as not-blacklisted rather than blocking all traffic,
	// per the fail-closed-but-still-serve policy.
	IsBlacklisted(ctx context.Context, ip string) (bool, error)
	Blacklist(ctx context.Context, ip string, ttl time.Duration) error
	Whitelist(ctx context.Context, ip string) error

	// CheckRateLimit implements the fixed-window counter. It returns
	// true when the request is within limit (admit), false when the
	// post-increment count exceeds limit (reject). A backend fault
	// returns (true, err): fail-open.
	CheckRateLimit(ctx context.Context, ip string, limit int, window time.Duration) (bool, error)

	GetReputation(ctx context.Context, ip string) (wafmodel.IPReputation, bool)
	SetReputation(ctx context.Context, ip string, rep wafmodel.IPReputation, ttl time.Duration) error

	GetVerdictCache(ctx context.Context, digest string) (float64, bool)
	SetVerdictCache(ctx context.Context, digest string, score float64, ttl time.Duration) error

	Close() error
}
