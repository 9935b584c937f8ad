package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ocx/wafcore/internal/wafmodel"
)

const (
	blacklistPrefix = "waf:blacklist:"
	rateLimitPrefix = "waf:ratelimit:"
	reputationPrefix = "waf:reputation:"
	verdictCachePrefix = "waf:cache:"
)

// RedisStore is the Reputation & Counter Store backed by go-redis v9,
// grounded in the teacher's infra.GoRedisAdapter dial/ping pattern
// and fabric.RedisHubStore's JSON-value-with-TTL idiom.
type RedisStore struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisStore dials addr and verifies connectivity with a bounded
// ping, the way GoRedisAdapter does, so the caller can decide whether
// to fall back to MemoryStore before the hot path ever depends on it.
func NewRedisStore(addr, password string, log *slog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("store: redis ping failed (%s): %w", addr, err)
	}

	log.Info("redis store connected", "addr", addr)
	return &RedisStore{rdb: rdb, log: log.With("component", "store")}, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// IsBlacklisted fails closed per the data model note: a backend fault
// returns an error and the caller proceeds without confirmation
// rather than stalling the hot path on an unreachable cache.
func (s *RedisStore) IsBlacklisted(ctx context.Context, ip string) (bool, error) {
	n, err := s.rdb.Exists(ctx, blacklistPrefix+ip).Result()
	if err != nil {
		return false, fmt.Errorf("store: blacklist check: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Blacklist(ctx context.Context, ip string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, blacklistPrefix+ip, "1", ttl).Err(); err != nil {
		return fmt.Errorf("store: blacklist set: %w", err)
	}
	return nil
}

func (s *RedisStore) Whitelist(ctx context.Context, ip string) error {
	if err := s.rdb.Del(ctx, blacklistPrefix+ip).Err(); err != nil {
		return fmt.Errorf("store: whitelist del: %w", err)
	}
	return nil
}

// CheckRateLimit implements the fixed-window counter with a single
// INCR, which is atomic in Redis, and sets the window TTL only on the
// first observation (EXPIRE runs only when INCR returns 1, so an
// in-flight window never has its expiry pushed out by later requests).
func (s *RedisStore) CheckRateLimit(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	key := rateLimitPrefix + ip
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return true, fmt.Errorf("store: rate limit incr: %w", err)
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, key, window).Err(); err != nil {
			s.log.Warn("rate limit window expire failed", "ip", ip, "error", err)
		}
	}
	return count <= int64(limit), nil
}

func (s *RedisStore) GetReputation(ctx context.Context, ip string) (wafmodel.IPReputation, bool) {
	data, err := s.rdb.Get(ctx, reputationPrefix+ip).Bytes()
	if err != nil {
		return wafmodel.IPReputation{}, false
	}
	var rep wafmodel.IPReputation
	if err := json.Unmarshal(data, &rep); err != nil {
		s.log.Warn("reputation unmarshal failed", "ip", ip, "error", err)
		return wafmodel.IPReputation{}, false
	}
	return rep, true
}

func (s *RedisStore) SetReputation(ctx context.Context, ip string, rep wafmodel.IPReputation, ttl time.Duration) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("store: reputation marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, reputationPrefix+ip, data, ttl).Err(); err != nil {
		return fmt.Errorf("store: reputation set: %w", err)
	}
	return nil
}

func (s *RedisStore) GetVerdictCache(ctx context.Context, digest string) (float64, bool) {
	v, err := s.rdb.Get(ctx, verdictCachePrefix+digest).Float64()
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s *RedisStore) SetVerdictCache(ctx context.Context, digest string, score float64, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, verdictCachePrefix+digest, score, ttl).Err(); err != nil {
		return fmt.Errorf("store: verdict cache set: %w", err)
	}
	return nil
}
