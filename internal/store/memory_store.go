package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/wafcore/internal/wafmodel"
)

type rateWindow struct {
	count       int64
	windowStart time.Time
}

type expiring[T any] struct {
	value     T
	expiresAt time.Time
}

// MemoryStore is the in-process fallback for deployments with no
// Redis reachable at boot. It mirrors the teacher's RateLimiter:
// read-first fast path under RLock, a write Lock slow path for new
// windows, and a background janitor evicting stale entries so the
// maps don't grow without bound.
type MemoryStore struct {
	mu sync.RWMutex

	blacklist  map[string]time.Time
	windows    map[string]*rateWindow
	reputation map[string]expiring[wafmodel.IPReputation]
	cache      map[string]expiring[float64]

	log    *slog.Logger
	stopCh chan struct{}
}

// NewMemoryStore builds a MemoryStore and starts its janitor.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	s := &MemoryStore{
		blacklist:  make(map[string]time.Time),
		windows:    make(map[string]*rateWindow),
		reputation: make(map[string]expiring[wafmodel.IPReputation]),
		cache:      make(map[string]expiring[float64]),
		log:        log.With("component", "store"),
		stopCh:     make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) Close() error {
	close(s.stopCh)
	return nil
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for ip, expiresAt := range s.blacklist {
		if now.After(expiresAt) {
			delete(s.blacklist, ip)
		}
	}
	for key, w := range s.windows {
		if now.Sub(w.windowStart) > 2*time.Minute {
			delete(s.windows, key)
		}
	}
	for ip, e := range s.reputation {
		if now.After(e.expiresAt) {
			delete(s.reputation, ip)
		}
	}
	for digest, e := range s.cache {
		if now.After(e.expiresAt) {
			delete(s.cache, digest)
		}
	}
}

func (s *MemoryStore) IsBlacklisted(ctx context.Context, ip string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiresAt, ok := s.blacklist[ip]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expiresAt), nil
}

func (s *MemoryStore) Blacklist(ctx context.Context, ip string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[ip] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) Whitelist(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blacklist, ip)
	return nil
}

// CheckRateLimit follows the teacher's read-first/write-lock pattern:
// an active window is incremented under a read lock (the single
// count++ race is the documented fixed-window weakness, acceptable
// per the design notes); a new or expired window is created under a
// write lock with a double-check to avoid clobbering a concurrent
// creator.
func (s *MemoryStore) CheckRateLimit(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	now := time.Now()

	s.mu.RLock()
	w, exists := s.windows[ip]
	if exists && now.Sub(w.windowStart) <= window {
		w.count++
		count := w.count
		s.mu.RUnlock()
		return count <= int64(limit), nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, exists = s.windows[ip]
	if exists && now.Sub(w.windowStart) <= window {
		w.count++
		return w.count <= int64(limit), nil
	}
	s.windows[ip] = &rateWindow{count: 1, windowStart: now}
	return 1 <= int64(limit), nil
}

func (s *MemoryStore) GetReputation(ctx context.Context, ip string) (wafmodel.IPReputation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.reputation[ip]
	if !ok || time.Now().After(e.expiresAt) {
		return wafmodel.IPReputation{}, false
	}
	return e.value, true
}

func (s *MemoryStore) SetReputation(ctx context.Context, ip string, rep wafmodel.IPReputation, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reputation[ip] = expiring[wafmodel.IPReputation]{value: rep, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) GetVerdictCache(ctx context.Context, digest string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[digest]
	if !ok || time.Now().After(e.expiresAt) {
		return 0, false
	}
	return e.value, true
}

func (s *MemoryStore) SetVerdictCache(ctx context.Context, digest string, score float64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[digest] = expiring[float64]{value: score, expiresAt: time.Now().Add(ttl)}
	return nil
}
