package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/wafcore/internal/wafmodel"
)

func newTestStore(t *testing.T) *MemoryStore {
	s := NewMemoryStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBlacklist_SetAndExpire(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.IsBlacklisted(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Blacklist(ctx, "1.2.3.4", 50*time.Millisecond))
	ok, err = s.IsBlacklisted(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	ok, err = s.IsBlacklisted(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWhitelist_RemovesBlacklistEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Blacklist(ctx, "1.2.3.4", time.Hour))
	require.NoError(t, s.Whitelist(ctx, "1.2.3.4"))

	ok, err := s.IsBlacklisted(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckRateLimit_AdmitsUpToLimitThenRejects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var admitted, rejected int
	for i := 0; i < 6; i++ {
		ok, err := s.CheckRateLimit(ctx, "9.9.9.9", 5, time.Minute)
		require.NoError(t, err)
		if ok {
			admitted++
		} else {
			rejected++
		}
	}
	assert.Equal(t, 5, admitted)
	assert.Equal(t, 1, rejected)
}

func TestCheckRateLimit_NewWindowAfterExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.CheckRateLimit(ctx, "5.5.5.5", 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CheckRateLimit(ctx, "5.5.5.5", 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(40 * time.Millisecond)
	ok, err = s.CheckRateLimit(ctx, "5.5.5.5", 1, 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReputation_MissingDefaultsAreCallerResponsibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok := s.GetReputation(ctx, "8.8.8.8")
	assert.False(t, ok)

	rep := wafmodel.IPReputation{TotalRequests: 10, BlockedRequests: 2, ReputationScore: 0.4}
	require.NoError(t, s.SetReputation(ctx, "8.8.8.8", rep, time.Hour))

	got, ok := s.GetReputation(ctx, "8.8.8.8")
	require.True(t, ok)
	assert.Equal(t, rep, got)
}

func TestVerdictCache_StoresRawScoreNotAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetVerdictCache(ctx, "digest123", 0.42, time.Hour))
	score, ok := s.GetVerdictCache(ctx, "digest123")
	require.True(t, ok)
	assert.Equal(t, 0.42, score)
}

func TestVerdictCache_ExpiresAfterTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetVerdictCache(ctx, "digest456", 0.9, 30*time.Millisecond))
	time.Sleep(40 * time.Millisecond)
	_, ok := s.GetVerdictCache(ctx, "digest456")
	assert.False(t, ok)
}
