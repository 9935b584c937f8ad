package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/ocx/wafcore/internal/wafmodel"
)

// DailyStats is the today_statistics response: counts by action plus
// derived averages and top lists.
type DailyStats struct {
	CountsByAction  map[string]int64 `json:"counts_by_action"`
	AvgRiskScore    float64          `json:"avg_risk_score"`
	AvgLatencyMS    float64          `json:"avg_latency_ms"`
	UniqueSourceIPs int64            `json:"unique_source_ips"`
	TopAttackFamilies []NamedCount   `json:"top_attack_families"`
	TopBlockedIPs     []NamedCount   `json:"top_blocked_ips"`
}

// NamedCount is a (name, count) pair used across the stats endpoints.
type NamedCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// ThreatIP is one row of top_attacking_ips: an IP with its 24h
// BLOCKED count and a derived threat level.
type ThreatIP struct {
	IP          string `json:"ip"`
	AttackCount int64  `json:"attack_count"`
	ThreatLevel string `json:"threat_level"`
}

// TodayStatistics aggregates counts, averages, and top-10 lists for
// records with timestamp within today, where the day boundary is
// date_trunc('day', now()) in the database session's time zone.
func (s *Store) TodayStatistics(ctx context.Context) (DailyStats, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	stats := DailyStats{CountsByAction: make(map[string]int64)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT action, count(*) FROM requests
		WHERE timestamp >= date_trunc('day', now())
		GROUP BY action`)
	if err != nil {
		return stats, fmt.Errorf("eventlog: today stats by action: %w", err)
	}
	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			rows.Close()
			return stats, fmt.Errorf("eventlog: scan action count: %w", err)
		}
		stats.CountsByAction[action] = count
	}
	rows.Close()

	err = s.db.QueryRowContext(ctx, `
		SELECT coalesce(avg(risk_score),0), coalesce(avg(latency_ms),0), count(DISTINCT source_ip)
		FROM requests WHERE timestamp >= date_trunc('day', now())`).
		Scan(&stats.AvgRiskScore, &stats.AvgLatencyMS, &stats.UniqueSourceIPs)
	if err != nil {
		return stats, fmt.Errorf("eventlog: today stats averages: %w", err)
	}

	stats.TopAttackFamilies, err = s.topNamedCounts(ctx, `
		SELECT attack_family, count(*) FROM requests
		WHERE timestamp >= date_trunc('day', now()) AND attack_family != ''
		GROUP BY attack_family ORDER BY count(*) DESC LIMIT 10`)
	if err != nil {
		return stats, err
	}

	stats.TopBlockedIPs, err = s.topNamedCounts(ctx, `
		SELECT source_ip, count(*) FROM requests
		WHERE timestamp >= date_trunc('day', now()) AND action = $1
		GROUP BY source_ip ORDER BY count(*) DESC LIMIT 10`, string(wafmodel.ActionBlocked))
	if err != nil {
		return stats, err
	}

	return stats, nil
}

func (s *Store) topNamedCounts(ctx context.Context, query string, args ...any) ([]NamedCount, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: top named counts: %w", err)
	}
	defer rows.Close()
	var out []NamedCount
	for rows.Next() {
		var nc NamedCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("eventlog: scan named count: %w", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

// TopAttackingIPs returns the most active BLOCKED source IPs over the
// last 24h, with a derived threat level.
func (s *Store) TopAttackingIPs(ctx context.Context, limit int) ([]ThreatIP, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_ip, count(*) FROM requests
		WHERE action = $1 AND timestamp >= now() - interval '24 hours'
		GROUP BY source_ip ORDER BY count(*) DESC LIMIT $2`,
		string(wafmodel.ActionBlocked), limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: top attacking ips: %w", err)
	}
	defer rows.Close()

	var out []ThreatIP
	for rows.Next() {
		var t ThreatIP
		if err := rows.Scan(&t.IP, &t.AttackCount); err != nil {
			return nil, fmt.Errorf("eventlog: scan threat ip: %w", err)
		}
		t.ThreatLevel = threatLevel(t.AttackCount)
		out = append(out, t)
	}
	return out, rows.Err()
}

func threatLevel(count int64) string {
	switch {
	case count > 1000:
		return "critical"
	case count > 100:
		return "high"
	case count > 50:
		return "medium"
	default:
		return "low"
	}
}

// RecentHighSeverity returns the newest records with risk_score >=
// 0.5. The records carry no severity label; SeverityBucket maps a
// score to one, and this function does not apply it.
func (s *Store) RecentHighSeverity(ctx context.Context, limit int) ([]wafmodel.DecisionRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM requests WHERE risk_score >= 0.5 ORDER BY timestamp DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: recent high severity: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// SeverityBucket buckets a risk score into a severity label: >=0.9
// critical, >=0.7 high, >=0.5 medium, otherwise low.
func SeverityBucket(riskScore float64) string {
	switch {
	case riskScore >= 0.9:
		return "critical"
	case riskScore >= 0.7:
		return "high"
	case riskScore >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// AggregateRange is one of the four supported aggregate() windows.
type AggregateRange string

const (
	Range15m AggregateRange = "15m"
	Range1h  AggregateRange = "1h"
	Range24h AggregateRange = "24h"
	Range7d  AggregateRange = "7d"
)

var rangeConfig = map[AggregateRange]struct {
	window       time.Duration
	bucketWidth  time.Duration
}{
	Range15m: {15 * time.Minute, time.Minute},
	Range1h:  {time.Hour, 5 * time.Minute},
	Range24h: {24 * time.Hour, time.Hour},
	Range7d:  {7 * 24 * time.Hour, 6 * time.Hour},
}

// Bucket is one traffic-volume bucket in an aggregate response.
type Bucket struct {
	BucketStart time.Time `json:"bucket_start"`
	Count       int64     `json:"count"`
	AvgLatencyMS float64  `json:"avg_latency_ms"`
	MaxLatencyMS float64  `json:"max_latency_ms"`
}

// AggregateResult is the aggregate() response: buckets, attack-family
// distribution, and a totals summary.
type AggregateResult struct {
	Range               AggregateRange `json:"range"`
	Buckets             []Bucket       `json:"buckets"`
	AttackFamilyCounts  []NamedCount   `json:"attack_family_distribution"`
	TotalRequests       int64          `json:"total_requests"`
	UniqueSourceIPs     int64          `json:"unique_source_ips"`
}

// Aggregate computes bucketed traffic volume and latency, attack
// family distribution, and totals for the given range.
func (s *Store) Aggregate(ctx context.Context, r AggregateRange) (AggregateResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cfg, ok := rangeConfig[r]
	if !ok {
		return AggregateResult{}, fmt.Errorf("eventlog: unknown range %q", r)
	}

	result := AggregateResult{Range: r}
	since := time.Now().Add(-cfg.window)
	widthSeconds := cfg.bucketWidth.Seconds()

	// date_trunc only understands fixed field names (minute, hour, ...),
	// not arbitrary widths like "5 minutes" or "6 hours", so buckets are
	// computed by flooring the epoch to the configured width instead.
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_timestamp(floor(extract(epoch FROM timestamp) / $1) * $1) AS bucket,
		       count(*), coalesce(avg(latency_ms),0), coalesce(max(latency_ms),0)
		FROM requests WHERE timestamp >= $2
		GROUP BY bucket ORDER BY bucket`, widthSeconds, since)
	if err != nil {
		return result, fmt.Errorf("eventlog: aggregate buckets: %w", err)
	}
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.BucketStart, &b.Count, &b.AvgLatencyMS, &b.MaxLatencyMS); err != nil {
			rows.Close()
			return result, fmt.Errorf("eventlog: scan bucket: %w", err)
		}
		result.Buckets = append(result.Buckets, b)
	}
	rows.Close()

	result.AttackFamilyCounts, err = s.topNamedCounts(ctx, `
		SELECT attack_family, count(*) FROM requests
		WHERE timestamp >= $1 AND attack_family != '' GROUP BY attack_family ORDER BY count(*) DESC`, since)
	if err != nil {
		return result, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT count(*), count(DISTINCT source_ip) FROM requests WHERE timestamp >= $1`, since).
		Scan(&result.TotalRequests, &result.UniqueSourceIPs)
	if err != nil {
		return result, fmt.Errorf("eventlog: aggregate totals: %w", err)
	}

	return result, nil
}
