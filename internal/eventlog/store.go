// Package eventlog is the durable Event Log Store: append-only per
// request, backed by Postgres via database/sql and lib/pq, the
// concrete driver the teacher's cmd/server/main.go imports for its
// own (otherwise stubbed) database handle. The bounded pool sizing
// (5 idle / 20 open) and per-command timeout are carried forward from
// the resource model rather than from a specific teacher call site,
// since the teacher never wires its db.Open beyond a nil placeholder.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/ocx/wafcore/internal/wafmodel"
)

const commandTimeout = 60 * time.Second

// Store is the Postgres-backed Event Log Store.
type Store struct {
	db *sql.DB
}

// Open connects to databaseURL and applies the documented pool
// bounds. It does not run schema.sql; the caller's deployment
// tooling is responsible for migrations.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: ping: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, commandTimeout)
}

// Store appends record and assigns its monotonic id. The stored
// timestamp is the one the record carries (stamped at gateway entry).
// Persistence errors are the caller's to log; the hot path has
// already replied by the time Store runs.
func (s *Store) Store(ctx context.Context, record wafmodel.DecisionRecord) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	headers, err := json.Marshal(record.Headers)
	if err != nil {
		return 0, fmt.Errorf("eventlog: marshal headers: %w", err)
	}
	featuresJSON, err := json.Marshal(record.Features.Map())
	if err != nil {
		return 0, fmt.Errorf("eventlog: marshal features: %w", err)
	}
	riskFactorsJSON, err := json.Marshal(record.RiskFactors)
	if err != nil {
		return 0, fmt.Errorf("eventlog: marshal risk factors: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO requests (
			timestamp, method, uri, query_string, headers, body, source_ip, received_at,
			country_code, country_name, city, lat, lon, is_private,
			action, risk_score, reason, attack_family, decided_by, from_cache,
			features, risk_factors, latency_ms, hash, pipeline_stage
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
		RETURNING id`,
		record.Timestamp, record.Method, record.URI, record.QueryString, headers, record.Body, record.SourceIP, record.ReceivedAt,
		record.CountryCode, record.CountryName, record.City, record.Lat, record.Lon, record.IsPrivate,
		string(record.Action), record.RiskScore, record.Reason, string(record.AttackFamily), string(record.DecidedBy), record.FromCache,
		featuresJSON, riskFactorsJSON, record.LatencyMS, record.Hash, record.PipelineStage,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("eventlog: insert: %w", err)
	}
	return id, nil
}

// ListFilter narrows a List query.
type ListFilter struct {
	Limit         int
	Offset        int
	Action        *wafmodel.Action
	MinRiskScore  *float64
}

// List returns records newest-first, applying filter.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]wafmodel.DecisionRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM requests WHERE 1=1`
	args := []any{}
	argN := 1

	if filter.Action != nil {
		query += fmt.Sprintf(" AND action = $%d", argN)
		args = append(args, string(*filter.Action))
		argN++
	}
	if filter.MinRiskScore != nil {
		query += fmt.Sprintf(" AND risk_score >= $%d", argN)
		args = append(args, *filter.MinRiskScore)
		argN++
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListPending returns PENDING records, newest-first, capped at 50.
func (s *Store) ListPending(ctx context.Context) ([]wafmodel.DecisionRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM requests WHERE action = $1 ORDER BY timestamp DESC LIMIT 50`,
		string(wafmodel.ActionPending))
	if err != nil {
		return nil, fmt.Errorf("eventlog: list pending: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// UpdateHumanDecision sets the human-review fields and rewrites
// action accordingly. The decision/reviewer/notes/action columns are
// idempotent under re-application; human_reviewed_at is not, since it
// is always stamped with the current time.
func (s *Store) UpdateHumanDecision(ctx context.Context, id int64, decision, reviewer string, notes *string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var action wafmodel.Action
	switch decision {
	case "ALLOW":
		action = wafmodel.ActionAllowed
	case "BLOCK":
		action = wafmodel.ActionBlocked
	default:
		return fmt.Errorf("eventlog: invalid human decision %q", decision)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET
			human_decision = $1, human_reviewer = $2, human_reviewed_at = now(), human_notes = $3,
			action = $4
		WHERE id = $5`,
		decision, reviewer, notes, string(action), id)
	if err != nil {
		return fmt.Errorf("eventlog: update human decision: %w", err)
	}
	return nil
}

// PromoteToTraining copies features and attack family from record id
// into the training table, idempotent on (id, labeledBy) via upsert.
func (s *Store) PromoteToTraining(ctx context.Context, id int64, isMalicious bool, labeledBy string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var featuresJSON []byte
	var attackFamily string
	err := s.db.QueryRowContext(ctx, `SELECT features, attack_family FROM requests WHERE id = $1`, id).
		Scan(&featuresJSON, &attackFamily)
	if err != nil {
		return fmt.Errorf("eventlog: promote lookup: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO training_data (decision_id, features, attack_family, is_malicious, labeled_by, labeled_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (decision_id, labeled_by) DO UPDATE SET
			is_malicious = EXCLUDED.is_malicious, labeled_at = now()`,
		id, featuresJSON, attackFamily, isMalicious, labeledBy)
	if err != nil {
		return fmt.Errorf("eventlog: promote insert: %w", err)
	}
	return nil
}

// GetReputation aggregates historical counts for ip when the volatile
// reputation store has no entry.
func (s *Store) GetReputation(ctx context.Context, ip string) (wafmodel.IPReputation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var total, blocked int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), count(*) FILTER (WHERE action = $1) FROM requests WHERE source_ip = $2`,
		string(wafmodel.ActionBlocked), ip).Scan(&total, &blocked)
	if err != nil {
		return wafmodel.IPReputation{}, fmt.Errorf("eventlog: get reputation: %w", err)
	}
	if total == 0 {
		return wafmodel.DefaultIPReputation, nil
	}
	score := 1.0 - float64(blocked)/float64(total)
	return wafmodel.IPReputation{TotalRequests: total, BlockedRequests: blocked, ReputationScore: score}, nil
}

const recordColumns = `
	id, timestamp, method, uri, query_string, headers, body, source_ip, received_at,
	country_code, country_name, city, lat, lon, is_private,
	action, risk_score, reason, attack_family, decided_by, from_cache,
	features, risk_factors, latency_ms, hash, pipeline_stage,
	human_decision, human_reviewer, human_reviewed_at, human_notes`

func scanRecords(rows *sql.Rows) ([]wafmodel.DecisionRecord, error) {
	var out []wafmodel.DecisionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows) (wafmodel.DecisionRecord, error) {
	var r wafmodel.DecisionRecord
	var headers, features, riskFactors []byte
	var action, attackFamily, decidedBy string
	var humanDecision, humanReviewer, humanNotes sql.NullString
	var humanReviewedAt sql.NullTime

	err := rows.Scan(
		&r.Id, &r.Timestamp, &r.Method, &r.URI, &r.QueryString, &headers, &r.Body, &r.SourceIP, &r.ReceivedAt,
		&r.CountryCode, &r.CountryName, &r.City, &r.Lat, &r.Lon, &r.IsPrivate,
		&action, &r.RiskScore, &r.Reason, &attackFamily, &decidedBy, &r.FromCache,
		&features, &riskFactors, &r.LatencyMS, &r.Hash, &r.PipelineStage,
		&humanDecision, &humanReviewer, &humanReviewedAt, &humanNotes,
	)
	if err != nil {
		return r, fmt.Errorf("eventlog: scan: %w", err)
	}

	r.Action = wafmodel.Action(action)
	r.AttackFamily = wafmodel.AttackFamily(attackFamily)
	r.DecidedBy = wafmodel.DecidedBy(decidedBy)

	_ = json.Unmarshal(headers, &r.Headers)
	var featMap map[string]float64
	_ = json.Unmarshal(features, &featMap)
	for _, name := range wafmodel.FeatureSchema {
		if value, ok := featMap[name]; ok {
			r.Features = append(r.Features, wafmodel.FeatureValue{Name: name, Value: value})
		}
	}
	_ = json.Unmarshal(riskFactors, &r.RiskFactors)

	if humanDecision.Valid {
		a := wafmodel.Action(humanDecision.String)
		r.HumanDecision = &a
	}
	if humanReviewer.Valid {
		r.HumanReviewer = &humanReviewer.String
	}
	if humanReviewedAt.Valid {
		r.HumanReviewedAt = &humanReviewedAt.Time
	}
	if humanNotes.Valid {
		r.HumanNotes = &humanNotes.String
	}

	return r, nil
}
