package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/wafcore/internal/decision"
	"github.com/ocx/wafcore/internal/eventlog"
	"github.com/ocx/wafcore/internal/metrics"
	"github.com/ocx/wafcore/internal/wafmodel"
)

// requestMetadata is the wire shape of POST /api/analyze_request.
type requestMetadata struct {
	SourceIP    string            `json:"source_ip"`
	Method      string            `json:"method"`
	URI         string            `json:"uri"`
	QueryString string            `json:"query_string"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	Timestamp   *time.Time        `json:"timestamp,omitempty"`
}

type analyzeResponse struct {
	Action       wafmodel.Action      `json:"action"`
	RiskScore    float64              `json:"risk_score"`
	Reason       string               `json:"reason"`
	AttackFamily wafmodel.AttackFamily `json:"attack_type,omitempty"`
	DecisionID   int64                `json:"decision_id"`
	LatencyMS    float64              `json:"latency_ms"`
}

// AnalyzeRequest is the hot path: POST /api/analyze_request. The
// global exception handler guarantee (§4.9) is implemented as a
// deferred recover that replies fail-open on any panic.
func (c *Core) AnalyzeRequest(w http.ResponseWriter, r *http.Request) {
	timestamp := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			c.Log.Error("gateway panic recovered, failing open", "panic", rec)
			writeJSON(w, http.StatusOK, analyzeResponse{
				Action: wafmodel.ActionAllowed,
				Reason: "WAF error (fail-open): internal panic",
			})
		}
	}()

	var meta requestMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		http.Error(w, `{"error":"malformed request metadata"}`, http.StatusBadRequest)
		return
	}

	req := wafmodel.Request{
		Method:      meta.Method,
		URI:         meta.URI,
		QueryString: meta.QueryString,
		Headers:     wafmodel.NewHeaders(meta.Headers),
		Body:        meta.Body,
		SourceIP:    meta.SourceIP,
		ReceivedAt:  timestamp,
	}
	if meta.Timestamp != nil {
		req.ReceivedAt = *meta.Timestamp
	}

	ctx := r.Context()

	// The blacklist stage precedes rate limiting: a blacklisted IP skips
	// the rate counter and is blocked by the engine's blacklist stage.
	admitted := true
	if blacklisted, _ := c.Store.IsBlacklisted(ctx, req.SourceIP); !blacklisted {
		var err error
		admitted, err = c.Store.CheckRateLimit(ctx, req.SourceIP, c.Config.RateLimitRequests, c.Config.RateLimitWindow)
		if err != nil {
			c.Log.Warn("rate limit check faulted, failing open", "ip", req.SourceIP, "error", err)
		}
	}
	if !admitted {
		v := wafmodel.Verdict{
			Action:    wafmodel.ActionBlocked,
			RiskScore: 1.0,
			Reason:    "Rate limit exceeded",
			DecidedBy: wafmodel.DecidedByRateLimiter,
		}
		c.finishRequest(ctx, w, req, wafmodel.UnknownGeo, v, "rate_limiter", timestamp)
		return
	}

	geoAttr := c.Geo.Resolve(req.SourceIP)
	verdict, stage := c.Engine.Decide(ctx, req, geoAttr)
	c.finishRequest(ctx, w, req, geoAttr, verdict, stage, timestamp)
}

func (c *Core) finishRequest(ctx context.Context, w http.ResponseWriter, req wafmodel.Request, geoAttr wafmodel.GeoAttribution, verdict wafmodel.Verdict, stage string, timestamp time.Time) {
	metrics.RequestsTotal.WithLabelValues(string(verdict.Action), string(verdict.DecidedBy)).Inc()
	metrics.DecisionLatency.Observe(verdict.LatencyMS)
	if verdict.FromCache {
		metrics.VerdictCacheHits.Inc()
	}

	record := wafmodel.DecisionRecord{
		Timestamp:      timestamp,
		Request:        req,
		GeoAttribution: geoAttr,
		Verdict:        verdict,
		Hash:           decision.CacheDigest(req),
		PipelineStage:  stage,
	}

	var decisionID int64
	if c.EventLog != nil {
		id, err := c.EventLog.Store(ctx, record)
		if err != nil {
			c.Log.Warn("persistence failed, reply unaffected", "error", err)
		} else {
			decisionID = id
			record.Id = id
		}
	}

	c.Hub.Publish(wafmodel.DecisionEvent{
		Type:      "new_request",
		Record:    record,
		EmittedAt: time.Now(),
	})

	writeJSON(w, http.StatusOK, analyzeResponse{
		Action:       verdict.Action,
		RiskScore:    verdict.RiskScore,
		Reason:       verdict.Reason,
		AttackFamily: verdict.AttackFamily,
		DecisionID:   decisionID,
		LatencyMS:    verdict.LatencyMS,
	})
}

// Health reports process status plus per-dependency health.
func (c *Core) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deps := map[string]string{}

	if _, err := c.Store.IsBlacklisted(ctx, "health-check-probe"); err != nil {
		deps["store"] = "degraded: " + err.Error()
	} else {
		deps["store"] = "ok"
	}

	if c.EventLog != nil {
		deps["eventlog"] = "ok"
	} else {
		deps["eventlog"] = "not configured"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"dependencies": deps,
	})
}

// ListRequests handles GET /api/requests.
func (c *Core) ListRequests(w http.ResponseWriter, r *http.Request) {
	if c.EventLog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event log unavailable"})
		return
	}
	q := r.URL.Query()
	filter := eventlog.ListFilter{
		Limit:  atoiDefault(q.Get("limit"), 50),
		Offset: atoiDefault(q.Get("offset"), 0),
	}
	if a := q.Get("action"); a != "" {
		action := wafmodel.Action(a)
		filter.Action = &action
	}
	if m := q.Get("min_risk_score"); m != "" {
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			filter.MinRiskScore = &f
		}
	}

	records, err := c.EventLog.List(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// ListPending handles GET /api/requests/pending.
func (c *Core) ListPending(w http.ResponseWriter, r *http.Request) {
	if c.EventLog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event log unavailable"})
		return
	}
	records, err := c.EventLog.ListPending(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type feedbackRequest struct {
	RequestID int64   `json:"request_id"`
	Decision  string  `json:"decision"`
	Reviewer  string  `json:"reviewer"`
	Notes     *string `json:"notes,omitempty"`
}

// Feedback handles POST /api/feedback: sets the human decision and
// promotes the record to the training table. The source defines this
// route twice with the second registration unreachable; only one
// registration exists here.
func (c *Core) Feedback(w http.ResponseWriter, r *http.Request) {
	if c.EventLog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event log unavailable"})
		return
	}
	var fb feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		http.Error(w, `{"error":"malformed feedback"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := c.EventLog.UpdateHumanDecision(ctx, fb.RequestID, fb.Decision, fb.Reviewer, fb.Notes); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	isMalicious := fb.Decision == "BLOCK"
	if err := c.EventLog.PromoteToTraining(ctx, fb.RequestID, isMalicious, fb.Reviewer); err != nil {
		c.Log.Warn("promote to training failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// Stats handles GET /api/stats.
func (c *Core) Stats(w http.ResponseWriter, r *http.Request) {
	if c.EventLog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event log unavailable"})
		return
	}
	stats, err := c.EventLog.TodayStatistics(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	total := int64(0)
	for _, n := range stats.CountsByAction {
		total += n
	}
	blockRate := 0.0
	if total > 0 {
		blockRate = roundTo1DP(float64(stats.CountsByAction[string(wafmodel.ActionBlocked)]) / float64(total) * 100)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"counts_by_action":    stats.CountsByAction,
		"avg_risk_score":      stats.AvgRiskScore,
		"avg_latency_ms":      stats.AvgLatencyMS,
		"unique_source_ips":   stats.UniqueSourceIPs,
		"top_attack_families": stats.TopAttackFamilies,
		"top_blocked_ips":     stats.TopBlockedIPs,
		"block_rate_pct":      blockRate,
	})
}

func roundTo1DP(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

// TopIPs handles GET /api/top-ips.
func (c *Core) TopIPs(w http.ResponseWriter, r *http.Request) {
	if c.EventLog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event log unavailable"})
		return
	}
	ips, err := c.EventLog.TopAttackingIPs(r.Context(), 10)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ips)
}

// RecentEvents handles GET /api/recent-events.
func (c *Core) RecentEvents(w http.ResponseWriter, r *http.Request) {
	if c.EventLog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event log unavailable"})
		return
	}
	records, err := c.EventLog.RecentHighSeverity(r.Context(), 10)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// AggregateStats handles GET /api/v1/stats/aggregate.
func (c *Core) AggregateStats(w http.ResponseWriter, r *http.Request) {
	if c.EventLog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event log unavailable"})
		return
	}
	rangeParam := eventlog.AggregateRange(r.URL.Query().Get("range"))
	if rangeParam == "" {
		rangeParam = eventlog.Range1h
	}
	result, err := c.EventLog.Aggregate(r.Context(), rangeParam)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// IPInfo handles GET /api/ip/{ip}.
func (c *Core) IPInfo(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	ctx := r.Context()

	rep, ok := c.Store.GetReputation(ctx, ip)
	if !ok && c.EventLog != nil {
		if histRep, err := c.EventLog.GetReputation(ctx, ip); err == nil {
			rep = histRep
		} else {
			rep = wafmodel.DefaultIPReputation
		}
	} else if !ok {
		rep = wafmodel.DefaultIPReputation
	}

	geoAttr := c.Geo.Resolve(ip)
	writeJSON(w, http.StatusOK, map[string]any{
		"ip":         ip,
		"reputation": rep,
		"geo":        geoAttr,
	})
}

type ipActionRequest struct {
	IPAddress string `json:"ip_address"`
	TTL       int64  `json:"ttl"`
	Reason    string `json:"reason,omitempty"`
}

// Blacklist handles POST /api/blacklist.
func (c *Core) Blacklist(w http.ResponseWriter, r *http.Request) {
	var req ipActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"malformed request"}`, http.StatusBadRequest)
		return
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = 86400
	}
	if err := c.Store.Blacklist(r.Context(), req.IPAddress, time.Duration(ttl)*time.Second); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "blacklisted"})
}

// Whitelist handles POST /api/whitelist.
func (c *Core) Whitelist(w http.ResponseWriter, r *http.Request) {
	var req ipActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"malformed request"}`, http.StatusBadRequest)
		return
	}
	if err := c.Store.Whitelist(r.Context(), req.IPAddress); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "whitelisted"})
}

type retrainRequest struct {
	Trigger string `json:"trigger"`
}

// Retrain handles POST /api/retrain: it accepts the trigger, subject
// to RetrainLimiter, and replies 202 echoing it. It does not call the
// inference service; nothing is forwarded or relayed.
func (c *Core) Retrain(w http.ResponseWriter, r *http.Request) {
	if c.RetrainLimiter != nil && !c.RetrainLimiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "retrain already triggered recently"})
		return
	}

	var req retrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"malformed request"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrain triggered", "trigger": req.Trigger})
}

// ServeWS handles WS /ws.
func (c *Core) ServeWS(w http.ResponseWriter, r *http.Request) {
	c.Hub.ServeWS(w, r, c.Upgrader)
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
