// Package decision orchestrates the staged classifier: blacklist,
// verdict cache, signature match, inference, thresholding, and the
// dry-run override. The rate-limit stage is deliberately not
// repeated here — it runs once, at the gateway, before the engine is
// invoked at all. The source this was distilled from checked rate
// limiting a second time inside the engine with a different risk
// score (0.9 vs the gateway's 1.0); keeping two equivalent checks
// only invites them drifting apart, so this implementation keeps the
// single gateway-side check and the engine never sees rate-limited
// requests.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ocx/wafcore/internal/config"
	"github.com/ocx/wafcore/internal/features"
	"github.com/ocx/wafcore/internal/inference"
	"github.com/ocx/wafcore/internal/metrics"
	"github.com/ocx/wafcore/internal/signature"
	"github.com/ocx/wafcore/internal/store"
	"github.com/ocx/wafcore/internal/wafmodel"
)

// Engine holds the dependencies the staged classifier consults. It is
// constructed once at boot and passed by reference into every
// request handler — the explicit-dependency-injection replacement for
// the ambient process-scoped state the source relied on.
type Engine struct {
	store     store.Store
	inference *inference.Client
	cfg       *config.Config
	log       *slog.Logger
}

// New builds an Engine.
func New(s store.Store, ic *inference.Client, cfg *config.Config, log *slog.Logger) *Engine {
	return &Engine{store: s, inference: ic, cfg: cfg, log: log.With("component", "decision")}
}

// Decide runs the staged pipeline for req, already geo-resolved and
// with the caller having already cleared the gateway's rate-limit
// check. It returns a Verdict satisfying the data model's
// cross-field invariants, and the pipeline stage name that produced
// it.
func (e *Engine) Decide(ctx context.Context, req wafmodel.Request, geo wafmodel.GeoAttribution) (wafmodel.Verdict, string) {
	start := time.Now()

	// Stage 1: blacklist.
	blacklisted, err := e.store.IsBlacklisted(ctx, req.SourceIP)
	if err != nil {
		e.log.Warn("blacklist check faulted, proceeding unconfirmed", "ip", req.SourceIP, "error", err)
	}
	if blacklisted {
		v := wafmodel.Verdict{
			Action:       wafmodel.ActionBlocked,
			RiskScore:    1.0,
			Reason:       "Source IP is blacklisted",
			AttackFamily: wafmodel.AttackBlacklisted,
			DecidedBy:    wafmodel.DecidedByBlacklist,
		}
		return e.finish(v, start), "blacklist"
	}

	rep, ok := e.store.GetReputation(ctx, req.SourceIP)
	if !ok {
		rep = wafmodel.DefaultIPReputation
	}

	digest := CacheDigest(req)

	// Stage 3: verdict cache.
	if cachedScore, ok := e.store.GetVerdictCache(ctx, digest); ok {
		v := e.threshold(cachedScore, wafmodel.AttackFamily(""), "cached score", nil, nil)
		v.FromCache = true
		// Only the blocked band gets re-attributed to the cache; the
		// allow band keeps decided_by=NONE, matching the cross-field
		// invariant that action=ALLOWED implies decided_by=NONE.
		if v.Action != wafmodel.ActionAllowed {
			v.DecidedBy = wafmodel.DecidedByCache
		}
		v = e.applyDryRun(v)
		return e.finish(v, start), "cache"
	}

	// Stage 4: signature match.
	if v := signature.Match(req); v != nil {
		vv := *v
		vv = e.applyDryRun(vv)
		// Signature verdicts aren't cached: they short-circuit on
		// structural pattern match, not a learned score.
		return e.finish(vv, start), "signature"
	}

	fv := features.Extract(req, geo, rep)

	// Stage 5: inference. Detached from the request context so a
	// client disconnect can't cut the scoring call short - the hard
	// timeout is the http.Client's own, enforced independently.
	inferCtx, inferCancel := context.WithTimeout(context.Background(), e.cfg.AIRequestTimeout)
	result, err := e.inference.Score(inferCtx, req, geo, rep)
	inferCancel()
	if err != nil {
		metrics.InferenceFaults.Inc()
		var v wafmodel.Verdict
		if e.cfg.FailOpen {
			v = wafmodel.Verdict{
				Action:    wafmodel.ActionAllowed,
				RiskScore: 0.0,
				Reason:    "AI service unavailable (fail-open)",
				DecidedBy: wafmodel.DecidedByNone,
			}
		} else {
			v = wafmodel.Verdict{
				Action:    wafmodel.ActionBlocked,
				RiskScore: 1.0,
				Reason:    "AI service unavailable (fail-closed)",
				DecidedBy: wafmodel.DecidedByFailsafe,
			}
		}
		v.Features = fv
		v = e.applyDryRun(v)
		return e.finish(v, start), "inference-fault"
	}

	family := result.AttackFamily
	if family == "" {
		family = features.DetectFamily(req)
	}
	v := e.threshold(result.RiskScore, family, result.Reason, fv, result.RiskFactors)
	v = e.applyDryRun(v)

	// Stage 8: cache the raw score, not the action.
	if err := e.store.SetVerdictCache(ctx, digest, result.RiskScore, e.cfg.ModelCacheTTL); err != nil {
		e.log.Warn("verdict cache write failed", "digest", digest, "error", err)
	}

	return e.finish(v, start), "inference"
}

// threshold applies the AI_THRESHOLD_LOW/HIGH bands (stage 6).
func (e *Engine) threshold(riskScore float64, family wafmodel.AttackFamily, reason string, fv wafmodel.FeatureVector, riskFactors map[string]string) wafmodel.Verdict {
	v := wafmodel.Verdict{
		RiskScore:    riskScore,
		AttackFamily: family,
		Features:     fv,
	}
	if riskFactors != nil {
		v.RiskFactors = riskFactors
	}

	switch {
	case riskScore < e.cfg.AIThresholdLow:
		v.Action = wafmodel.ActionAllowed
		v.DecidedBy = wafmodel.DecidedByNone
		v.Reason = reason
	case riskScore > e.cfg.AIThresholdHigh:
		v.Action = wafmodel.ActionBlocked
		v.DecidedBy = wafmodel.DecidedByAI
		v.Reason = reason
	default:
		v.Action = wafmodel.ActionPending
		v.DecidedBy = wafmodel.DecidedByNone
		v.Reason = fmt.Sprintf("%s (queued for human review)", reason)
	}
	return v
}

// applyDryRun rewrites a BLOCKED verdict to ALLOWED when DRY_RUN is
// on, preserving risk_score and attack_family (stage 7). decided_by
// resets to NONE along with action: once forced open, nothing decided
// to block it anymore, and action=ALLOWED always implies
// decided_by=NONE.
func (e *Engine) applyDryRun(v wafmodel.Verdict) wafmodel.Verdict {
	if e.cfg.DryRun && v.Action == wafmodel.ActionBlocked {
		v.Action = wafmodel.ActionAllowed
		v.DecidedBy = wafmodel.DecidedByNone
		v.Reason = v.Reason + " (Allowed by Dry Run Mode)"
	}
	return v
}

func (e *Engine) finish(v wafmodel.Verdict, start time.Time) wafmodel.Verdict {
	if !v.Valid() {
		e.log.Warn("verdict violates cross-field invariants", "action", v.Action, "decided_by", v.DecidedBy, "risk_score", v.RiskScore)
	}
	v.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
	return v
}
