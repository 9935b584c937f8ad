// Package gateway is the unified request entry point (C9): it fixes
// the request timestamp, runs the rate-limit check once (the only
// place it runs — see internal/decision's package doc), invokes the
// decision engine, persists the result, publishes it to dashboard
// subscribers, and replies. Explicit dependency injection via Core
// replaces the teacher's ambient process-scoped app state, the way
// the design notes call for: "a Core value owning handles to C1-C8,
// passed into each handler."
package gateway

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ocx/wafcore/internal/broadcast"
	"github.com/ocx/wafcore/internal/config"
	"github.com/ocx/wafcore/internal/decision"
	"github.com/ocx/wafcore/internal/eventlog"
	"github.com/ocx/wafcore/internal/geo"
	"github.com/ocx/wafcore/internal/inference"
	"github.com/ocx/wafcore/internal/store"
)

// Core owns every component handle a request handler needs.
type Core struct {
	Config    *config.Config
	Store     store.Store
	Geo       *geo.Resolver
	Engine    *decision.Engine
	EventLog  *eventlog.Store
	Hub       *broadcast.Hub
	Inference *inference.Client
	Upgrader  websocket.Upgrader
	Log       *slog.Logger

	// RetrainLimiter guards /api/retrain: it has its own abuse surface
	// distinct from the per-IP request rate limiter, since a single
	// legitimate caller triggering it repeatedly can still hammer the
	// inference service's retrain pipeline.
	RetrainLimiter *rate.Limiter
}

// NewCore builds a Core with its defaults applied (retrain limited to
// one trigger per minute, matching a retraining job's own cadence).
func NewCore() *Core {
	return &Core{RetrainLimiter: rate.NewLimiter(rate.Every(time.Minute), 1)}
}
