package gateway

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every route in the external interface table onto c,
// registering each path exactly once - the source registers feedback
// twice with the second registration unreachable, which is not
// reproduced here.
func NewRouter(c *Core, allowedOrigins []string) *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware(allowedOrigins), loggingMiddleware(c.Log))

	r.HandleFunc("/health", c.Health).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/metrics", promhttp.Handler().ServeHTTP).Methods(http.MethodGet)
	r.HandleFunc("/ws", c.ServeWS)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/analyze_request", c.AnalyzeRequest).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/requests", c.ListRequests).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/requests/pending", c.ListPending).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/feedback", c.Feedback).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/stats", c.Stats).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/top-ips", c.TopIPs).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/recent-events", c.RecentEvents).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/v1/stats/aggregate", c.AggregateStats).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/ip/{ip}", c.IPInfo).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/blacklist", c.Blacklist).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/whitelist", c.Whitelist).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/retrain", c.Retrain).Methods(http.MethodPost, http.MethodOptions)

	return r
}
