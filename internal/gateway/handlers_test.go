package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/wafcore/internal/broadcast"
	"github.com/ocx/wafcore/internal/config"
	"github.com/ocx/wafcore/internal/decision"
	"github.com/ocx/wafcore/internal/geo"
	"github.com/ocx/wafcore/internal/inference"
	"github.com/ocx/wafcore/internal/store"
	"github.com/ocx/wafcore/internal/wafmodel"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestCore wires a Core against an httptest inference stub
// returning scoreResult for every /analyze call, with no Postgres
// event log attached (persistence is exercised separately).
func newTestCore(t *testing.T, scoreResult inference.Result) (*Core, *httptest.Server) {
	t.Helper()
	infSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(scoreResult)
	}))
	t.Cleanup(infSrv.Close)

	log := discardLogger()
	s := store.NewMemoryStore(log)
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{
		AIThresholdLow:    0.3,
		AIThresholdHigh:   0.7,
		ModelCacheTTL:     time.Minute,
		AIRequestTimeout:  time.Second,
		RateLimitRequests: 5,
		RateLimitWindow:   time.Minute,
		FailOpen:          true,
	}

	ic := inference.NewClient(infSrv.URL, time.Second)
	engine := decision.New(s, ic, cfg, log)
	hub := broadcast.NewHub(log)

	core := NewCore()
	core.Config = cfg
	core.Store = s
	core.Geo = geo.NewMockOnly(log)
	core.Engine = engine
	core.Inference = ic
	core.Hub = hub
	core.Log = log

	return core, infSrv
}

func postAnalyze(t *testing.T, core *Core, meta requestMetadata) (*httptest.ResponseRecorder, analyzeResponse) {
	t.Helper()
	body, err := json.Marshal(meta)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze_request", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	core.AnalyzeRequest(rec, req)

	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestAnalyzeRequest_BenignGetIsAllowed(t *testing.T) {
	core, _ := newTestCore(t, inference.Result{RiskScore: 0.05, Reason: "benign"})

	_, resp := postAnalyze(t, core, requestMetadata{
		Method: "GET", URI: "/products", QueryString: "id=123", SourceIP: "10.1.1.5",
	})
	assert.Equal(t, wafmodel.ActionAllowed, resp.Action)
	assert.Less(t, resp.RiskScore, 0.3)
}

func TestAnalyzeRequest_SQLInjectionIsBlocked(t *testing.T) {
	core, _ := newTestCore(t, inference.Result{RiskScore: 0.05})

	_, resp := postAnalyze(t, core, requestMetadata{
		Method: "GET", URI: "/item", QueryString: "id=1 UNION SELECT * FROM users--", SourceIP: "10.1.1.6",
	})
	assert.Equal(t, wafmodel.ActionBlocked, resp.Action)
	assert.Equal(t, wafmodel.AttackSQLInjection, resp.AttackFamily)
	assert.Equal(t, 1.0, resp.RiskScore)
}

func TestAnalyzeRequest_XSSIsBlocked(t *testing.T) {
	core, _ := newTestCore(t, inference.Result{RiskScore: 0.05})

	_, resp := postAnalyze(t, core, requestMetadata{
		Method: "POST", URI: "/comment", Body: "<script>alert(1)</script>", SourceIP: "10.1.1.7",
	})
	assert.Equal(t, wafmodel.ActionBlocked, resp.Action)
	assert.Equal(t, wafmodel.AttackXSS, resp.AttackFamily)
}

func TestAnalyzeRequest_SSRFCloudMetadataIsBlocked(t *testing.T) {
	core, _ := newTestCore(t, inference.Result{RiskScore: 0.05})

	_, resp := postAnalyze(t, core, requestMetadata{
		Method: "GET", URI: "/fetch", QueryString: "url=http://169.254.169.254/latest/meta-data/", SourceIP: "10.1.1.8",
	})
	assert.Equal(t, wafmodel.ActionBlocked, resp.Action)
	assert.Equal(t, wafmodel.AttackSSRF, resp.AttackFamily)
}

func TestAnalyzeRequest_SixthRequestInWindowIsRateLimited(t *testing.T) {
	core, _ := newTestCore(t, inference.Result{RiskScore: 0.05})
	ip := "10.1.1.9"

	for i := 0; i < 5; i++ {
		_, resp := postAnalyze(t, core, requestMetadata{Method: "GET", URI: "/ok", SourceIP: ip})
		require.NotEqual(t, "Rate limit exceeded", resp.Reason)
	}

	_, resp := postAnalyze(t, core, requestMetadata{Method: "GET", URI: "/ok", SourceIP: ip})
	assert.Equal(t, wafmodel.ActionBlocked, resp.Action)
	assert.Equal(t, "Rate limit exceeded", resp.Reason)
}

func TestAnalyzeRequest_DryRunAllowsSignatureBlock(t *testing.T) {
	core, _ := newTestCore(t, inference.Result{RiskScore: 0.05})
	core.Config.DryRun = true

	_, resp := postAnalyze(t, core, requestMetadata{
		Method: "GET", URI: "/item", QueryString: "id=1 UNION SELECT * FROM users--", SourceIP: "10.1.1.10",
	})
	assert.Equal(t, wafmodel.ActionAllowed, resp.Action)
	assert.Contains(t, resp.Reason, "Dry Run Mode")
	assert.Equal(t, wafmodel.AttackSQLInjection, resp.AttackFamily)
}

func TestAnalyzeRequest_PanicRecoversFailOpen(t *testing.T) {
	core, _ := newTestCore(t, inference.Result{RiskScore: 0.05})
	core.Geo = nil // forces a nil-pointer panic inside Resolve; a public IP reaches the reader check

	rec := httptest.NewRecorder()
	body, _ := json.Marshal(requestMetadata{Method: "GET", URI: "/x", SourceIP: "8.8.8.8"})
	httpReq := httptest.NewRequest(http.MethodPost, "/api/analyze_request", bytes.NewReader(body))
	core.AnalyzeRequest(rec, httpReq)

	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, wafmodel.ActionAllowed, resp.Action)
	assert.Contains(t, resp.Reason, "WAF error (fail-open)")
	assert.Equal(t, int64(0), resp.DecisionID)
}

func TestRetrain_SecondTriggerWithinWindowIsRejected(t *testing.T) {
	core, _ := newTestCore(t, inference.Result{RiskScore: 0.0})

	body, _ := json.Marshal(retrainRequest{Trigger: "manual"})
	first := httptest.NewRecorder()
	core.Retrain(first, httptest.NewRequest(http.MethodPost, "/api/retrain", bytes.NewReader(body)))
	assert.Equal(t, http.StatusAccepted, first.Code)

	second := httptest.NewRecorder()
	core.Retrain(second, httptest.NewRequest(http.MethodPost, "/api/retrain", bytes.NewReader(body)))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
