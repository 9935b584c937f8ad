// Package inference calls the external ML scoring service over HTTP.
// The request construction, timeout client, and fault mapping are
// grounded in the teacher's webhooks.Dispatcher.deliver — a POST with
// a timeout-bound http.Client and no hot-path retry — adapted here to
// a synchronous call-and-score shape instead of fire-and-forget
// delivery.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ocx/wafcore/internal/wafmodel"
)

// ErrFault is returned for any transport, timeout, or non-2xx
// response. The decision engine never distinguishes sub-cases: every
// fault resolves through the same fail-open/fail-closed branch.
var ErrFault = fmt.Errorf("inference: service fault")

// Result is the inference service's scored response.
type Result struct {
	RiskScore    float64           `json:"risk_score"`
	Reason       string            `json:"reason"`
	AttackFamily wafmodel.AttackFamily `json:"attack_type,omitempty"`
	Features     map[string]float64    `json:"features,omitempty"`
	RiskFactors  map[string]string     `json:"risk_factors,omitempty"`
}

type analyzeRequest struct {
	Method       string            `json:"method"`
	URI          string            `json:"uri"`
	QueryString  string            `json:"query_string"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
	SourceIP     string            `json:"source_ip"`
	GeoCountry   string            `json:"geo_country"`
	IPReputation float64           `json:"ip_reputation"`
}

// Client calls the inference service's /analyze endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client with a request timeout, the way
// Dispatcher binds a fixed-timeout http.Client rather than leaving
// the zero-value (no timeout) default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Score calls /analyze with the request, resolved geo, and
// reputation. Any transport, timeout, or non-2xx response returns
// ErrFault; it is never retried on the hot path.
func (c *Client) Score(ctx context.Context, req wafmodel.Request, geo wafmodel.GeoAttribution, rep wafmodel.IPReputation) (Result, error) {
	payload := analyzeRequest{
		Method:       req.Method,
		URI:          req.URI,
		QueryString:  req.QueryString,
		Headers:      map[string]string(req.Headers),
		Body:         req.Body,
		SourceIP:     req.SourceIP,
		GeoCountry:   geo.CountryCode,
		IPReputation: rep.ReputationScore,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("inference: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: building request: %v", ErrFault, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFault, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w: status %d", ErrFault, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading response: %v", ErrFault, err)
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Result{}, fmt.Errorf("%w: decoding response: %v", ErrFault, err)
	}
	return result, nil
}
