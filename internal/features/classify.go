package features

import (
	"fmt"
	"strings"

	"github.com/ocx/wafcore/internal/wafmodel"
)

// familyOrder is the declared family order, and familyKeywords maps
// each family to its weighted keyword list. Order is significant:
// DetectFamily breaks ties by this declared order, so earlier
// families win a tied argmax.
var familyOrder = []wafmodel.AttackFamily{
	wafmodel.AttackSQLInjection,
	wafmodel.AttackXSS,
	wafmodel.AttackPathTraversal,
	wafmodel.AttackLFI,
	wafmodel.AttackSSRF,
}

var familyKeywords = map[wafmodel.AttackFamily][]struct {
	term   string
	weight float64
}{
	wafmodel.AttackSQLInjection: {
		{"union select", 3}, {"union", 2}, {"select", 1}, {"--", 2}, {"/*", 1},
		{"drop table", 3}, {"insert into", 2}, {"xp_", 2}, {"waitfor", 2}, {"' or '1'='1", 3},
	},
	wafmodel.AttackXSS: {
		{"<script", 3}, {"javascript:", 2}, {"onerror=", 2}, {"onload=", 2},
		{"alert(", 2}, {"document.cookie", 3}, {"<iframe", 2},
	},
	wafmodel.AttackPathTraversal: {
		{"../", 2}, {"..\\", 2}, {"%2e%2e%2f", 2}, {"/etc/passwd", 3}, {"boot.ini", 3},
	},
	wafmodel.AttackLFI: {
		{"php://", 3}, {"file://", 2}, {"include=", 1}, {"data://", 2},
	},
	wafmodel.AttackSSRF: {
		{"169.254.169.254", 3}, {"metadata.google.internal", 3}, {"gopher://", 2}, {"localhost", 1}, {"127.0.0.1", 1},
	},
}

// DetectFamily scores each family by weighted keyword hits over the
// lowercased combined request text and returns the argmax, breaking
// ties by familyOrder. Returns "" when every family scores zero.
func DetectFamily(req wafmodel.Request) wafmodel.AttackFamily {
	text := strings.ToLower(req.URI + " " + req.QueryString + " " + req.Body)

	var best wafmodel.AttackFamily
	bestScore := 0.0
	for _, family := range familyOrder {
		score := 0.0
		for _, kw := range familyKeywords[family] {
			if strings.Contains(text, kw.term) {
				score += kw.weight
			}
		}
		if score > bestScore {
			bestScore = score
			best = family
		}
	}
	return best
}

// explainThresholds gates which features are "contributing factors"
// worth surfacing to a human reviewer.
var explainThresholds = map[string]float64{
	"sql_keyword_count":       1,
	"xss_pattern_count":       1,
	"traversal_pattern_count": 1,
	"special_char_count":      5,
	"entropy_combined":        4.5,
	"is_suspicious_user_agent": 1,
	"geo_risk_score":          0.7,
}

// Explain emits a small human-readable mapping of the features whose
// values cross their declared threshold, annotated with the overall
// risk score for context.
func Explain(fv wafmodel.FeatureVector, riskScore float64) map[string]string {
	out := make(map[string]string)
	for _, f := range fv {
		threshold, tracked := explainThresholds[f.Name]
		if !tracked || f.Value < threshold {
			continue
		}
		out[f.Name] = fmt.Sprintf("%.2f (>= %.2f)", f.Value, threshold)
	}
	out["risk_score"] = fmt.Sprintf("%.3f", riskScore)
	return out
}
