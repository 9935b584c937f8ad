// Package features computes the fixed numeric feature vector that the
// decision engine attaches to verdicts (and so to persisted records),
// and classifies the apparent attack family from weighted keyword
// hits. Pattern style (compiled package-level regexp
// lists, lowercase-then-match) is grounded in the teacher's detection
// code for proxy/SSRF guards in the wider example pack.
package features

import (
	"math"
	"regexp"
	"strings"

	"github.com/ocx/wafcore/internal/wafmodel"
)

var (
	urlEncodedTriplet = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	hexPrefix         = regexp.MustCompile(`0x[0-9A-Fa-f]+`)
	unicodeEscape     = regexp.MustCompile(`\\u[0-9A-Fa-f]{4}`)
	htmlTag           = regexp.MustCompile(`<[a-zA-Z!/][^>]*>`)
	traversalPattern  = regexp.MustCompile(`(\.\./|\.\.\\|%2e%2e%2f|%2e%2e/)`)
	specialChars      = regexp.MustCompile("[<>'\";&|$`\\\\]")

	xssPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<script[^>]*>`),
		regexp.MustCompile(`javascript:`),
		regexp.MustCompile(`on(error|load|click)\s*=`),
		regexp.MustCompile(`<(iframe|embed|object)`),
		regexp.MustCompile(`alert\(`),
		regexp.MustCompile(`document\.cookie`),
		regexp.MustCompile(`window\.location`),
	}

	suspiciousUserAgent = regexp.MustCompile(`sqlmap|nikto|nmap|masscan|burp|zap|python-requests|curl|wget|bot|crawler|spider`)
)

var sqlKeywords = []string{
	"union", "select", "insert", "update", "delete", "drop", "create", "alter",
	"exec", "execute", "--", "/*", "*/", "xp_", "sp_", "char(", "concat", "waitfor",
}

// highRiskCountries is the fixed set consulted for the geo-risk
// feature. Membership is a coarse heuristic, not an accusation.
var highRiskCountries = map[string]bool{
	"CN": true, "RU": true, "KP": true, "IR": true,
}

// Extract computes the frozen feature vector for a request. It is
// pure and deterministic: the same request always yields byte-for-byte
// the same vector.
func Extract(req wafmodel.Request, geo wafmodel.GeoAttribution, rep wafmodel.IPReputation) wafmodel.FeatureVector {
	combinedText := strings.ToLower(req.URI + " " + req.QueryString + " " + req.Body)
	uriLower := strings.ToLower(req.URI)
	userAgent := req.Headers.Get("User-Agent")

	sqlCount := 0
	for _, kw := range sqlKeywords {
		sqlCount += strings.Count(combinedText, kw)
	}
	sqlDensity := 0.0
	if len(combinedText) > 0 {
		sqlDensity = clamp01(float64(sqlCount) / float64(len(combinedText)) * 100)
	}

	specialCount := len(specialChars.FindAllString(combinedText, -1))
	specialRatio := 0.0
	if len(combinedText) > 0 {
		specialRatio = clamp01(float64(specialCount) / float64(len(combinedText)))
	}

	nonASCIICount := 0
	for _, r := range combinedText {
		if r > 127 {
			nonASCIICount++
		}
	}
	nonASCIIRatio := 0.0
	if textLen := len([]rune(combinedText)); textLen > 0 {
		nonASCIIRatio = clamp01(float64(nonASCIICount) / float64(textLen))
	}

	geoRisk := 0.3
	if highRiskCountries[geo.CountryCode] {
		geoRisk = 0.7
	}

	values := []wafmodel.FeatureValue{
		{Name: "uri_length", Value: float64(len(req.URI))},
		{Name: "query_length", Value: float64(len(req.QueryString))},
		{Name: "body_length", Value: float64(len(req.Body))},
		{Name: "path_depth", Value: float64(strings.Count(req.URI, "/"))},
		{Name: "url_encoded_triplet_count", Value: float64(len(urlEncodedTriplet.FindAllString(combinedText, -1)))},
		{Name: "hex_prefix_count", Value: float64(len(hexPrefix.FindAllString(combinedText, -1)))},
		{Name: "unicode_escape_count", Value: float64(len(unicodeEscape.FindAllString(combinedText, -1)))},
		{Name: "non_ascii_ratio", Value: nonASCIIRatio},
		{Name: "entropy_combined", Value: shannonEntropy(combinedText)},
		{Name: "entropy_uri", Value: shannonEntropy(uriLower)},
		{Name: "sql_keyword_count", Value: float64(sqlCount)},
		{Name: "sql_keyword_density", Value: sqlDensity},
		{Name: "has_sql_comment", Value: boolFloat(strings.Contains(combinedText, "--") || strings.Contains(combinedText, "/*"))},
		{Name: "has_union", Value: boolFloat(strings.Contains(combinedText, "union"))},
		{Name: "has_select", Value: boolFloat(strings.Contains(combinedText, "select"))},
		{Name: "quote_count", Value: float64(strings.Count(combinedText, "'") + strings.Count(combinedText, "\""))},
		{Name: "xss_pattern_count", Value: float64(countXSSMatches(combinedText))},
		{Name: "html_tag_count", Value: float64(len(htmlTag.FindAllString(combinedText, -1)))},
		{Name: "has_dotdot", Value: boolFloat(strings.Contains(combinedText, ".."))},
		{Name: "traversal_pattern_count", Value: float64(len(traversalPattern.FindAllString(combinedText, -1)))},
		{Name: "has_file_protocol", Value: boolFloat(strings.Contains(combinedText, "file://"))},
		{Name: "has_gopher_protocol", Value: boolFloat(strings.Contains(combinedText, "gopher://"))},
		{Name: "special_char_count", Value: float64(specialCount)},
		{Name: "special_char_ratio", Value: specialRatio},
		{Name: "user_agent_length", Value: float64(len(userAgent))},
		{Name: "is_suspicious_user_agent", Value: boolFloat(suspiciousUserAgent.MatchString(strings.ToLower(userAgent)))},
		{Name: "ip_reputation_score", Value: rep.ReputationScore},
		{Name: "geo_risk_score", Value: geoRisk},
		{Name: "header_count", Value: float64(len(req.Headers))},
		{Name: "has_x_forwarded_for", Value: boolFloat(req.Headers.Get("X-Forwarded-For") != "")},
		{Name: "content_length_mismatch", Value: boolFloat(contentLengthMismatch(req))},
		{Name: "is_post_with_empty_body", Value: boolFloat(req.Method == "POST" && req.Body == "")},
		{Name: "method_is_unusual", Value: boolFloat(!isCommonMethod(req.Method))},
		{Name: "has_null_byte", Value: boolFloat(strings.Contains(combinedText, "\x00"))},
		{Name: "repeated_char_run_length", Value: float64(longestRun(combinedText))},
	}

	return values
}

func countXSSMatches(text string) int {
	count := 0
	for _, p := range xssPatterns {
		count += len(p.FindAllString(text, -1))
	}
	return count
}

func contentLengthMismatch(req wafmodel.Request) bool {
	cl := req.Headers.Get("Content-Length")
	if cl == "" {
		return false
	}
	return len(cl) > 0 && len(req.Body) == 0 && cl != "0"
}

func isCommonMethod(method string) bool {
	switch method {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
		return true
	default:
		return false
	}
}

func longestRun(s string) int {
	if s == "" {
		return 0
	}
	longest, current := 1, 1
	runes := []rune(s)
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			current++
			if current > longest {
				longest = current
			}
		} else {
			current = 1
		}
	}
	return longest
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// shannonEntropy computes the byte-level Shannon entropy of s, in
// [0, log2(256)].
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	total := float64(len(s))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
