// Package signature implements the ordered regex-plus-family rule
// list that short-circuits the decision pipeline on a match. The
// cloud-metadata and private-range rules are grounded in the SSRF
// guard pattern from the wider example pack (a dialer that refuses
// loopback/private/link-local and the 169.254.169.254 metadata
// address before ever opening a socket); here the same addresses are
// matched textually against the request instead of gating a dial.
package signature

import (
	"fmt"
	"regexp"

	"github.com/ocx/wafcore/internal/wafmodel"
)

// Severity determines the risk score a matched rule produces.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
)

// Rule is one declared (regex, family, severity) entry.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Family   wafmodel.AttackFamily
	Severity Severity
}

// rules is the fixed, ordered rule list. Order is part of the
// contract: downstream tests rely on the first match winning, so
// appends only go at the end.
var rules = []Rule{
	{"cloud-metadata-aws", regexp.MustCompile(`169\.254\.169\.254`), wafmodel.AttackSSRF, SeverityCritical},
	{"cloud-metadata-gcp-hostname", regexp.MustCompile(`metadata\.google\.internal`), wafmodel.AttackSSRF, SeverityCritical},
	{"cloud-metadata-aws-alt", regexp.MustCompile(`169\.254\.169\.253`), wafmodel.AttackSSRF, SeverityCritical},
	{"localhost-literal", regexp.MustCompile(`(?i)://localhost([:/]|$)`), wafmodel.AttackSSRF, SeverityHigh},
	{"loopback-ip", regexp.MustCompile(`://127\.\d{1,3}\.\d{1,3}\.\d{1,3}`), wafmodel.AttackSSRF, SeverityHigh},
	{"rfc1918-10", regexp.MustCompile(`://10\.\d{1,3}\.\d{1,3}\.\d{1,3}`), wafmodel.AttackSSRF, SeverityHigh},
	{"rfc1918-172", regexp.MustCompile(`://172\.(1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}`), wafmodel.AttackSSRF, SeverityHigh},
	{"rfc1918-192", regexp.MustCompile(`://192\.168\.\d{1,3}\.\d{1,3}`), wafmodel.AttackSSRF, SeverityHigh},
	{"file-protocol", regexp.MustCompile(`(?i)file://`), wafmodel.AttackLFI, SeverityHigh},
	{"gopher-protocol", regexp.MustCompile(`(?i)gopher://`), wafmodel.AttackSSRF, SeverityCritical},
	{"dict-protocol", regexp.MustCompile(`(?i)dict://`), wafmodel.AttackSSRF, SeverityHigh},
	{"ftp-protocol", regexp.MustCompile(`(?i)ftp://`), wafmodel.AttackSSRF, SeverityMedium},
	{"tftp-protocol", regexp.MustCompile(`(?i)tftp://`), wafmodel.AttackSSRF, SeverityMedium},
	{"path-traversal", regexp.MustCompile(`(\.\./|\.\.\\|%2e%2e%2f|%2e%2e/)`), wafmodel.AttackPathTraversal, SeverityHigh},
	{"etc-passwd", regexp.MustCompile(`(?i)/etc/passwd`), wafmodel.AttackPathTraversal, SeverityCritical},
	{"shell-file-path", regexp.MustCompile(`(?i)\.(sh|bash|cgi)(\?|$|\s)`), wafmodel.AttackLFI, SeverityMedium},
	{"xss-script-tag", regexp.MustCompile(`(?i)<script[^>]*>`), wafmodel.AttackXSS, SeverityCritical},
	{"xss-event-handler", regexp.MustCompile(`(?i)on(error|load|click)\s*=`), wafmodel.AttackXSS, SeverityHigh},
	{"xss-javascript-uri", regexp.MustCompile(`(?i)javascript:`), wafmodel.AttackXSS, SeverityHigh},
	{"xss-iframe", regexp.MustCompile(`(?i)<(iframe|embed|object)`), wafmodel.AttackXSS, SeverityMedium},
	{"sql-union-select", regexp.MustCompile(`(?i)union(\s+all)?\s+select`), wafmodel.AttackSQLInjection, SeverityCritical},
	{"sql-tautology", regexp.MustCompile(`(?i)'\s*or\s*'?1'?\s*=\s*'?1`), wafmodel.AttackSQLInjection, SeverityCritical},
	{"sql-comment", regexp.MustCompile(`(--|#|/\*)\s*$`), wafmodel.AttackSQLInjection, SeverityMedium},
	{"sql-stacked-query", regexp.MustCompile(`(?i);\s*(drop|insert|update|delete)\s`), wafmodel.AttackSQLInjection, SeverityCritical},
}

// Match iterates the fixed rule list against URI, query string, and
// body, in that field order for a given rule, and returns the first
// matching verdict. A nil return means no signature fired.
func Match(req wafmodel.Request) *wafmodel.Verdict {
	for _, rule := range rules {
		if matches(rule.Pattern, req) {
			riskScore := 0.8
			if rule.Severity == SeverityCritical {
				riskScore = 1.0
			}
			return &wafmodel.Verdict{
				Action:       wafmodel.ActionBlocked,
				RiskScore:    riskScore,
				Reason:       fmt.Sprintf("Matched signature: %s", rule.Family),
				AttackFamily: rule.Family,
				DecidedBy:    wafmodel.DecidedBySignature,
			}
		}
	}
	return nil
}

func matches(pattern *regexp.Regexp, req wafmodel.Request) bool {
	return pattern.MatchString(req.URI) ||
		pattern.MatchString(req.QueryString) ||
		pattern.MatchString(req.Body)
}
