package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/wafcore/internal/wafmodel"
)

func TestMatch_SQLInjectionViaUnionSelect(t *testing.T) {
	req := wafmodel.Request{URI: "/item", QueryString: "id=1 UNION SELECT * FROM users--"}
	v := Match(req)
	require.NotNil(t, v)
	assert.Equal(t, wafmodel.ActionBlocked, v.Action)
	assert.Equal(t, 1.0, v.RiskScore)
	assert.Equal(t, wafmodel.AttackSQLInjection, v.AttackFamily)
	assert.Equal(t, wafmodel.DecidedBySignature, v.DecidedBy)
}

func TestMatch_XSSScriptTag(t *testing.T) {
	req := wafmodel.Request{QueryString: "q=<script>alert(1)</script>"}
	v := Match(req)
	require.NotNil(t, v)
	assert.Equal(t, wafmodel.AttackXSS, v.AttackFamily)
	assert.Equal(t, wafmodel.ActionBlocked, v.Action)
}

func TestMatch_SSRFCloudMetadata(t *testing.T) {
	req := wafmodel.Request{URI: "/fetch", QueryString: "u=http://169.254.169.254/latest/meta-data/"}
	v := Match(req)
	require.NotNil(t, v)
	assert.Equal(t, wafmodel.AttackSSRF, v.AttackFamily)
	assert.Equal(t, 1.0, v.RiskScore)
}

func TestMatch_NoSignatureForBenignRequest(t *testing.T) {
	req := wafmodel.Request{Method: "GET", URI: "/products", QueryString: "id=123", Body: ""}
	assert.Nil(t, Match(req))
}

func TestMatch_CloudMetadataOrderedBeforeGenericSSRF(t *testing.T) {
	// The metadata rule must fire before the generic localhost/RFC1918
	// rules since it appears earlier in the fixed rule list.
	req := wafmodel.Request{QueryString: "http://169.254.169.254/"}
	v := Match(req)
	require.NotNil(t, v)
	assert.Equal(t, SeverityCritical, severityFor(req))
}

func severityFor(req wafmodel.Request) Severity {
	for _, rule := range rules {
		if matches(rule.Pattern, req) {
			return rule.Severity
		}
	}
	return ""
}
