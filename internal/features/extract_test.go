package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/wafcore/internal/wafmodel"
)

func benignRequest() wafmodel.Request {
	return wafmodel.Request{
		Method:      "GET",
		URI:         "/products",
		QueryString: "id=123",
		Headers:     wafmodel.NewHeaders(map[string]string{"User-Agent": "Mozilla/5.0"}),
		Body:        "",
		SourceIP:    "10.1.1.10",
	}
}

func TestExtract_IsDeterministic(t *testing.T) {
	req := benignRequest()
	geo := wafmodel.GeoAttribution{CountryCode: "US"}
	rep := wafmodel.DefaultIPReputation

	first := Extract(req, geo, rep)
	second := Extract(req, geo, rep)
	assert.Equal(t, first, second)
}

func TestExtract_MatchesFrozenSchema(t *testing.T) {
	fv := Extract(benignRequest(), wafmodel.UnknownGeo, wafmodel.DefaultIPReputation)
	require.Len(t, fv, len(wafmodel.FeatureSchema))
	for i, name := range wafmodel.FeatureSchema {
		assert.Equal(t, name, fv[i].Name, "feature order mismatch at index %d", i)
	}
}

func TestExtract_RatiosAreBounded(t *testing.T) {
	req := wafmodel.Request{
		Method:      "POST",
		URI:         "/x",
		QueryString: "a=<script>alert(1)</script>&b=' OR '1'='1",
		Body:        "日本語のテキスト",
	}
	fv := Extract(req, wafmodel.UnknownGeo, wafmodel.DefaultIPReputation)
	m := fv.Map()
	assert.GreaterOrEqual(t, m["non_ascii_ratio"], 0.0)
	assert.LessOrEqual(t, m["non_ascii_ratio"], 1.0)
	assert.GreaterOrEqual(t, m["special_char_ratio"], 0.0)
	assert.LessOrEqual(t, m["special_char_ratio"], 1.0)
}

func TestDetectFamily_SQLInjection(t *testing.T) {
	req := wafmodel.Request{URI: "/item", QueryString: "id=1 UNION SELECT * FROM users--"}
	assert.Equal(t, wafmodel.AttackSQLInjection, DetectFamily(req))
}

func TestDetectFamily_XSS(t *testing.T) {
	req := wafmodel.Request{QueryString: "q=<script>alert(1)</script>"}
	assert.Equal(t, wafmodel.AttackXSS, DetectFamily(req))
}

func TestDetectFamily_NoneForBenign(t *testing.T) {
	assert.Equal(t, wafmodel.AttackFamily(""), DetectFamily(benignRequest()))
}

func TestExplain_SurfacesFactorsAboveThreshold(t *testing.T) {
	req := wafmodel.Request{QueryString: "id=1 UNION SELECT * FROM users--"}
	fv := Extract(req, wafmodel.UnknownGeo, wafmodel.DefaultIPReputation)
	explanation := Explain(fv, 1.0)
	_, ok := explanation["sql_keyword_count"]
	assert.True(t, ok)
}
