package wafmodel

// FeatureValue is one named entry in a FeatureVector. Keeping name and
// value paired (rather than a bare []float64) lets downstream code
// log and explain individual features without re-zipping against the
// schema every time.
type FeatureValue struct {
	Name  string
	Value float64
}

// FeatureVector is the fixed-order, fixed-length output of feature
// extraction (C3). Order matches FeatureSchema and the wire contract
// expected by the external inference service; extraction must never
// reorder or drop entries.
type FeatureVector []FeatureValue

// Map flattens the vector into a name->value map for callers (the
// event log's JSON encoding, tests) that want lookup instead of order.
func (fv FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, len(fv))
	for _, f := range fv {
		m[f.Name] = f.Value
	}
	return m
}

// Floats returns the bare values in FeatureSchema order. The
// inference client's request does not carry them.
func (fv FeatureVector) Floats() []float64 {
	out := make([]float64, len(fv))
	for i, f := range fv {
		out[i] = f.Value
	}
	return out
}

// FeatureSchema is the frozen, ordered list of feature names produced
// by extraction. Every FeatureVector must contain exactly these names
// in exactly this order; changing it changes the inference service's
// wire contract and must be versioned there too.
var FeatureSchema = []string{
	"uri_length",
	"query_length",
	"body_length",
	"path_depth",
	"url_encoded_triplet_count",
	"hex_prefix_count",
	"unicode_escape_count",
	"non_ascii_ratio",
	"entropy_combined",
	"entropy_uri",
	"sql_keyword_count",
	"sql_keyword_density",
	"has_sql_comment",
	"has_union",
	"has_select",
	"quote_count",
	"xss_pattern_count",
	"html_tag_count",
	"has_dotdot",
	"traversal_pattern_count",
	"has_file_protocol",
	"has_gopher_protocol",
	"special_char_count",
	"special_char_ratio",
	"user_agent_length",
	"is_suspicious_user_agent",
	"ip_reputation_score",
	"geo_risk_score",
	"header_count",
	"has_x_forwarded_for",
	"content_length_mismatch",
	"is_post_with_empty_body",
	"method_is_unusual",
	"has_null_byte",
	"repeated_char_run_length",
}
