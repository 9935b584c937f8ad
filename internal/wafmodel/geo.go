package wafmodel

// GeoAttribution is the resolved geographic attribution for a source
// IP, produced by the geo resolver (C1) and folded into a
// DecisionRecord. Private addresses and failed lookups resolve to a
// deterministic mock entry (IsPrivate set for private ranges);
// CountryCode is "XX" only in UnknownGeo.
type GeoAttribution struct {
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	IsPrivate   bool    `json:"is_private"`
}

// Valid reports whether Lat/Lon fall within the invariants required by
// the data model: lat in [-90,90], lon in [-180,180].
func (g GeoAttribution) Valid() bool {
	return g.Lat >= -90 && g.Lat <= 90 && g.Lon >= -180 && g.Lon <= 180
}

// UnknownGeo stands in where no resolution was attempted: the gateway
// attaches it to rate-limited requests, which skip geo resolution.
var UnknownGeo = GeoAttribution{CountryCode: "XX", CountryName: "Unknown"}
