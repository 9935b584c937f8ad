package geo

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolve_PrivateRangeUsesMock(t *testing.T) {
	r := NewMockOnly(discardLogger())

	g := r.Resolve("10.1.1.10")
	assert.Equal(t, "US", g.CountryCode)
	assert.True(t, g.IsPrivate)
}

func TestResolve_IsDeterministicAcrossRetries(t *testing.T) {
	r := NewMockOnly(discardLogger())

	first := r.Resolve("203.0.113.44")
	second := r.Resolve("203.0.113.44")
	assert.Equal(t, first, second)
}

func TestResolve_LeadingOctetTableMatchesDocumentedExamples(t *testing.T) {
	r := NewMockOnly(discardLogger())

	us := r.Resolve("10.1.5.5")
	cn := r.Resolve("10.2.9.9")
	require.NotEqual(t, us.CountryCode, cn.CountryCode)
	assert.Equal(t, "US", us.CountryCode)
	assert.Equal(t, "CN", cn.CountryCode)
}

func TestResolve_MalformedAddressFallsBackWithoutPanic(t *testing.T) {
	r := NewMockOnly(discardLogger())

	g := r.Resolve("not-an-ip")
	assert.NotEmpty(t, g.CountryCode)
}

func TestMockAttribution_ValidLatLon(t *testing.T) {
	r := NewMockOnly(discardLogger())
	for _, ip := range []string{"8.8.8.8", "1.1.1.1", "172.217.1.1", "198.51.100.7"} {
		g := r.Resolve(ip)
		assert.True(t, g.Valid(), "ip %s produced invalid coordinates %+v", ip, g)
	}
}
