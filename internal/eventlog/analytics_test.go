package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityBucket_Thresholds(t *testing.T) {
	assert.Equal(t, "critical", SeverityBucket(0.95))
	assert.Equal(t, "critical", SeverityBucket(0.9))
	assert.Equal(t, "high", SeverityBucket(0.8))
	assert.Equal(t, "high", SeverityBucket(0.7))
	assert.Equal(t, "medium", SeverityBucket(0.6))
	assert.Equal(t, "medium", SeverityBucket(0.5))
	assert.Equal(t, "low", SeverityBucket(0.2))
}

func TestThreatLevel_Thresholds(t *testing.T) {
	assert.Equal(t, "critical", threatLevel(1001))
	assert.Equal(t, "high", threatLevel(101))
	assert.Equal(t, "medium", threatLevel(51))
	assert.Equal(t, "low", threatLevel(10))
}

func TestRangeConfig_CoversAllFourDocumentedWindows(t *testing.T) {
	for _, r := range []AggregateRange{Range15m, Range1h, Range24h, Range7d} {
		_, ok := rangeConfig[r]
		assert.True(t, ok, "missing bucket config for range %s", r)
	}
}
