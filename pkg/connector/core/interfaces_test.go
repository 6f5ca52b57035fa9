package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/pkg/errors"
)

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("twitter")
	require.NoError(t, err)
	assert.Equal(t, PlatformTwitter, p)

	_, err = ParsePlatform("myspace")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidConnectorReference))
}

func TestNewMetricsDerivedRates(t *testing.T) {
	m := NewMetrics(1000, 50, 25.0, 5)
	assert.InDelta(t, 0.05, m.CTR, 1e-9)
	assert.InDelta(t, 0.5, m.CPC, 1e-9)
	assert.InDelta(t, 5.0, m.CPA, 1e-9)
}

func TestNewMetricsZeroDenominators(t *testing.T) {
	m := NewMetrics(0, 0, 12.5, 0)
	assert.Zero(t, m.CTR)
	assert.Zero(t, m.CPC)
	assert.Zero(t, m.CPA)
	assert.Equal(t, 12.5, m.Spend)
}
