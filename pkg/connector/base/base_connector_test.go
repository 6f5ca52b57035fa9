package base

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
)

func newInitializedBase(t *testing.T, platform core.Platform) *BaseConnector {
	t.Helper()
	bc := NewBaseConnector(platform, "1.0.0")
	cfg := config.NewBaseConfig("test", string(platform))
	require.NoError(t, bc.Initialize(context.Background(), cfg))
	t.Cleanup(func() { bc.Close(context.Background()) })
	return bc
}

func TestEnsureOperationalUnsupportedFailsBeforeBudget(t *testing.T) {
	bc := newInitializedBase(t, core.PlatformTikTok)
	bc.MarkAuthenticated(&core.ProfileInfo{ID: "u1"})

	err := bc.EnsureOperational(context.Background(), core.OpUpdate)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUnsupportedOperation))

	for _, stats := range bc.RateLimitStats() {
		assert.Zero(t, stats.AllowedCalls, "capability rejection must not consume budget")
	}
}

func TestEnsureOperationalRequiresAuthentication(t *testing.T) {
	bc := newInitializedBase(t, core.PlatformTikTok)

	err := bc.EnsureOperational(context.Background(), core.OpPublish)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuthFailed))

	// the authenticate probe itself is exempt from the auth gate
	assert.NoError(t, bc.EnsureOperational(context.Background(), core.OpAuthenticate))

	bc.MarkAuthenticated(&core.ProfileInfo{ID: "u1"})
	assert.NoError(t, bc.EnsureOperational(context.Background(), core.OpPublish))
}

func TestMarkExpiredBlocksDispatch(t *testing.T) {
	bc := newInitializedBase(t, core.PlatformTikTok)
	bc.MarkAuthenticated(&core.ProfileInfo{ID: "u1"})
	require.NoError(t, bc.EnsureOperational(context.Background(), core.OpPublish))

	bc.MarkExpired()
	assert.Equal(t, core.AuthStateExpired, bc.AuthState())

	err := bc.EnsureOperational(context.Background(), core.OpPublish)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuthFailed))
}

func TestCloseIsIdempotent(t *testing.T) {
	bc := newInitializedBase(t, core.PlatformTwitter)

	require.NoError(t, bc.Close(context.Background()))
	require.NoError(t, bc.Close(context.Background()))

	err := bc.EnsureOperational(context.Background(), core.OpPublish)
	require.Error(t, err, "closed connector must refuse dispatch")
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	bc := NewBaseConnector(core.PlatformTwitter, "1.0.0")
	err := bc.Initialize(context.Background(), &config.BaseConfig{})
	require.Error(t, err)
}
