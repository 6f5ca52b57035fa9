package metaads

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
)

func newAuthenticatedConnector(t *testing.T) *Connector {
	t.Helper()

	c := New()
	cfg := config.NewBaseConfig("test-page", "meta_ads")
	cfg.Security.Credentials = map[string]string{
		"access_token": "EAAB-test-token",
		"page_id":      "101565000000000",
	}
	require.NoError(t, c.Initialize(context.Background(), cfg))
	t.Cleanup(func() { c.Close(context.Background()) })

	c.MarkAuthenticated(&core.ProfileInfo{ID: "101565000000000", Name: "Test Page"})
	return c
}

func TestInitializeRequiresCredentials(t *testing.T) {
	c := New()
	cfg := config.NewBaseConfig("test-page", "meta_ads")
	cfg.Security.Credentials = map[string]string{"access_token": "x"}

	err := c.Initialize(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidCredentials))
}

func TestUpdateValidatesEnvelopeBeforeNetwork(t *testing.T) {
	c := newAuthenticatedConnector(t)

	_, err := c.UpdateContent(context.Background(), "101565_9001", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	media := make([]core.Media, 5)
	for i := range media {
		media[i] = core.Media{URL: "https://cdn.example.com/a.jpg", Kind: core.MediaKindImage}
	}
	_, err = c.UpdateContent(context.Background(), "101565_9001",
		&core.ContentEnvelope{Text: "edited", Media: media})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestUpdateRequiresExternalID(t *testing.T) {
	c := newAuthenticatedConnector(t)

	_, err := c.UpdateContent(context.Background(), "", &core.ContentEnvelope{Text: "edited"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidConnectorReference))
}
