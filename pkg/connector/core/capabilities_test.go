package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/pkg/errors"
)

func TestEveryPlatformHasAMatrix(t *testing.T) {
	for _, p := range Platforms() {
		m := MatrixFor(p)
		assert.True(t, m.Publish, "%s must support publish", p)
	}
}

func TestMatrixSupports(t *testing.T) {
	twitter := MatrixFor(PlatformTwitter)
	assert.True(t, twitter.Supports(OpPublish))
	assert.True(t, twitter.Supports(OpDelete))
	assert.False(t, twitter.Supports(OpUpdate))
	assert.True(t, twitter.Supports(OpSchedule), "fallback scheduling counts as supported")

	tiktok := MatrixFor(PlatformTikTok)
	assert.False(t, tiktok.Supports(OpSchedule))
	assert.False(t, tiktok.Supports(OpDelete))
	assert.True(t, tiktok.Supports(OpInsights))

	assert.True(t, MatrixFor(PlatformShopify).Supports(OpAuthenticate))
	assert.False(t, MatrixFor(PlatformShopify).Supports(OpInsights))
}

func TestUnsupportedOperationsCarryHints(t *testing.T) {
	assert.Contains(t, MatrixFor(PlatformTwitter).Hint(OpUpdate), "delete the post")
	assert.NotEmpty(t, MatrixFor(PlatformTikTok).Hint(OpSchedule))
	assert.NotEmpty(t, MatrixFor(PlatformWhatsApp).Hint(OpUpdate))
}

func TestValidateEnvelopeImageLimits(t *testing.T) {
	media := func(n int, kind MediaKind) []Media {
		out := make([]Media, n)
		for i := range out {
			out[i] = Media{URL: "https://cdn.example.com/a.jpg", Kind: kind}
		}
		return out
	}

	assert.NoError(t, ValidateEnvelope(PlatformTwitter,
		&ContentEnvelope{Text: "hi", Media: media(4, MediaKindImage)}))
	assert.Error(t, ValidateEnvelope(PlatformTwitter,
		&ContentEnvelope{Text: "hi", Media: media(5, MediaKindImage)}))

	assert.NoError(t, ValidateEnvelope(PlatformShopify,
		&ContentEnvelope{Text: "hi", Media: media(8, MediaKindImage)}))
	assert.Error(t, ValidateEnvelope(PlatformShopify,
		&ContentEnvelope{Text: "hi", Media: media(9, MediaKindImage)}))

	assert.Error(t, ValidateEnvelope(PlatformWhatsApp,
		&ContentEnvelope{Text: "hi", Media: media(2, MediaKindImage)}))
}

func TestValidateEnvelopeExclusiveMediaKinds(t *testing.T) {
	mixed := &ContentEnvelope{Text: "hi", Media: []Media{
		{URL: "https://cdn.example.com/a.jpg", Kind: MediaKindImage},
		{URL: "https://cdn.example.com/b.mp4", Kind: MediaKindVideo},
	}}

	err := ValidateEnvelope(PlatformTwitter, mixed)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	// every pairing of distinct kinds is rejected, not just image+video
	imageAndDocument := &ContentEnvelope{Text: "hi", Media: []Media{
		{URL: "https://cdn.example.com/a.jpg", Kind: MediaKindImage},
		{URL: "https://cdn.example.com/a.pdf", Kind: MediaKindDocument},
	}}
	err = ValidateEnvelope(PlatformWhatsApp, imageAndDocument)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestValidateEnvelopeTikTokRequiresExactlyOneVideo(t *testing.T) {
	video := Media{URL: "https://cdn.example.com/v.mp4", Kind: MediaKindVideo}

	assert.NoError(t, ValidateEnvelope(PlatformTikTok,
		&ContentEnvelope{Text: "caption", Media: []Media{video}}))
	assert.Error(t, ValidateEnvelope(PlatformTikTok,
		&ContentEnvelope{Text: "caption"}), "no video")
	assert.Error(t, ValidateEnvelope(PlatformTikTok,
		&ContentEnvelope{Text: "caption", Media: []Media{video, video}}), "two videos")
	assert.Error(t, ValidateEnvelope(PlatformTikTok,
		&ContentEnvelope{Text: "caption", Media: []Media{
			video,
			{URL: "https://cdn.example.com/a.jpg", Kind: MediaKindImage},
		}}), "video plus image")
}

func TestValidateEnvelopeGoogleAdsIsTextOnly(t *testing.T) {
	err := ValidateEnvelope(PlatformGoogleAds, &ContentEnvelope{
		Text:  "headline",
		Media: []Media{{URL: "https://cdn.example.com/a.jpg", Kind: MediaKindImage}},
	})
	assert.Error(t, err)
	assert.NoError(t, ValidateEnvelope(PlatformGoogleAds, &ContentEnvelope{Text: "headline"}))
}

func TestValidateEnvelopeRejectsEmpty(t *testing.T) {
	assert.Error(t, ValidateEnvelope(PlatformTwitter, &ContentEnvelope{}))
	assert.Error(t, ValidateEnvelope(PlatformTwitter, nil))
	assert.Error(t, ValidateEnvelope(PlatformTwitter, &ContentEnvelope{
		Text:  "hi",
		Media: []Media{{Kind: MediaKindImage}},
	}), "media without source url")
}

func TestDefaultRateBudgetsCoverEveryPlatform(t *testing.T) {
	for _, p := range Platforms() {
		budgets := DefaultRateBudgets(p)
		require.NotEmpty(t, budgets, "platform %s", p)
		assert.Contains(t, budgets, string(OpPublish))
	}
}
