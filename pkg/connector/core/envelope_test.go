package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderText(t *testing.T) {
	e := &ContentEnvelope{Text: "New arrivals", Hashtags: []string{"fashion", "#sale", "  ", "#"}}
	assert.Equal(t, "New arrivals #fashion #sale", e.RenderText())

	assert.Equal(t, "plain", (&ContentEnvelope{Text: "plain"}).RenderText())
	assert.Equal(t, "#solo", (&ContentEnvelope{Hashtags: []string{"solo"}}).RenderText())
}

func TestMediaAccessors(t *testing.T) {
	e := &ContentEnvelope{Media: []Media{
		{URL: "https://cdn.example.com/a.jpg", Kind: MediaKindImage},
		{URL: "https://cdn.example.com/v.mp4", Kind: MediaKindVideo},
		{URL: "https://cdn.example.com/b.jpg", Kind: MediaKindImage},
	}}

	assert.True(t, e.HasVideo())
	assert.Len(t, e.Images(), 2)

	v, ok := e.FirstVideo()
	assert.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/v.mp4", v.URL)

	empty := &ContentEnvelope{}
	assert.False(t, empty.HasVideo())
	assert.Empty(t, empty.Images())
	_, ok = empty.FirstVideo()
	assert.False(t, ok)
}
