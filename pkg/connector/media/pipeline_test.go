package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian/pkg/clients"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	client := clients.NewHTTPClient(clients.DefaultHTTPConfig(), zap.NewNop())
	t.Cleanup(func() { client.Close() })
	return NewFetcher(client, 5*time.Second, zap.NewNop())
}

func TestFetchDownloadsBinary(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	}))
	defer srv.Close()

	asset, err := newTestFetcher(t).Fetch(context.Background(), core.Media{
		URL:  srv.URL + "/photos/banner.jpg",
		Kind: core.MediaKindImage,
	})
	require.NoError(t, err)

	assert.Equal(t, payload, asset.Data)
	assert.Equal(t, "image/jpeg", asset.ContentType)
	assert.Equal(t, "banner.jpg", asset.Filename)
	assert.Equal(t, int64(len(payload)), asset.Size())
}

func TestFetchStripsQueryFromFilename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	asset, err := newTestFetcher(t).Fetch(context.Background(), core.Media{
		URL:  srv.URL + "/clip.mp4?signature=abc123",
		Kind: core.MediaKindVideo,
	})
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", asset.Filename)
}

func TestFetchFallbackContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("%PDF-1.7 fake document body"))
	}))
	defer srv.Close()

	asset, err := newTestFetcher(t).Fetch(context.Background(), core.Media{
		URL:  srv.URL + "/terms",
		Kind: core.MediaKindDocument,
	})
	require.NoError(t, err)
	assert.NotEqual(t, "application/octet-stream", asset.ContentType)
	assert.NotEmpty(t, asset.ContentType)
}

func TestFetchNon200IsGenericAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), core.Media{
		URL:  srv.URL + "/gone.jpg",
		Kind: core.MediaKindImage,
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeGenericAPI))
}

func TestFetchEmptyURL(t *testing.T) {
	_, err := newTestFetcher(t).Fetch(context.Background(), core.Media{Kind: core.MediaKindImage})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestFetchAllAbortsOnFirstFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.jpg" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	assets, err := f.FetchAll(context.Background(), []core.Media{
		{URL: srv.URL + "/first.jpg", Kind: core.MediaKindImage},
		{URL: srv.URL + "/bad.jpg", Kind: core.MediaKindImage},
		{URL: srv.URL + "/never.jpg", Kind: core.MediaKindImage},
	})
	require.Error(t, err)
	assert.Nil(t, assets)
	assert.Equal(t, 1, errors.AsError(err).Details["media_index"])
}
