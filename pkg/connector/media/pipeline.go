// Package media implements the fetch side of media transfer pipelines.
// Caller-supplied media is referenced by source URL; connectors that must
// push binary content to a provider fetch it through this package first.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian/pkg/clients"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
)

// MaxFetchBytes bounds a single media download. Provider upload limits are
// all below this.
const MaxFetchBytes = 512 << 20

// Asset is one fetched media binary ready to push to a provider
type Asset struct {
	Data        []byte
	ContentType string
	Filename    string
	Kind        core.MediaKind
}

// Size returns the asset size in bytes
func (a *Asset) Size() int64 {
	return int64(len(a.Data))
}

// Reader returns a fresh reader over the asset bytes
func (a *Asset) Reader() io.Reader {
	return bytes.NewReader(a.Data)
}

// Fetcher downloads media binaries from caller-supplied source URLs
type Fetcher struct {
	client  *clients.HTTPClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewFetcher creates a media fetcher. The timeout bounds each individual
// download; zero means 60 seconds.
func NewFetcher(client *clients.HTTPClient, timeout time.Duration, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{
		client:  client,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "media_fetcher")),
	}
}

// Fetch downloads one media source. Failures surface as generic_api_error:
// an unreachable media source is a dispatch failure, not a credential
// problem.
func (f *Fetcher) Fetch(ctx context.Context, m core.Media) (*Asset, error) {
	if m.URL == "" {
		return nil, errors.New(errors.ErrTypeValidation, "media source url is empty")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.client.Get(fetchCtx, m.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeGenericAPI, "failed to fetch media source")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrTypeGenericAPI,
			"media source returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeGenericAPI, "failed to read media source")
	}
	if len(data) > MaxFetchBytes {
		return nil, errors.Newf(errors.ErrTypeValidation,
			"media source exceeds %d byte limit", MaxFetchBytes)
	}

	asset := &Asset{
		Data:        data,
		ContentType: contentType(resp, m, data),
		Filename:    filename(m),
		Kind:        m.Kind,
	}

	f.logger.Debug("fetched media source",
		zap.String("url", m.URL),
		zap.String("content_type", asset.ContentType),
		zap.Int64("bytes", asset.Size()))

	return asset, nil
}

// FetchAll downloads every media source in an envelope, in order. The first
// failure aborts the pipeline.
func (f *Fetcher) FetchAll(ctx context.Context, media []core.Media) ([]*Asset, error) {
	assets := make([]*Asset, 0, len(media))
	for i, m := range media {
		asset, err := f.Fetch(ctx, m)
		if err != nil {
			return nil, errors.AsError(err).WithDetail("media_index", i)
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func contentType(resp *http.Response, m core.Media, data []byte) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			return parsed
		}
	}
	if ext := path.Ext(filename(m)); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			if parsed, _, err := mime.ParseMediaType(ct); err == nil {
				return parsed
			}
		}
	}
	if ct := http.DetectContentType(data); ct != "application/octet-stream" {
		return ct
	}
	// Fall back on the declared kind
	switch m.Kind {
	case core.MediaKindImage:
		return "image/jpeg"
	case core.MediaKindVideo:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

func filename(m core.Media) string {
	trimmed := m.URL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	name := path.Base(trimmed)
	if name == "." || name == "/" || name == "" {
		return fmt.Sprintf("media.%s", defaultExt(m.Kind))
	}
	return name
}

func defaultExt(kind core.MediaKind) string {
	switch kind {
	case core.MediaKindVideo:
		return "mp4"
	case core.MediaKindDocument:
		return "pdf"
	default:
		return "jpg"
	}
}
