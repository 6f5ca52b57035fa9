// Package twitter implements the X/Twitter connector. Posts cannot be
// edited, so update is unsupported; media uploads go through the chunked
// v1.1 upload endpoint before the v2 post is created.
package twitter

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/base"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/connector/media"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/json"
	"github.com/meridianhq/meridian/pkg/metrics"
)

const (
	defaultAPIBaseURL    = "https://api.twitter.com"
	defaultUploadBaseURL = "https://upload.twitter.com"

	// maxPostRunes is the post length limit; longer text is truncated with
	// an ellipsis.
	maxPostRunes = 280

	uploadChunkSize = 1 << 20
)

// Connector is the X/Twitter platform connector
type Connector struct {
	*base.BaseConnector

	signer     *oauth1Signer
	apiBase    string
	uploadBase string
	fetcher    *media.Fetcher
}

// New creates an uninitialized Twitter connector
func New() *Connector {
	return &Connector{
		BaseConnector: base.NewBaseConnector(core.PlatformTwitter, "1.0.0"),
		apiBase:       defaultAPIBaseURL,
		uploadBase:    defaultUploadBaseURL,
	}
}

// Initialize validates the four-field OAuth 1.0a credential bundle
func (c *Connector) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := c.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	apiKey, ok := cfg.Security.Credential("api_key")
	if !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "api_key is required")
	}
	apiSecret, ok := cfg.Security.Credential("api_secret")
	if !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "api_secret is required")
	}
	accessToken, ok := cfg.Security.Credential("access_token")
	if !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "access_token is required")
	}
	tokenSecret, ok := cfg.Security.Credential("access_token_secret")
	if !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "access_token_secret is required")
	}

	c.signer = &oauth1Signer{
		consumerKey:    apiKey,
		consumerSecret: apiSecret,
		token:          accessToken,
		tokenSecret:    tokenSecret,
	}
	c.fetcher = media.NewFetcher(c.HTTPClient(), cfg.Timeouts.MediaFetch, c.Logger())
	return nil
}

// Capabilities returns the static capability matrix
func (c *Connector) Capabilities() core.CapabilityMatrix {
	return core.MatrixFor(core.PlatformTwitter)
}

// Authenticate verifies the signed credentials against the authenticated
// user endpoint.
func (c *Connector) Authenticate(ctx context.Context) (*core.ProfileInfo, error) {
	timer := metrics.NewTimer()
	profile, err := c.authenticate(ctx)
	c.Observe(core.OpAuthenticate, err, timer.Stop())
	return profile, err
}

func (c *Connector) authenticate(ctx context.Context) (*core.ProfileInfo, error) {
	if err := c.EnsureOperational(ctx, core.OpAuthenticate); err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := c.callJSON(ctx, http.MethodGet, c.apiBase+"/2/users/me", nil, &resp); err != nil {
		return nil, err
	}

	profile := &core.ProfileInfo{
		ID:       resp.Data.ID,
		Name:     resp.Data.Name,
		Username: resp.Data.Username,
	}
	c.MarkAuthenticated(profile)
	return profile, nil
}

// PublishContent uploads any media and creates the post. Text over the
// length limit is truncated.
func (c *Connector) PublishContent(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.post(ctx, envelope)
	c.Observe(core.OpPublish, err, timer.Stop())
	return result, err
}

func (c *Connector) post(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	if err := c.EnsureOperational(ctx, core.OpPublish); err != nil {
		return nil, err
	}
	if err := core.ValidateEnvelope(core.PlatformTwitter, envelope); err != nil {
		return nil, err
	}

	text := truncatePost(envelope.RenderText())
	if envelope.Link != "" {
		text = truncatePost(text + " " + envelope.Link)
	}

	payload := map[string]interface{}{"text": text}
	if len(envelope.Media) > 0 {
		ids, err := c.uploadAll(ctx, envelope.Media)
		if err != nil {
			return nil, err
		}
		payload["media"] = map[string]interface{}{"media_ids": ids}
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.callJSON(ctx, http.MethodPost, c.apiBase+"/2/tweets", payload, &resp); err != nil {
		return nil, err
	}

	return &core.PublishResult{
		ExternalID:  resp.Data.ID,
		ExternalURL: fmt.Sprintf("https://x.com/i/status/%s", resp.Data.ID),
		State:       core.ContentStatePublished,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// ScheduleContent defers the post with an in-process job
func (c *Connector) ScheduleContent(ctx context.Context, envelope *core.ContentEnvelope, at time.Time) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.schedule(ctx, envelope, at)
	c.Observe(core.OpSchedule, err, timer.Stop())
	return result, err
}

func (c *Connector) schedule(ctx context.Context, envelope *core.ContentEnvelope, at time.Time) (*core.PublishResult, error) {
	if err := c.EnsureOperational(ctx, core.OpSchedule); err != nil {
		return nil, err
	}
	if err := core.ValidateEnvelope(core.PlatformTwitter, envelope); err != nil {
		return nil, err
	}

	job, err := c.Scheduler().Schedule(envelope, at, c.post)
	if err != nil {
		return nil, err
	}
	return &core.PublishResult{
		ExternalID: job.ID,
		State:      core.ContentStateScheduled,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// UpdateContent is unsupported: posts cannot be edited
func (c *Connector) UpdateContent(ctx context.Context, externalID string, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	err := errors.Unsupported(string(core.PlatformTwitter), string(core.OpUpdate),
		c.Capabilities().UpdateHint)
	c.Observe(core.OpUpdate, err, 0)
	return nil, err
}

// DeleteContent removes a post, or cancels a pending scheduled job
func (c *Connector) DeleteContent(ctx context.Context, externalID string) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.delete(ctx, externalID)
	c.Observe(core.OpDelete, err, timer.Stop())
	return result, err
}

func (c *Connector) delete(ctx context.Context, externalID string) (*core.PublishResult, error) {
	if err := c.EnsureOperational(ctx, core.OpDelete); err != nil {
		return nil, err
	}
	if externalID == "" {
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "post id is required")
	}

	if c.Scheduler().Has(externalID) {
		if err := c.Scheduler().Cancel(externalID); err != nil {
			return nil, err
		}
	} else {
		var resp struct {
			Data struct {
				Deleted bool `json:"deleted"`
			} `json:"data"`
		}
		if err := c.callJSON(ctx, http.MethodDelete, c.apiBase+"/2/tweets/"+externalID, nil, &resp); err != nil {
			return nil, err
		}
	}

	return &core.PublishResult{
		ExternalID: externalID,
		State:      core.ContentStateDeleted,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// GetInsights reads the post's public metrics
func (c *Connector) GetInsights(ctx context.Context, externalID string) (*core.Metrics, error) {
	timer := metrics.NewTimer()
	m, err := c.insights(ctx, externalID)
	c.Observe(core.OpInsights, err, timer.Stop())
	return m, err
}

func (c *Connector) insights(ctx context.Context, externalID string) (*core.Metrics, error) {
	if err := c.EnsureOperational(ctx, core.OpInsights); err != nil {
		return nil, err
	}
	if externalID == "" {
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "post id is required")
	}

	endpoint := fmt.Sprintf("%s/2/tweets/%s?tweet.fields=public_metrics", c.apiBase, externalID)
	var resp struct {
		Data struct {
			PublicMetrics struct {
				ImpressionCount int64 `json:"impression_count"`
				LikeCount       int64 `json:"like_count"`
				RetweetCount    int64 `json:"retweet_count"`
				ReplyCount      int64 `json:"reply_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	if err := c.callJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	pm := resp.Data.PublicMetrics
	engagements := pm.LikeCount + pm.RetweetCount + pm.ReplyCount
	return core.NewMetrics(pm.ImpressionCount, engagements, 0, 0), nil
}

// uploadAll pushes each attachment through the chunked upload flow and
// returns the resulting media ids.
func (c *Connector) uploadAll(ctx context.Context, items []core.Media) ([]string, error) {
	assets, err := c.fetcher.FetchAll(ctx, items)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(assets))
	for _, asset := range assets {
		id, err := c.uploadChunked(ctx, asset)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// uploadChunked runs the INIT / APPEND / FINALIZE sequence against the
// upload host.
func (c *Connector) uploadChunked(ctx context.Context, asset *media.Asset) (string, error) {
	endpoint := c.uploadBase + "/1.1/media/upload.json"

	category := "tweet_image"
	if asset.Kind == core.MediaKindVideo {
		category = "tweet_video"
	}

	initForm := url.Values{
		"command":        {"INIT"},
		"total_bytes":    {fmt.Sprintf("%d", asset.Size())},
		"media_type":     {asset.ContentType},
		"media_category": {category},
	}
	var initResp struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := c.callForm(ctx, endpoint, initForm, &initResp); err != nil {
		return "", err
	}

	for segment, offset := 0, 0; offset < len(asset.Data); segment, offset = segment+1, offset+uploadChunkSize {
		end := offset + uploadChunkSize
		if end > len(asset.Data) {
			end = len(asset.Data)
		}
		appendForm := url.Values{
			"command":       {"APPEND"},
			"media_id":      {initResp.MediaIDString},
			"segment_index": {fmt.Sprintf("%d", segment)},
			"media_data":    {base64.StdEncoding.EncodeToString(asset.Data[offset:end])},
		}
		if err := c.callForm(ctx, endpoint, appendForm, nil); err != nil {
			return "", err
		}
	}

	finalizeForm := url.Values{
		"command":  {"FINALIZE"},
		"media_id": {initResp.MediaIDString},
	}
	var finalizeResp struct {
		MediaIDString  string `json:"media_id_string"`
		ProcessingInfo *struct {
			State          string `json:"state"`
			CheckAfterSecs int    `json:"check_after_secs"`
		} `json:"processing_info"`
	}
	if err := c.callForm(ctx, endpoint, finalizeForm, &finalizeResp); err != nil {
		return "", err
	}

	// Videos process asynchronously; poll STATUS until the provider settles
	if finalizeResp.ProcessingInfo != nil {
		if err := c.awaitProcessing(ctx, endpoint, finalizeResp.MediaIDString); err != nil {
			return "", err
		}
	}
	return finalizeResp.MediaIDString, nil
}

func (c *Connector) awaitProcessing(ctx context.Context, endpoint, mediaID string) error {
	for {
		statusURL := fmt.Sprintf("%s?command=STATUS&media_id=%s", endpoint, mediaID)
		var resp struct {
			ProcessingInfo *struct {
				State          string `json:"state"`
				CheckAfterSecs int    `json:"check_after_secs"`
			} `json:"processing_info"`
		}
		if err := c.callJSON(ctx, http.MethodGet, statusURL, nil, &resp); err != nil {
			return err
		}
		info := resp.ProcessingInfo
		if info == nil || info.State == "succeeded" {
			return nil
		}
		if info.State == "failed" {
			return errors.New(errors.ErrTypeGenericAPI, "media processing failed")
		}

		wait := time.Duration(info.CheckAfterSecs) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrTypeGenericAPI, "media processing interrupted")
		case <-time.After(wait):
		}
	}
}

// truncatePost bounds text to the post length limit on a rune boundary
func truncatePost(text string) string {
	if utf8.RuneCountInString(text) <= maxPostRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxPostRunes-1]) + "…"
}

func (c *Connector) callJSON(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		var err error
		if body, err = json.Body(payload); err != nil {
			return errors.Wrap(err, errors.ErrTypeGenericAPI, "failed to encode request")
		}
	}

	headers := map[string]string{
		"Authorization": c.signer.header(method, endpoint, nil),
		"Content-Type":  "application/json",
	}
	return c.execute(ctx, method, endpoint, body, headers, out)
}

func (c *Connector) callForm(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	headers := map[string]string{
		"Authorization": c.signer.header(http.MethodPost, endpoint, form),
		"Content-Type":  "application/x-www-form-urlencoded",
	}
	return c.execute(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()), headers, out)
}

func (c *Connector) execute(ctx context.Context, method, endpoint string, body io.Reader, headers map[string]string, out interface{}) error {
	var resp *http.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = c.HTTPClient().Get(ctx, endpoint, headers)
	case http.MethodDelete:
		resp, err = c.HTTPClient().Delete(ctx, endpoint, headers)
	default:
		resp, err = c.HTTPClient().Post(ctx, endpoint, body, headers)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "api request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "failed to read api response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := errors.ClassifyHTTP(resp.StatusCode, string(raw), resp.Header)
		if classified.Type == errors.ErrTypeAuthFailed {
			c.MarkExpired()
		}
		return classified
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
