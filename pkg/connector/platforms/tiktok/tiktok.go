// Package tiktok implements the TikTok Content Posting connector. The
// content model is a single video published immediately; the provider pulls
// the binary from the caller-supplied source URL.
package tiktok

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/base"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/json"
	"github.com/meridianhq/meridian/pkg/metrics"
)

const defaultBaseURL = "https://open.tiktokapis.com"

// Connector is the TikTok platform connector
type Connector struct {
	*base.BaseConnector

	accessToken string
	openID      string
	baseURL     string
}

// New creates an uninitialized TikTok connector
func New() *Connector {
	return &Connector{
		BaseConnector: base.NewBaseConnector(core.PlatformTikTok, "1.0.0"),
		baseURL:       defaultBaseURL,
	}
}

// Initialize validates the credential bundle
func (c *Connector) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := c.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	var ok bool
	if c.accessToken, ok = cfg.Security.Credential("access_token"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "access_token is required")
	}
	if c.openID, ok = cfg.Security.Credential("open_id"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "open_id is required")
	}
	return nil
}

// Capabilities returns the static capability matrix
func (c *Connector) Capabilities() core.CapabilityMatrix {
	return core.MatrixFor(core.PlatformTikTok)
}

// Authenticate verifies the token against the user info endpoint
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

	endpoint := c.baseURL + "/v2/user/info/?fields=open_id,display_name"
	var resp struct {
		Data struct {
			User struct {
				OpenID      string `json:"open_id"`
				DisplayName string `json:"display_name"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	profile := &core.ProfileInfo{
		ID:   resp.Data.User.OpenID,
		Name: resp.Data.User.DisplayName,
	}
	c.MarkAuthenticated(profile)
	return profile, nil
}

// PublishContent initiates a direct post; the provider pulls the video from
// the envelope's source URL. The envelope text becomes the caption.
func (c *Connector) PublishContent(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.publish(ctx, envelope)
	c.Observe(core.OpPublish, err, timer.Stop())
	return result, err
}

func (c *Connector) publish(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	if err := c.EnsureOperational(ctx, core.OpPublish); err != nil {
		return nil, err
	}
	if err := core.ValidateEnvelope(core.PlatformTikTok, envelope); err != nil {
		return nil, err
	}

	video, _ := envelope.FirstVideo()
	payload := map[string]interface{}{
		"post_info": map[string]interface{}{
			"title":           envelope.RenderText(),
			"privacy_level":   "PUBLIC_TO_EVERYONE",
			"disable_comment": false,
		},
		"source_info": map[string]interface{}{
			"source":    "PULL_FROM_URL",
			"video_url": video.URL,
		},
	}

	var resp struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
	}
	endpoint := c.baseURL + "/v2/post/publish/video/init/"
	if err := c.call(ctx, http.MethodPost, endpoint, payload, &resp); err != nil {
		return nil, err
	}

	return &core.PublishResult{
		ExternalID: resp.Data.PublishID,
		State:      core.ContentStatePublished,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// ScheduleContent is structurally unsupported: direct post publishes
// immediately.
func (c *Connector) ScheduleContent(ctx context.Context, envelope *core.ContentEnvelope, at time.Time) (*core.PublishResult, error) {
	err := errors.Unsupported(string(core.PlatformTikTok), string(core.OpSchedule),
		c.Capabilities().ScheduleHint)
	c.Observe(core.OpSchedule, err, 0)
	return nil, err
}

// UpdateContent is unsupported: published videos cannot be replaced
func (c *Connector) UpdateContent(ctx context.Context, externalID string, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	err := errors.Unsupported(string(core.PlatformTikTok), string(core.OpUpdate),
		c.Capabilities().UpdateHint)
	c.Observe(core.OpUpdate, err, 0)
	return nil, err
}

// DeleteContent is unsupported through the API
func (c *Connector) DeleteContent(ctx context.Context, externalID string) (*core.PublishResult, error) {
	err := errors.Unsupported(string(core.PlatformTikTok), string(core.OpDelete),
		c.Capabilities().DeleteHint)
	c.Observe(core.OpDelete, err, 0)
	return nil, err
}

// GetInsights reads video view and engagement counts
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
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "video id is required")
	}

	payload := map[string]interface{}{
		"filters": map[string]interface{}{
			"video_ids": []string{externalID},
		},
	}
	endpoint := c.baseURL + "/v2/video/query/?fields=id,view_count,like_count,comment_count,share_count"
	var resp struct {
		Data struct {
			Videos []struct {
				ViewCount    int64 `json:"view_count"`
				LikeCount    int64 `json:"like_count"`
				CommentCount int64 `json:"comment_count"`
				ShareCount   int64 `json:"share_count"`
			} `json:"videos"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodPost, endpoint, payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data.Videos) == 0 {
		return nil, errors.Newf(errors.ErrTypeInvalidConnectorReference,
			"video %s not found", externalID)
	}

	v := resp.Data.Videos[0]
	engagements := v.LikeCount + v.CommentCount + v.ShareCount
	return core.NewMetrics(v.ViewCount, engagements, 0, 0), nil
}

func (c *Connector) call(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) error {
	headers := map[string]string{
		"Authorization": "Bearer " + c.accessToken,
		"Content-Type":  "application/json; charset=UTF-8",
	}

	var body io.Reader
	if payload != nil {
		var err error
		if body, err = json.Body(payload); err != nil {
			return errors.Wrap(err, errors.ErrTypeGenericAPI, "failed to encode request")
		}
	}

	var resp *http.Response
	var err error
	if method == http.MethodGet {
		resp, err = c.HTTPClient().Get(ctx, endpoint, headers)
	} else {
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

	// The API reports failures inside a 200 envelope as well
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if envelope.Error.Code != "" && envelope.Error.Code != "ok" {
			return errors.Newf(errors.ErrTypeGenericAPI, "provider error %s: %s",
				envelope.Error.Code, envelope.Error.Message)
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
