// Package metaads implements the Meta Graph API page-content connector:
// publish, native scheduling, update, delete, and post insights.
package metaads

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/base"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/json"
	"github.com/meridianhq/meridian/pkg/metrics"
)

const (
	defaultAPIVersion = "v19.0"
	defaultBaseURL    = "https://graph.facebook.com"
)

// Connector is the Meta Ads platform connector. Content is published as page
// feed posts; photos attach by source URL, video posts go through the page
// video endpoint.
type Connector struct {
	*base.BaseConnector

	accessToken string
	pageID      string
	apiVersion  string
	baseURL     string
}

// New creates an uninitialized Meta Ads connector
func New() *Connector {
	return &Connector{
		BaseConnector: base.NewBaseConnector(core.PlatformMetaAds, "1.0.0"),
		apiVersion:    defaultAPIVersion,
		baseURL:       defaultBaseURL,
	}
}

// Initialize validates the credential bundle and sets up the base connector.
// No network calls are made; credential validity is established by
// Authenticate.
func (c *Connector) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := c.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	var ok bool
	if c.accessToken, ok = cfg.Security.Credential("access_token"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "access_token is required")
	}
	if c.pageID, ok = cfg.Security.Credential("page_id"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "page_id is required")
	}
	if v, ok := cfg.Security.Credential("api_version"); ok {
		c.apiVersion = v
	}

	return nil
}

// Capabilities returns the static capability matrix
func (c *Connector) Capabilities() core.CapabilityMatrix {
	return core.MatrixFor(core.PlatformMetaAds)
}

// Authenticate probes the Graph API with the configured token and records
// the page identity on success.
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

	var page struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.call(ctx, http.MethodGet, c.objectURL(c.pageID, url.Values{"fields": {"id,name"}}), nil, &page); err != nil {
		return nil, err
	}

	profile := &core.ProfileInfo{ID: page.ID, Name: page.Name}
	c.MarkAuthenticated(profile)
	return profile, nil
}

// PublishContent publishes the envelope to the page feed immediately
func (c *Connector) PublishContent(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.publish(ctx, envelope, nil)
	c.Observe(core.OpPublish, err, timer.Stop())
	return result, err
}

// ScheduleContent publishes the envelope with a native publish-at timestamp.
// The Graph API accepts schedules between 10 minutes and 75 days out.
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
	if !at.After(time.Now()) {
		return nil, errors.New(errors.ErrTypeValidation, "scheduled time must be in the future")
	}
	result, err := c.post(ctx, envelope, &at)
	if err != nil {
		return nil, err
	}
	result.State = core.ContentStateScheduled
	return result, nil
}

func (c *Connector) publish(ctx context.Context, envelope *core.ContentEnvelope, at *time.Time) (*core.PublishResult, error) {
	if err := c.EnsureOperational(ctx, core.OpPublish); err != nil {
		return nil, err
	}
	return c.post(ctx, envelope, at)
}

// post builds the feed, photo, or video request depending on the envelope's
// media and submits it.
func (c *Connector) post(ctx context.Context, envelope *core.ContentEnvelope, at *time.Time) (*core.PublishResult, error) {
	if err := core.ValidateEnvelope(core.PlatformMetaAds, envelope); err != nil {
		return nil, err
	}

	message := envelope.RenderText()
	params := url.Values{}

	var endpoint string
	switch {
	case envelope.HasVideo():
		video, _ := envelope.FirstVideo()
		endpoint = c.objectURL(c.pageID+"/videos", nil)
		params.Set("file_url", video.URL)
		if envelope.Title != "" {
			params.Set("title", envelope.Title)
		}
		params.Set("description", message)
	case len(envelope.Media) == 1:
		endpoint = c.objectURL(c.pageID+"/photos", nil)
		params.Set("url", envelope.Media[0].URL)
		params.Set("message", message)
	case len(envelope.Media) > 1:
		// Multi-photo posts attach each photo unpublished, then reference
		// them from the feed post.
		ids, err := c.uploadUnpublishedPhotos(ctx, envelope.Media)
		if err != nil {
			return nil, err
		}
		endpoint = c.objectURL(c.pageID+"/feed", nil)
		params.Set("message", message)
		for i, id := range ids {
			params.Set(fmt.Sprintf("attached_media[%d]", i),
				fmt.Sprintf(`{"media_fbid":%q}`, id))
		}
	default:
		endpoint = c.objectURL(c.pageID+"/feed", nil)
		params.Set("message", message)
		if envelope.Link != "" {
			params.Set("link", envelope.Link)
		}
	}

	if at != nil {
		params.Set("published", "false")
		params.Set("scheduled_publish_time", strconv.FormatInt(at.Unix(), 10))
	}

	var created struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := c.callForm(ctx, endpoint, params, &created); err != nil {
		return nil, err
	}

	externalID := created.PostID
	if externalID == "" {
		externalID = created.ID
	}

	return &core.PublishResult{
		ExternalID:  externalID,
		ExternalURL: fmt.Sprintf("https://www.facebook.com/%s", externalID),
		State:       core.ContentStatePublished,
		Timestamp:   time.Now().UTC(),
	}, nil
}

func (c *Connector) uploadUnpublishedPhotos(ctx context.Context, media []core.Media) ([]string, error) {
	ids := make([]string, 0, len(media))
	for _, m := range media {
		params := url.Values{
			"url":       {m.URL},
			"published": {"false"},
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := c.callForm(ctx, c.objectURL(c.pageID+"/photos", nil), params, &created); err != nil {
			return nil, err
		}
		ids = append(ids, created.ID)
	}
	return ids, nil
}

// UpdateContent edits a published post's message in place
func (c *Connector) UpdateContent(ctx context.Context, externalID string, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.update(ctx, externalID, envelope)
	c.Observe(core.OpUpdate, err, timer.Stop())
	return result, err
}

func (c *Connector) update(ctx context.Context, externalID string, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	if err := c.EnsureOperational(ctx, core.OpUpdate); err != nil {
		return nil, err
	}
	if externalID == "" {
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "external post id is required")
	}
	if err := core.ValidateEnvelope(core.PlatformMetaAds, envelope); err != nil {
		return nil, err
	}

	params := url.Values{"message": {envelope.RenderText()}}
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.callForm(ctx, c.objectURL(externalID, nil), params, &resp); err != nil {
		return nil, err
	}

	return &core.PublishResult{
		ExternalID: externalID,
		State:      core.ContentStateUpdated,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// DeleteContent removes a post
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
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "external post id is required")
	}

	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.call(ctx, http.MethodDelete, c.objectURL(externalID, nil), nil, &resp); err != nil {
		return nil, err
	}

	return &core.PublishResult{
		ExternalID: externalID,
		State:      core.ContentStateDeleted,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// GetInsights fetches post-level performance metrics
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
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "external post id is required")
	}

	query := url.Values{"metric": {"post_impressions,post_clicks"}}
	var resp struct {
		Data []struct {
			Name   string `json:"name"`
			Values []struct {
				Value int64 `json:"value"`
			} `json:"values"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, c.objectURL(externalID+"/insights", query), nil, &resp); err != nil {
		return nil, err
	}

	var impressions, clicks int64
	for _, series := range resp.Data {
		if len(series.Values) == 0 {
			continue
		}
		switch series.Name {
		case "post_impressions":
			impressions = series.Values[0].Value
		case "post_clicks":
			clicks = series.Values[0].Value
		}
	}
	return core.NewMetrics(impressions, clicks, 0, 0), nil
}

// objectURL builds a versioned Graph API URL for an object path
func (c *Connector) objectURL(objectPath string, query url.Values) string {
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, objectPath)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// call performs a Graph API request with the page token and decodes the
// response into out.
func (c *Connector) call(ctx context.Context, method, endpoint string, body io.Reader, out interface{}) error {
	headers := map[string]string{
		"Authorization": "Bearer " + c.accessToken,
	}

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
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "graph api request failed")
	}
	return c.decode(resp, out)
}

// callForm posts url-encoded parameters, the Graph API's native write format
func (c *Connector) callForm(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	headers := map[string]string{
		"Authorization": "Bearer " + c.accessToken,
		"Content-Type":  "application/x-www-form-urlencoded",
	}
	resp, err := c.HTTPClient().Post(ctx, endpoint, strings.NewReader(params.Encode()), headers)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "graph api request failed")
	}
	return c.decode(resp, out)
}

func (c *Connector) decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "failed to read graph api response")
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
	if err := json.Unmarshal(raw, out); err != nil {
		c.Logger().Warn("unexpected graph api response shape", zap.Error(err))
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "failed to decode graph api response")
	}
	return nil
}
