// Package linkedin implements the LinkedIn UGC post connector. Image
// attachments go through the register-upload flow: register an asset, PUT
// the binary to the returned upload URL, then reference the asset URN from
// the post.
package linkedin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/base"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/connector/media"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/json"
	"github.com/meridianhq/meridian/pkg/metrics"
)

const defaultBaseURL = "https://api.linkedin.com"

// Connector is the LinkedIn platform connector
type Connector struct {
	*base.BaseConnector

	accessToken string
	authorURN   string
	baseURL     string
	fetcher     *media.Fetcher
}

// New creates an uninitialized LinkedIn connector
func New() *Connector {
	return &Connector{
		BaseConnector: base.NewBaseConnector(core.PlatformLinkedIn, "1.0.0"),
		baseURL:       defaultBaseURL,
	}
}

// Initialize validates the credential bundle. The author URN identifies the
// member or organization posts are attributed to.
func (c *Connector) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := c.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	var ok bool
	if c.accessToken, ok = cfg.Security.Credential("access_token"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "access_token is required")
	}
	if c.authorURN, ok = cfg.Security.Credential("author_urn"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "author_urn is required")
	}
	if !strings.HasPrefix(c.authorURN, "urn:li:") {
		return errors.Newf(errors.ErrTypeInvalidCredentials,
			"author_urn %q is not a li urn", c.authorURN)
	}
	c.fetcher = media.NewFetcher(c.HTTPClient(), cfg.Timeouts.MediaFetch, c.Logger())
	return nil
}

// Capabilities returns the static capability matrix
func (c *Connector) Capabilities() core.CapabilityMatrix {
	return core.MatrixFor(core.PlatformLinkedIn)
}

// Authenticate verifies the token against the userinfo endpoint
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

	var userinfo struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}
	if err := c.call(ctx, http.MethodGet, c.baseURL+"/v2/userinfo", nil, &userinfo); err != nil {
		return nil, err
	}

	profile := &core.ProfileInfo{ID: userinfo.Sub, Name: userinfo.Name}
	c.MarkAuthenticated(profile)
	return profile, nil
}

// PublishContent creates a public UGC post. Images are uploaded through the
// asset pipeline first; a link becomes an article share.
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
	if err := core.ValidateEnvelope(core.PlatformLinkedIn, envelope); err != nil {
		return nil, err
	}

	shareContent := map[string]interface{}{
		"shareCommentary":    map[string]string{"text": envelope.RenderText()},
		"shareMediaCategory": "NONE",
	}

	switch {
	case len(envelope.Images()) > 0:
		assets, err := c.uploadImages(ctx, envelope.Images())
		if err != nil {
			return nil, err
		}
		shareContent["shareMediaCategory"] = "IMAGE"
		shareContent["media"] = assets
	case envelope.Link != "":
		mediaEntry := map[string]interface{}{
			"status":      "READY",
			"originalUrl": envelope.Link,
		}
		if envelope.Title != "" {
			mediaEntry["title"] = map[string]string{"text": envelope.Title}
		}
		shareContent["shareMediaCategory"] = "ARTICLE"
		shareContent["media"] = []map[string]interface{}{mediaEntry}
	}

	payload := map[string]interface{}{
		"author":         c.authorURN,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]interface{}{
			"com.linkedin.ugc.ShareContent": shareContent,
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, c.baseURL+"/v2/ugcPosts", payload, &resp); err != nil {
		return nil, err
	}

	return &core.PublishResult{
		ExternalID:  resp.ID,
		ExternalURL: fmt.Sprintf("https://www.linkedin.com/feed/update/%s", resp.ID),
		State:       core.ContentStatePublished,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// uploadImages registers and uploads each image, returning post media
// entries referencing the asset URNs.
func (c *Connector) uploadImages(ctx context.Context, images []core.Media) ([]map[string]interface{}, error) {
	assets, err := c.fetcher.FetchAll(ctx, images)
	if err != nil {
		return nil, err
	}

	entries := make([]map[string]interface{}, 0, len(assets))
	for i, asset := range assets {
		urn, err := c.uploadAsset(ctx, asset)
		if err != nil {
			return nil, err
		}
		entry := map[string]interface{}{
			"status": "READY",
			"media":  urn,
		}
		if caption := images[i].Caption; caption != "" {
			entry["description"] = map[string]string{"text": caption}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Connector) uploadAsset(ctx context.Context, asset *media.Asset) (string, error) {
	registerPayload := map[string]interface{}{
		"registerUploadRequest": map[string]interface{}{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   c.authorURN,
			"serviceRelationships": []map[string]string{{
				"relationshipType": "OWNER",
				"identifier":       "urn:li:userGeneratedContent",
			}},
		},
	}

	var registerResp struct {
		Value struct {
			Asset           string `json:"asset"`
			UploadMechanism map[string]struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"uploadMechanism"`
		} `json:"value"`
	}
	endpoint := c.baseURL + "/v2/assets?action=registerUpload"
	if err := c.call(ctx, http.MethodPost, endpoint, registerPayload, &registerResp); err != nil {
		return "", err
	}

	var uploadURL string
	for _, mech := range registerResp.Value.UploadMechanism {
		if mech.UploadURL != "" {
			uploadURL = mech.UploadURL
			break
		}
	}
	if uploadURL == "" {
		return "", errors.New(errors.ErrTypeGenericAPI, "register upload returned no upload url")
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.accessToken,
		"Content-Type":  asset.ContentType,
	}
	resp, err := c.HTTPClient().Put(ctx, uploadURL, asset.Reader(), headers)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeGenericAPI, "asset upload failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", errors.ClassifyHTTP(resp.StatusCode, string(raw), resp.Header)
	}

	return registerResp.Value.Asset, nil
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
	if err := core.ValidateEnvelope(core.PlatformLinkedIn, envelope); err != nil {
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

// UpdateContent is unsupported: published posts cannot be edited via the API
func (c *Connector) UpdateContent(ctx context.Context, externalID string, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	err := errors.Unsupported(string(core.PlatformLinkedIn), string(core.OpUpdate),
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
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "post urn is required")
	}

	if c.Scheduler().Has(externalID) {
		if err := c.Scheduler().Cancel(externalID); err != nil {
			return nil, err
		}
	} else {
		endpoint := c.baseURL + "/v2/ugcPosts/" + externalID
		if err := c.call(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
			return nil, err
		}
	}

	return &core.PublishResult{
		ExternalID: externalID,
		State:      core.ContentStateDeleted,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// GetInsights is not available for member posts
func (c *Connector) GetInsights(ctx context.Context, externalID string) (*core.Metrics, error) {
	err := errors.Unsupported(string(core.PlatformLinkedIn), string(core.OpInsights),
		c.Capabilities().InsightsHint)
	c.Observe(core.OpInsights, err, 0)
	return nil, err
}

func (c *Connector) call(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) error {
	headers := map[string]string{
		"Authorization":             "Bearer " + c.accessToken,
		"Content-Type":              "application/json",
		"X-Restli-Protocol-Version": "2.0.0",
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
