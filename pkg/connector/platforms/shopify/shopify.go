// Package shopify implements the Shopify Admin REST connector. Content is
// published as blog articles on the shop's primary blog; scheduling uses the
// article's native published_at timestamp.
package shopify

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
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/json"
	"github.com/meridianhq/meridian/pkg/metrics"
)

const apiVersion = "2024-01"

// Connector is the Shopify platform connector
type Connector struct {
	*base.BaseConnector

	shopDomain  string
	accessToken string
	blogID      int64
	// baseURL overrides the shop domain scheme/host, used by tests
	baseURL string
}

type article struct {
	ID          int64         `json:"id,omitempty"`
	Title       string        `json:"title,omitempty"`
	BodyHTML    string        `json:"body_html,omitempty"`
	Tags        string        `json:"tags,omitempty"`
	Published   *bool         `json:"published,omitempty"`
	PublishedAt string        `json:"published_at,omitempty"`
	Image       *articleImage `json:"image,omitempty"`
	Handle      string        `json:"handle,omitempty"`
}

type articleImage struct {
	Src string `json:"src"`
}

// New creates an uninitialized Shopify connector
func New() *Connector {
	return &Connector{
		BaseConnector: base.NewBaseConnector(core.PlatformShopify, "1.0.0"),
	}
}

// Initialize validates the credential bundle
func (c *Connector) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := c.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	var ok bool
	if c.shopDomain, ok = cfg.Security.Credential("shop_domain"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "shop_domain is required")
	}
	if c.accessToken, ok = cfg.Security.Credential("access_token"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "access_token is required")
	}
	if !strings.Contains(c.shopDomain, ".myshopify.com") && !strings.Contains(c.shopDomain, ".") {
		return errors.Newf(errors.ErrTypeInvalidCredentials,
			"shop_domain %q is not a valid shop hostname", c.shopDomain)
	}
	c.baseURL = "https://" + c.shopDomain

	return nil
}

// Capabilities returns the static capability matrix
func (c *Connector) Capabilities() core.CapabilityMatrix {
	return core.MatrixFor(core.PlatformShopify)
}

// Authenticate verifies the access token against the shop resource and
// resolves the primary blog used for publishing.
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

	var shopResp struct {
		Shop struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"shop"`
	}
	if err := c.call(ctx, http.MethodGet, c.adminURL("shop.json"), nil, &shopResp); err != nil {
		return nil, err
	}

	var blogsResp struct {
		Blogs []struct {
			ID int64 `json:"id"`
		} `json:"blogs"`
	}
	if err := c.call(ctx, http.MethodGet, c.adminURL("blogs.json"), nil, &blogsResp); err != nil {
		return nil, err
	}
	if len(blogsResp.Blogs) == 0 {
		return nil, errors.New(errors.ErrTypeGenericAPI, "shop has no blog to publish to")
	}
	c.blogID = blogsResp.Blogs[0].ID

	profile := &core.ProfileInfo{
		ID:       fmt.Sprintf("%d", shopResp.Shop.ID),
		Name:     shopResp.Shop.Name,
		Username: c.shopDomain,
	}
	c.MarkAuthenticated(profile)
	return profile, nil
}

// PublishContent creates a published article immediately
func (c *Connector) PublishContent(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.createArticle(ctx, core.OpPublish, envelope, nil)
	c.Observe(core.OpPublish, err, timer.Stop())
	return result, err
}

// ScheduleContent creates the article with a future published_at; the shop
// publishes it at that time.
func (c *Connector) ScheduleContent(ctx context.Context, envelope *core.ContentEnvelope, at time.Time) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.createArticle(ctx, core.OpSchedule, envelope, &at)
	c.Observe(core.OpSchedule, err, timer.Stop())
	return result, err
}

func (c *Connector) createArticle(ctx context.Context, op core.Operation, envelope *core.ContentEnvelope, at *time.Time) (*core.PublishResult, error) {
	if err := c.EnsureOperational(ctx, op); err != nil {
		return nil, err
	}
	if err := core.ValidateEnvelope(core.PlatformShopify, envelope); err != nil {
		return nil, err
	}
	if at != nil && !at.After(time.Now()) {
		return nil, errors.New(errors.ErrTypeValidation, "scheduled time must be in the future")
	}

	a := articleFromEnvelope(envelope)
	published := at == nil
	a.Published = &published
	if at != nil {
		a.PublishedAt = at.UTC().Format(time.RFC3339)
	}

	var resp struct {
		Article article `json:"article"`
	}
	endpoint := c.adminURL(fmt.Sprintf("blogs/%d/articles.json", c.blogID))
	if err := c.call(ctx, http.MethodPost, endpoint, map[string]*article{"article": a}, &resp); err != nil {
		return nil, err
	}

	state := core.ContentStatePublished
	if at != nil {
		state = core.ContentStateScheduled
	}
	return &core.PublishResult{
		ExternalID:  fmt.Sprintf("%d", resp.Article.ID),
		ExternalURL: fmt.Sprintf("https://%s/blogs/news/%s", c.shopDomain, resp.Article.Handle),
		State:       state,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// UpdateContent replaces an article's title, body, and tags
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
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "article id is required")
	}
	if err := core.ValidateEnvelope(core.PlatformShopify, envelope); err != nil {
		return nil, err
	}

	a := articleFromEnvelope(envelope)
	endpoint := c.adminURL(fmt.Sprintf("blogs/%d/articles/%s.json", c.blogID, externalID))
	var resp struct {
		Article article `json:"article"`
	}
	if err := c.call(ctx, http.MethodPut, endpoint, map[string]*article{"article": a}, &resp); err != nil {
		return nil, err
	}

	return &core.PublishResult{
		ExternalID: externalID,
		State:      core.ContentStateUpdated,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// DeleteContent removes an article
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
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "article id is required")
	}

	endpoint := c.adminURL(fmt.Sprintf("blogs/%d/articles/%s.json", c.blogID, externalID))
	if err := c.call(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return nil, err
	}

	return &core.PublishResult{
		ExternalID: externalID,
		State:      core.ContentStateDeleted,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// GetInsights is not exposed by the content API
func (c *Connector) GetInsights(ctx context.Context, externalID string) (*core.Metrics, error) {
	err := errors.Unsupported(string(core.PlatformShopify), string(core.OpInsights),
		c.Capabilities().InsightsHint)
	c.Observe(core.OpInsights, err, 0)
	return nil, err
}

// articleFromEnvelope maps the envelope to the article shape: title, body
// HTML with trailing image tags, comma-joined tags, first image as cover.
func articleFromEnvelope(envelope *core.ContentEnvelope) *article {
	title := envelope.Title
	if title == "" {
		title = firstLine(envelope.Text)
	}

	var body strings.Builder
	body.WriteString("<p>")
	body.WriteString(envelope.Text)
	body.WriteString("</p>")
	images := envelope.Images()
	for _, img := range images[min(1, len(images)):] {
		fmt.Fprintf(&body, `<p><img src=%q alt=%q></p>`, img.URL, img.Caption)
	}
	if envelope.Link != "" {
		fmt.Fprintf(&body, `<p><a href=%q>%s</a></p>`, envelope.Link, envelope.Link)
	}

	a := &article{
		Title:    title,
		BodyHTML: body.String(),
		Tags:     strings.Join(envelope.Hashtags, ", "),
	}
	if len(images) > 0 {
		a.Image = &articleImage{Src: images[0].URL}
	}
	return a
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return strings.TrimSpace(s)
}

func (c *Connector) adminURL(resource string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL, apiVersion, resource)
}

func (c *Connector) call(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) error {
	headers := map[string]string{
		"X-Shopify-Access-Token": c.accessToken,
		"Content-Type":           "application/json",
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
	case http.MethodPut:
		resp, err = c.HTTPClient().Put(ctx, endpoint, body, headers)
	case http.MethodDelete:
		resp, err = c.HTTPClient().Delete(ctx, endpoint, headers)
	default:
		resp, err = c.HTTPClient().Post(ctx, endpoint, body, headers)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "admin api request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "failed to read admin api response")
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
