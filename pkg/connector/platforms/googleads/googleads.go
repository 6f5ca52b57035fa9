// Package googleads implements the Google Ads API connector. Content is
// expressed as responsive ad text assets; credentials are an OAuth2 refresh
// token plus a developer token, with access tokens minted on demand.
package googleads

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/base"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/json"
	"github.com/meridianhq/meridian/pkg/metrics"
)

const (
	defaultBaseURL = "https://googleads.googleapis.com/v16"

	// Responsive search ad asset limits
	maxHeadlineLen    = 30
	maxDescriptionLen = 90
)

// Connector is the Google Ads platform connector
type Connector struct {
	*base.BaseConnector

	developerToken string
	customerID     string
	baseURL        string

	tokenSource oauth2.TokenSource
}

// New creates an uninitialized Google Ads connector
func New() *Connector {
	return &Connector{
		BaseConnector: base.NewBaseConnector(core.PlatformGoogleAds, "1.0.0"),
		baseURL:       defaultBaseURL,
	}
}

// Initialize validates the credential bundle and builds the OAuth2 token
// source. Tokens are minted lazily; a bad refresh token surfaces from the
// authentication step that follows, not from this call.
func (c *Connector) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := c.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	clientID, ok := cfg.Security.Credential("client_id")
	if !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "client_id is required")
	}
	clientSecret, ok := cfg.Security.Credential("client_secret")
	if !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "client_secret is required")
	}
	refreshToken, ok := cfg.Security.Credential("refresh_token")
	if !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "refresh_token is required")
	}
	if c.developerToken, ok = cfg.Security.Credential("developer_token"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "developer_token is required")
	}
	if c.customerID, ok = cfg.Security.Credential("customer_id"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "customer_id is required")
	}
	c.customerID = strings.ReplaceAll(c.customerID, "-", "")

	oauthCfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     googleoauth.Endpoint,
	}
	c.tokenSource = oauth2.ReuseTokenSource(nil,
		oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: refreshToken}))

	return nil
}

// Capabilities returns the static capability matrix
func (c *Connector) Capabilities() core.CapabilityMatrix {
	return core.MatrixFor(core.PlatformGoogleAds)
}

// Authenticate mints an access token from the refresh token and verifies the
// customer account is reachable.
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

	if _, err := c.tokenSource.Token(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeAuthFailed, "oauth token refresh failed")
	}

	query := "SELECT customer.id, customer.descriptive_name FROM customer LIMIT 1"
	var resp struct {
		Results []struct {
			Customer struct {
				ID              string `json:"id"`
				DescriptiveName string `json:"descriptiveName"`
			} `json:"customer"`
		} `json:"results"`
	}
	if err := c.search(ctx, query, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, errors.Newf(errors.ErrTypeAuthFailed, "customer %s is not accessible", c.customerID)
	}

	customer := resp.Results[0].Customer
	profile := &core.ProfileInfo{ID: customer.ID, Name: customer.DescriptiveName}
	c.MarkAuthenticated(profile)
	return profile, nil
}

// PublishContent creates an enabled responsive search ad from the envelope
// text. Title becomes the headline, text the description.
func (c *Connector) PublishContent(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.mutateAd(ctx, core.OpPublish, envelope, nil)
	c.Observe(core.OpPublish, err, timer.Stop())
	return result, err
}

// ScheduleContent creates the ad paused with a campaign start date, the
// provider-native form of deferred activation.
func (c *Connector) ScheduleContent(ctx context.Context, envelope *core.ContentEnvelope, at time.Time) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.mutateAd(ctx, core.OpSchedule, envelope, &at)
	c.Observe(core.OpSchedule, err, timer.Stop())
	return result, err
}

func (c *Connector) mutateAd(ctx context.Context, op core.Operation, envelope *core.ContentEnvelope, at *time.Time) (*core.PublishResult, error) {
	if err := c.EnsureOperational(ctx, op); err != nil {
		return nil, err
	}
	if err := core.ValidateEnvelope(core.PlatformGoogleAds, envelope); err != nil {
		return nil, err
	}
	if at != nil && !at.After(time.Now()) {
		return nil, errors.New(errors.ErrTypeValidation, "scheduled time must be in the future")
	}

	ad := adPayload(envelope)
	status := "ENABLED"
	if at != nil {
		status = "PAUSED"
		ad["startDate"] = at.Format("2006-01-02")
	}

	payload := map[string]interface{}{
		"operations": []map[string]interface{}{
			{"create": map[string]interface{}{"status": status, "ad": ad}},
		},
	}

	var resp mutateResponse
	if err := c.mutate(ctx, payload, &resp); err != nil {
		return nil, err
	}

	state := core.ContentStatePublished
	if at != nil {
		state = core.ContentStateScheduled
	}
	return &core.PublishResult{
		ExternalID: resp.firstResourceName(),
		State:      state,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// UpdateContent replaces the ad's text assets
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
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "ad resource name is required")
	}
	if err := core.ValidateEnvelope(core.PlatformGoogleAds, envelope); err != nil {
		return nil, err
	}

	ad := adPayload(envelope)
	ad["resourceName"] = externalID
	payload := map[string]interface{}{
		"operations": []map[string]interface{}{
			{"update": map[string]interface{}{"ad": ad}, "updateMask": "ad"},
		},
	}

	var resp mutateResponse
	if err := c.mutate(ctx, payload, &resp); err != nil {
		return nil, err
	}

	return &core.PublishResult{
		ExternalID: externalID,
		State:      core.ContentStateUpdated,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// DeleteContent removes the ad
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
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "ad resource name is required")
	}

	payload := map[string]interface{}{
		"operations": []map[string]interface{}{
			{"remove": externalID},
		},
	}
	var resp mutateResponse
	if err := c.mutate(ctx, payload, &resp); err != nil {
		return nil, err
	}

	return &core.PublishResult{
		ExternalID: externalID,
		State:      core.ContentStateDeleted,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// GetInsights reads last-30-day ad metrics through the search endpoint
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
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "ad resource name is required")
	}

	query := fmt.Sprintf(
		"SELECT metrics.impressions, metrics.clicks, metrics.cost_micros, metrics.conversions "+
			"FROM ad_group_ad WHERE ad_group_ad.ad.resource_name = '%s' DURING LAST_30_DAYS",
		externalID)

	var resp struct {
		Results []struct {
			Metrics struct {
				Impressions string  `json:"impressions"`
				Clicks      string  `json:"clicks"`
				CostMicros  string  `json:"costMicros"`
				Conversions float64 `json:"conversions"`
			} `json:"metrics"`
		} `json:"results"`
	}
	if err := c.search(ctx, query, &resp); err != nil {
		return nil, err
	}

	var impressions, clicks, costMicros int64
	var conversions float64
	for _, r := range resp.Results {
		impressions += parseInt(r.Metrics.Impressions)
		clicks += parseInt(r.Metrics.Clicks)
		costMicros += parseInt(r.Metrics.CostMicros)
		conversions += r.Metrics.Conversions
	}
	return core.NewMetrics(impressions, clicks, float64(costMicros)/1e6, int64(conversions)), nil
}

// adPayload builds the responsive search ad body from the envelope.
// Headlines and descriptions are truncated to asset limits.
func adPayload(envelope *core.ContentEnvelope) map[string]interface{} {
	headline := truncate(envelope.Title, maxHeadlineLen)
	if headline == "" {
		headline = truncate(envelope.Text, maxHeadlineLen)
	}
	description := truncate(envelope.RenderText(), maxDescriptionLen)

	ad := map[string]interface{}{
		"responsiveSearchAd": map[string]interface{}{
			"headlines":    []map[string]string{{"text": headline}},
			"descriptions": []map[string]string{{"text": description}},
		},
	}
	if envelope.Link != "" {
		ad["finalUrls"] = []string{envelope.Link}
	}
	return ad
}

func (c *Connector) mutate(ctx context.Context, payload interface{}, out interface{}) error {
	endpoint := fmt.Sprintf("%s/customers/%s/adGroupAds:mutate", c.baseURL, c.customerID)
	return c.call(ctx, endpoint, payload, out)
}

func (c *Connector) search(ctx context.Context, query string, out interface{}) error {
	endpoint := fmt.Sprintf("%s/customers/%s/googleAds:search", c.baseURL, c.customerID)
	return c.call(ctx, endpoint, map[string]string{"query": query}, out)
}

func (c *Connector) call(ctx context.Context, endpoint string, payload interface{}, out interface{}) error {
	token, err := c.tokenSource.Token()
	if err != nil {
		c.MarkExpired()
		return errors.Wrap(err, errors.ErrTypeAuthFailed, "oauth token refresh failed")
	}

	body, err := json.Body(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "failed to encode request")
	}

	headers := map[string]string{
		"Authorization":     "Bearer " + token.AccessToken,
		"developer-token":   c.developerToken,
		"login-customer-id": c.customerID,
		"Content-Type":      "application/json",
	}

	resp, err := c.HTTPClient().Post(ctx, endpoint, body, headers)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "google ads request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "failed to read google ads response")
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

type mutateResponse struct {
	Results []struct {
		ResourceName string `json:"resourceName"`
	} `json:"results"`
}

func (m *mutateResponse) firstResourceName() string {
	if len(m.Results) == 0 {
		return ""
	}
	return m.Results[0].ResourceName
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
