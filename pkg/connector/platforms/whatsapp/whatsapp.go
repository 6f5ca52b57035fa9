// Package whatsapp implements the WhatsApp Business Cloud API connector.
// Messages are immutable once sent, so only publish and fallback scheduling
// are supported; inbound traffic arrives through the webhook normalizer.
package whatsapp

import (
	"context"
	"fmt"
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

const (
	defaultAPIVersion = "v19.0"
	defaultBaseURL    = "https://graph.facebook.com"
)

// Connector is the WhatsApp platform connector
type Connector struct {
	*base.BaseConnector

	accessToken   string
	phoneNumberID string
	apiVersion    string
	baseURL       string
}

// New creates an uninitialized WhatsApp connector
func New() *Connector {
	return &Connector{
		BaseConnector: base.NewBaseConnector(core.PlatformWhatsApp, "1.0.0"),
		apiVersion:    defaultAPIVersion,
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
	if c.phoneNumberID, ok = cfg.Security.Credential("phone_number_id"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "phone_number_id is required")
	}
	// optional Graph endpoint override, for proxies and fake servers
	if baseURL, ok := cfg.Security.Credential("api_base_url"); ok {
		c.baseURL = baseURL
	}
	return nil
}

// Capabilities returns the static capability matrix
func (c *Connector) Capabilities() core.CapabilityMatrix {
	return core.MatrixFor(core.PlatformWhatsApp)
}

// Authenticate verifies the token against the configured phone number
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

	endpoint := fmt.Sprintf("%s/%s/%s?fields=display_phone_number,verified_name",
		c.baseURL, c.apiVersion, c.phoneNumberID)

	var phone struct {
		ID                 string `json:"id"`
		DisplayPhoneNumber string `json:"display_phone_number"`
		VerifiedName       string `json:"verified_name"`
	}
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &phone); err != nil {
		return nil, err
	}

	profile := &core.ProfileInfo{
		ID:       phone.ID,
		Name:     phone.VerifiedName,
		Username: phone.DisplayPhoneNumber,
	}
	c.MarkAuthenticated(profile)
	return profile, nil
}

// PublishContent sends one message to the envelope target. The target is a
// recipient phone number in E.164 form.
func (c *Connector) PublishContent(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.send(ctx, envelope)
	c.Observe(core.OpPublish, err, timer.Stop())
	return result, err
}

func (c *Connector) send(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	if err := c.EnsureOperational(ctx, core.OpPublish); err != nil {
		return nil, err
	}
	if err := core.ValidateEnvelope(core.PlatformWhatsApp, envelope); err != nil {
		return nil, err
	}
	if envelope.Target == "" {
		return nil, errors.New(errors.ErrTypeValidation, "target recipient phone number is required")
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                envelope.Target,
	}

	if len(envelope.Media) == 1 {
		m := envelope.Media[0]
		media := map[string]string{"link": m.URL}
		if caption := mediaCaption(envelope, m); caption != "" {
			media["caption"] = caption
		}
		payload["type"] = string(m.Kind)
		payload[string(m.Kind)] = media
	} else {
		payload["type"] = "text"
		payload["text"] = map[string]interface{}{
			"body":        envelope.RenderText(),
			"preview_url": envelope.Link != "",
		}
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, c.phoneNumberID)
	var resp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := c.call(ctx, http.MethodPost, endpoint, payload, &resp); err != nil {
		return nil, err
	}

	var externalID string
	if len(resp.Messages) > 0 {
		externalID = resp.Messages[0].ID
	}
	return &core.PublishResult{
		ExternalID: externalID,
		State:      core.ContentStatePublished,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// ScheduleContent defers the send with an in-process job; the API has no
// native scheduling for messages.
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
	if err := core.ValidateEnvelope(core.PlatformWhatsApp, envelope); err != nil {
		return nil, err
	}
	if envelope.Target == "" {
		return nil, errors.New(errors.ErrTypeValidation, "target recipient phone number is required")
	}

	job, err := c.Scheduler().Schedule(envelope, at, c.send)
	if err != nil {
		return nil, err
	}
	return &core.PublishResult{
		ExternalID: job.ID,
		State:      core.ContentStateScheduled,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// UpdateContent is unsupported: sent messages are immutable
func (c *Connector) UpdateContent(ctx context.Context, externalID string, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	err := errors.Unsupported(string(core.PlatformWhatsApp), string(core.OpUpdate),
		c.Capabilities().UpdateHint)
	c.Observe(core.OpUpdate, err, 0)
	return nil, err
}

// DeleteContent cancels a pending scheduled job; sent messages cannot be
// retracted.
func (c *Connector) DeleteContent(ctx context.Context, externalID string) (*core.PublishResult, error) {
	if c.Scheduler().Has(externalID) {
		if err := c.Scheduler().Cancel(externalID); err != nil {
			return nil, err
		}
		return &core.PublishResult{
			ExternalID: externalID,
			State:      core.ContentStateDeleted,
			Timestamp:  time.Now().UTC(),
		}, nil
	}
	err := errors.Unsupported(string(core.PlatformWhatsApp), string(core.OpDelete),
		c.Capabilities().DeleteHint)
	c.Observe(core.OpDelete, err, 0)
	return nil, err
}

// GetInsights is unsupported: delivery signals arrive via webhooks
func (c *Connector) GetInsights(ctx context.Context, externalID string) (*core.Metrics, error) {
	err := errors.Unsupported(string(core.PlatformWhatsApp), string(core.OpInsights),
		c.Capabilities().InsightsHint)
	c.Observe(core.OpInsights, err, 0)
	return nil, err
}

func mediaCaption(envelope *core.ContentEnvelope, m core.Media) string {
	if m.Caption != "" {
		return m.Caption
	}
	return envelope.RenderText()
}

func (c *Connector) call(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) error {
	headers := map[string]string{
		"Authorization": "Bearer " + c.accessToken,
		"Content-Type":  "application/json",
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
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "cloud api request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeGenericAPI, "failed to read cloud api response")
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
