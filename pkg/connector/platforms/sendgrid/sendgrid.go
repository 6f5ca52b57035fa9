// Package sendgrid implements the SendGrid v3 mail connector. A publish is
// one mail send tagged with a generated category; scheduling uses the native
// send_at plus a cancellable batch id, and insights aggregate the category's
// stats.
package sendgrid

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/base"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/connector/media"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/json"
	"github.com/meridianhq/meridian/pkg/metrics"
)

const defaultBaseURL = "https://api.sendgrid.com"

// Connector is the SendGrid platform connector
type Connector struct {
	*base.BaseConnector

	apiKey    string
	fromEmail string
	baseURL   string
	fetcher   *media.Fetcher
}

// New creates an uninitialized SendGrid connector
func New() *Connector {
	return &Connector{
		BaseConnector: base.NewBaseConnector(core.PlatformSendGrid, "1.0.0"),
		baseURL:       defaultBaseURL,
	}
}

// Initialize validates the credential bundle
func (c *Connector) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := c.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	var ok bool
	if c.apiKey, ok = cfg.Security.Credential("api_key"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "api_key is required")
	}
	if c.fromEmail, ok = cfg.Security.Credential("from_email"); !ok {
		return errors.New(errors.ErrTypeInvalidCredentials, "from_email is required")
	}
	c.fetcher = media.NewFetcher(c.HTTPClient(), cfg.Timeouts.MediaFetch, c.Logger())
	return nil
}

// Capabilities returns the static capability matrix
func (c *Connector) Capabilities() core.CapabilityMatrix {
	return core.MatrixFor(core.PlatformSendGrid)
}

// Authenticate verifies the API key against the account profile
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

	var profileResp struct {
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.call(ctx, http.MethodGet, c.baseURL+"/v3/user/profile", nil, &profileResp); err != nil {
		return nil, err
	}

	profile := &core.ProfileInfo{
		ID:       profileResp.Username,
		Name:     fmt.Sprintf("%s %s", profileResp.FirstName, profileResp.LastName),
		Username: profileResp.Username,
	}
	c.MarkAuthenticated(profile)
	return profile, nil
}

// PublishContent sends the email immediately. The envelope target is the
// recipient address, the title the subject line.
func (c *Connector) PublishContent(ctx context.Context, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.send(ctx, core.OpPublish, envelope, nil)
	c.Observe(core.OpPublish, err, timer.Stop())
	return result, err
}

// ScheduleContent sends with a native send_at under a fresh batch id, so the
// send can be cancelled before its send time.
func (c *Connector) ScheduleContent(ctx context.Context, envelope *core.ContentEnvelope, at time.Time) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.send(ctx, core.OpSchedule, envelope, &at)
	c.Observe(core.OpSchedule, err, timer.Stop())
	return result, err
}

func (c *Connector) send(ctx context.Context, op core.Operation, envelope *core.ContentEnvelope, at *time.Time) (*core.PublishResult, error) {
	if err := c.EnsureOperational(ctx, op); err != nil {
		return nil, err
	}
	if err := core.ValidateEnvelope(core.PlatformSendGrid, envelope); err != nil {
		return nil, err
	}
	if envelope.Target == "" {
		return nil, errors.New(errors.ErrTypeValidation, "target recipient email is required")
	}
	if at != nil {
		// Scheduled sends must be within 72 hours
		delay := time.Until(*at)
		if delay <= 0 {
			return nil, errors.New(errors.ErrTypeValidation, "scheduled time must be in the future")
		}
		if delay > 72*time.Hour {
			return nil, errors.New(errors.ErrTypeValidation, "scheduled time must be within 72 hours")
		}
	}

	subject := envelope.Title
	if subject == "" {
		subject = "No subject"
	}
	category := "meridian-" + uuid.New().String()

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{"to": []map[string]string{{"email": envelope.Target}}},
		},
		"from":    map[string]string{"email": c.fromEmail},
		"subject": subject,
		"content": []map[string]string{
			{"type": "text/plain", "value": envelope.RenderText()},
		},
		"categories": []string{category},
	}

	externalID := category
	if at != nil {
		batchID, err := c.createBatchID(ctx)
		if err != nil {
			return nil, err
		}
		payload["send_at"] = at.Unix()
		payload["batch_id"] = batchID
		externalID = batchID
	}

	if len(envelope.Media) > 0 {
		attachments, err := c.buildAttachments(ctx, envelope.Media)
		if err != nil {
			return nil, err
		}
		payload["attachments"] = attachments
	}

	if err := c.call(ctx, http.MethodPost, c.baseURL+"/v3/mail/send", payload, nil); err != nil {
		return nil, err
	}

	state := core.ContentStatePublished
	if at != nil {
		state = core.ContentStateScheduled
	}
	return &core.PublishResult{
		ExternalID: externalID,
		State:      state,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (c *Connector) createBatchID(ctx context.Context) (string, error) {
	var resp struct {
		BatchID string `json:"batch_id"`
	}
	if err := c.call(ctx, http.MethodPost, c.baseURL+"/v3/mail/batch", struct{}{}, &resp); err != nil {
		return "", err
	}
	if resp.BatchID == "" {
		return "", errors.New(errors.ErrTypeGenericAPI, "provider returned empty batch id")
	}
	return resp.BatchID, nil
}

func (c *Connector) buildAttachments(ctx context.Context, items []core.Media) ([]map[string]string, error) {
	assets, err := c.fetcher.FetchAll(ctx, items)
	if err != nil {
		return nil, err
	}
	attachments := make([]map[string]string, 0, len(assets))
	for _, asset := range assets {
		attachments = append(attachments, map[string]string{
			"content":     base64.StdEncoding.EncodeToString(asset.Data),
			"type":        asset.ContentType,
			"filename":    asset.Filename,
			"disposition": "attachment",
		})
	}
	return attachments, nil
}

// UpdateContent is unsupported: sent email is immutable
func (c *Connector) UpdateContent(ctx context.Context, externalID string, envelope *core.ContentEnvelope) (*core.PublishResult, error) {
	err := errors.Unsupported(string(core.PlatformSendGrid), string(core.OpUpdate),
		c.Capabilities().UpdateHint)
	c.Observe(core.OpUpdate, err, 0)
	return nil, err
}

// DeleteContent cancels a scheduled batch before its send time
func (c *Connector) DeleteContent(ctx context.Context, externalID string) (*core.PublishResult, error) {
	timer := metrics.NewTimer()
	result, err := c.cancel(ctx, externalID)
	c.Observe(core.OpDelete, err, timer.Stop())
	return result, err
}

func (c *Connector) cancel(ctx context.Context, externalID string) (*core.PublishResult, error) {
	if err := c.EnsureOperational(ctx, core.OpDelete); err != nil {
		return nil, err
	}
	if externalID == "" {
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "batch id is required")
	}

	payload := map[string]string{
		"batch_id": externalID,
		"status":   "cancel",
	}
	if err := c.call(ctx, http.MethodPost, c.baseURL+"/v3/user/scheduled_sends", payload, nil); err != nil {
		return nil, err
	}

	return &core.PublishResult{
		ExternalID: externalID,
		State:      core.ContentStateDeleted,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// GetInsights aggregates the send's category stats
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
		return nil, errors.New(errors.ErrTypeInvalidConnectorReference, "send category is required")
	}

	startDate := time.Now().AddDate(0, 0, -30).Format("2006-01-02")
	endpoint := fmt.Sprintf("%s/v3/categories/stats?start_date=%s&categories=%s",
		c.baseURL, startDate, externalID)

	var resp []struct {
		Stats []struct {
			Metrics struct {
				Delivered    int64 `json:"delivered"`
				Opens        int64 `json:"opens"`
				Clicks       int64 `json:"clicks"`
				UniqueClicks int64 `json:"unique_clicks"`
			} `json:"metrics"`
		} `json:"stats"`
	}
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	var delivered, clicks int64
	for _, day := range resp {
		for _, s := range day.Stats {
			delivered += s.Metrics.Delivered
			clicks += s.Metrics.Clicks
		}
	}
	return core.NewMetrics(delivered, clicks, 0, 0), nil
}

func (c *Connector) call(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) error {
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
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
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
