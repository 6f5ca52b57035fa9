package server

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/connector/registry"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/json"
	"github.com/meridianhq/meridian/pkg/logger"
	"github.com/meridianhq/meridian/pkg/metrics"
	"github.com/meridianhq/meridian/pkg/version"
)

var validate = validator.New()

type createConnectorRequest struct {
	Platform    string            `json:"platform" validate:"required"`
	Name        string            `json:"name"`
	Credentials map[string]string `json:"credentials" validate:"required"`

	RateLimitWindowSeconds int `json:"rate_limit_window_seconds" validate:"gte=0"`
	RateLimitMaxCalls      int `json:"rate_limit_max_calls" validate:"gte=0"`
	RequestTimeoutSeconds  int `json:"request_timeout_seconds" validate:"gte=0"`
}

type mediaRequest struct {
	URL     string `json:"url" validate:"required,url"`
	Kind    string `json:"kind" validate:"required,oneof=image video document"`
	Caption string `json:"caption"`
}

type envelopeRequest struct {
	Text     string         `json:"text"`
	Title    string         `json:"title"`
	Link     string         `json:"link" validate:"omitempty,url"`
	Hashtags []string       `json:"hashtags"`
	Media    []mediaRequest `json:"media" validate:"dive"`
	Target   string         `json:"target"`
}

type scheduleRequest struct {
	envelopeRequest
	At time.Time `json:"at" validate:"required"`
}

type instanceResponse struct {
	InstanceID string               `json:"instance_id"`
	Platform   string               `json:"platform"`
	Name       string               `json:"name"`
	AuthState  string               `json:"auth_state"`
	Caps       capabilitiesResponse `json:"capabilities"`
}

type capabilitiesResponse struct {
	Publish  bool   `json:"publish"`
	Schedule string `json:"schedule"`
	Update   bool   `json:"update"`
	Delete   bool   `json:"delete"`
	Insights bool   `json:"insights"`
	Webhooks bool   `json:"webhooks"`
}

func decodeRequest(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeValidation, "failed to read request body")
	}
	if len(body) == 0 {
		return errors.New(errors.ErrTypeValidation, "request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, errors.ErrTypeValidation, "malformed request body")
	}
	if err := validate.Struct(v); err != nil {
		return errors.Wrap(err, errors.ErrTypeValidation, "invalid request")
	}
	return nil
}

func (e *envelopeRequest) toEnvelope() *core.ContentEnvelope {
	envelope := &core.ContentEnvelope{
		Text:     e.Text,
		Title:    e.Title,
		Link:     e.Link,
		Hashtags: e.Hashtags,
		Target:   e.Target,
	}
	for _, m := range e.Media {
		envelope.Media = append(envelope.Media, core.Media{
			URL:     m.URL,
			Kind:    core.MediaKind(m.Kind),
			Caption: m.Caption,
		})
	}
	return envelope
}

func scheduleSupportName(s core.ScheduleSupport) string {
	switch s {
	case core.ScheduleNative:
		return "native"
	case core.ScheduleFallback:
		return "fallback"
	default:
		return "unsupported"
	}
}

func instanceView(instance *registry.Instance) instanceResponse {
	caps := instance.Connector.Capabilities()
	return instanceResponse{
		InstanceID: instance.ID,
		Platform:   string(instance.Platform),
		Name:       instance.Name,
		AuthState:  string(instance.Connector.AuthState()),
		Caps: capabilitiesResponse{
			Publish:  caps.Publish,
			Schedule: scheduleSupportName(caps.Schedule),
			Update:   caps.Update,
			Delete:   caps.Delete,
			Insights: caps.Insights,
			Webhooks: caps.Webhooks,
		},
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"version": version.Version,
		"commit":  version.Commit,
	})
}

func (s *Server) handleCreateConnector(w http.ResponseWriter, r *http.Request) {
	var req createConnectorRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cfg := config.NewBaseConfig(req.Name, req.Platform)
	cfg.Security.Credentials = req.Credentials
	if req.RateLimitWindowSeconds > 0 {
		cfg.Reliability.RateLimitWindow = time.Duration(req.RateLimitWindowSeconds) * time.Second
	} else if s.cfg.Defaults.RateLimitWindow > 0 {
		cfg.Reliability.RateLimitWindow = s.cfg.Defaults.RateLimitWindow
	}
	cfg.Reliability.RateLimitMaxCalls = req.RateLimitMaxCalls
	if req.RequestTimeoutSeconds > 0 {
		cfg.Timeouts.Request = time.Duration(req.RequestTimeoutSeconds) * time.Second
	} else if s.cfg.Defaults.RequestTimeout > 0 {
		cfg.Timeouts.Request = s.cfg.Defaults.RequestTimeout
	}

	instance, err := s.registry.Create(r.Context(), req.Platform, cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, instanceView(instance))
}

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	instances := s.registry.List()
	views := make([]instanceResponse, 0, len(instances))
	for _, instance := range instances {
		views = append(views, instanceView(instance))
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"connectors": views})
}

func (s *Server) handleGetConnector(w http.ResponseWriter, r *http.Request) {
	instance, err := s.registry.Get(chi.URLParam(r, "instanceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, instanceView(instance))
}

func (s *Server) handleDiscardConnector(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Discard(r.Context(), chi.URLParam(r, "instanceID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	instance, err := s.registry.Get(chi.URLParam(r, "instanceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := instance.Connector.Authenticate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"auth_state": string(instance.Connector.AuthState()),
		"profile":    profile,
	})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	instance, err := s.registry.Get(chi.URLParam(r, "instanceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req envelopeRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := instance.Connector.PublishContent(r.Context(), req.toEnvelope())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	instance, err := s.registry.Get(chi.URLParam(r, "instanceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req scheduleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := instance.Connector.ScheduleContent(r.Context(), req.toEnvelope(), req.At)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	instance, err := s.registry.Get(chi.URLParam(r, "instanceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req envelopeRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := instance.Connector.UpdateContent(r.Context(),
		chi.URLParam(r, "externalID"), req.toEnvelope())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	instance, err := s.registry.Get(chi.URLParam(r, "instanceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := instance.Connector.DeleteContent(r.Context(), chi.URLParam(r, "externalID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	instance, err := s.registry.Get(chi.URLParam(r, "instanceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	m, err := instance.Connector.GetInsights(r.Context(), chi.URLParam(r, "externalID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, m)
}

// handleWebhook normalizes an inbound provider webhook. Providers retry on
// non-2xx, so the endpoint acknowledges every well-addressed request even
// when the payload is malformed.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platformName := chi.URLParam(r, "platform")
	log := logger.WithContext(r.Context()).With(zap.String("platform", platformName))

	platform, err := core.ParsePlatform(platformName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	instance, err := s.registry.Get(chi.URLParam(r, "instanceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if instance.Platform != platform {
		writeError(w, r, errors.Newf(errors.ErrTypeInvalidConnectorReference,
			"instance %s is not a %s connector", instance.ID, platform))
		return
	}

	normalizer, ok := instance.Connector.(core.WebhookNormalizer)
	if !ok {
		writeError(w, r, errors.Unsupported(string(platform), "webhook",
			"platform has no webhook intake"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn("webhook body read failed", zap.Error(err))
		writeJSON(w, r, http.StatusOK, map[string]int{"received": 0})
		return
	}

	events, err := normalizer.NormalizeWebhook(body)
	if err != nil {
		// Acknowledge anyway; a retry of a malformed payload will not parse
		// any better.
		metrics.WebhookEventsTotal.WithLabelValues(string(platform), "error").Inc()
		log.Warn("webhook payload rejected", zap.Error(err))
		writeJSON(w, r, http.StatusOK, map[string]int{"received": 0})
		return
	}

	for _, event := range events {
		metrics.WebhookEventsTotal.WithLabelValues(string(platform), string(event.Type)).Inc()
	}
	log.Info("webhook normalized", zap.Int("events", len(events)))
	writeJSON(w, r, http.StatusOK, map[string]int{"received": len(events)})
}
