package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/registry"
	"github.com/meridianhq/meridian/pkg/json"
)

func testServiceConfig() *config.ServiceConfig {
	return &config.ServiceConfig{
		Server: config.ServerConfig{
			Addr:            ":0",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Defaults: config.DefaultsConfig{
			RequestTimeout:  5 * time.Second,
			RateLimitWindow: time.Minute,
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New()
	t.Cleanup(func() { reg.Close(t.Context()) })
	return New(testServiceConfig(), reg)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// fakeCloudAPI answers the phone-number lookup that creation runs, and lets a
// test override how message sends are answered.
func fakeCloudAPI(t *testing.T, messages http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/messages") {
			if messages != nil {
				messages(w, r)
				return
			}
			io.WriteString(w, `{"messages": [{"id": "wamid.sent"}]}`)
			return
		}
		io.WriteString(w, `{"id": "1055512345", "display_phone_number": "+1 555 123 4567", "verified_name": "Support Line"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// createWhatsApp registers a whatsapp instance against the fake Cloud API
// and returns its id. Creation authenticates the instance.
func createWhatsApp(t *testing.T, s *Server, apiBaseURL string) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/connectors", `{
		"platform": "whatsapp",
		"name": "support-line",
		"credentials": {"access_token": "EAAG-test", "phone_number_id": "1055512345",
		                "api_base_url": "`+apiBaseURL+`"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		InstanceID string `json:"instance_id"`
		AuthState  string `json:"auth_state"`
	}
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.InstanceID)
	require.Equal(t, "authenticated", resp.AuthState)
	return resp.InstanceID
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestVersionEndpoint(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp, "version")
	assert.Contains(t, resp, "commit")
}

func TestCreateConnector(t *testing.T) {
	s := newTestServer(t)
	srv := fakeCloudAPI(t, nil)
	rec := do(t, s, http.MethodPost, "/api/v1/connectors", `{
		"platform": "whatsapp",
		"name": "support-line",
		"credentials": {"access_token": "EAAG-test", "phone_number_id": "1055512345",
		                "api_base_url": "`+srv.URL+`"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		InstanceID string `json:"instance_id"`
		Platform   string `json:"platform"`
		AuthState  string `json:"auth_state"`
		Caps       struct {
			Publish  bool   `json:"publish"`
			Schedule string `json:"schedule"`
			Update   bool   `json:"update"`
			Webhooks bool   `json:"webhooks"`
		} `json:"capabilities"`
	}
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.InstanceID)
	assert.Equal(t, "whatsapp", resp.Platform)
	assert.Equal(t, "authenticated", resp.AuthState,
		"creation must leave the instance authenticated")
	assert.True(t, resp.Caps.Publish)
	assert.Equal(t, "fallback", resp.Caps.Schedule)
	assert.False(t, resp.Caps.Update)
	assert.True(t, resp.Caps.Webhooks)
}

func TestCreateConnectorValidation(t *testing.T) {
	s := newTestServer(t)

	type errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	rec := do(t, s, http.MethodPost, "/api/v1/connectors", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/connectors", `{"name": "no-platform"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp errResp
	decodeBody(t, rec, &resp)
	assert.Equal(t, "validation", resp.Error.Type)

	rec = do(t, s, http.MethodPost, "/api/v1/connectors", `{
		"platform": "friendster",
		"credentials": {"token": "x"}
	}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/connectors", `{
		"platform": "whatsapp",
		"credentials": {"access_token": "only-half"}
	}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Equal(t, "invalid_credentials", resp.Error.Type)
}

func TestGetUnknownConnectorIs404(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/api/v1/connectors/no-such-id/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "invalid_connector_reference", resp.Error.Type)
}

func TestListAndDiscardConnectors(t *testing.T) {
	s := newTestServer(t)
	id := createWhatsApp(t, s, fakeCloudAPI(t, nil).URL)

	rec := do(t, s, http.MethodGet, "/api/v1/connectors", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Connectors []struct {
			InstanceID string `json:"instance_id"`
		} `json:"connectors"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Connectors, 1)
	assert.Equal(t, id, list.Connectors[0].InstanceID)

	rec = do(t, s, http.MethodDelete, "/api/v1/connectors/"+id+"/", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/connectors/"+id+"/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateOnImmutablePlatformIs422(t *testing.T) {
	s := newTestServer(t)
	id := createWhatsApp(t, s, fakeCloudAPI(t, nil).URL)

	rec := do(t, s, http.MethodPut, "/api/v1/connectors/"+id+"/content/wamid.abc",
		`{"text": "edited"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "unsupported_operation", resp.Error.Type)
	assert.Contains(t, resp.Error.Message, "follow-up message")
}

func TestPublishDispatchesMessage(t *testing.T) {
	s := newTestServer(t)
	id := createWhatsApp(t, s, fakeCloudAPI(t, nil).URL)

	rec := do(t, s, http.MethodPost, "/api/v1/connectors/"+id+"/publish",
		`{"text": "hello", "target": "15551234567"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		ExternalID string `json:"external_id"`
		State      string `json:"state"`
	}
	decodeBody(t, rec, &result)
	assert.Equal(t, "wamid.sent", result.ExternalID)
	assert.Equal(t, "published", result.State)
}

func TestRevokedTokenExpiresInstance(t *testing.T) {
	s := newTestServer(t)
	srv := fakeCloudAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": {"message": "token revoked"}}`)
	})
	id := createWhatsApp(t, s, srv.URL)

	// the provider rejects the send; the instance transitions to expired
	rec := do(t, s, http.MethodPost, "/api/v1/connectors/"+id+"/publish",
		`{"text": "hello", "target": "15551234567"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "auth_failed", resp.Error.Type)

	// the next call fails at the auth gate without reaching the provider
	rec = do(t, s, http.MethodGet, "/api/v1/connectors/"+id+"/", "")
	var view struct {
		AuthState string `json:"auth_state"`
	}
	decodeBody(t, rec, &view)
	assert.Equal(t, "expired", view.AuthState)
}

func TestWebhookAcknowledgesMalformedPayload(t *testing.T) {
	s := newTestServer(t)
	id := createWhatsApp(t, s, fakeCloudAPI(t, nil).URL)

	rec := do(t, s, http.MethodPost, "/api/v1/webhooks/whatsapp/"+id, `not json`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": 0}`, rec.Body.String())
}

func TestWebhookNormalizesEvents(t *testing.T) {
	s := newTestServer(t)
	id := createWhatsApp(t, s, fakeCloudAPI(t, nil).URL)

	rec := do(t, s, http.MethodPost, "/api/v1/webhooks/whatsapp/"+id, `{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1", "changes": [{"field": "messages", "value": {
			"messages": [{"id": "m1", "from": "1555", "timestamp": "1756684800",
			              "type": "text", "text": {"body": "hi"}}]
		}}]}]
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": 1}`, rec.Body.String())
}

func TestWebhookAddressingErrors(t *testing.T) {
	s := newTestServer(t)
	id := createWhatsApp(t, s, fakeCloudAPI(t, nil).URL)

	// unknown platform in the path
	rec := do(t, s, http.MethodPost, "/api/v1/webhooks/friendster/"+id, `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// unknown instance
	rec = do(t, s, http.MethodPost, "/api/v1/webhooks/whatsapp/no-such-id", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// platform mismatch between the path and the instance
	rec = do(t, s, http.MethodPost, "/api/v1/webhooks/twitter/"+id, `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
