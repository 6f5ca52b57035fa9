package shopify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/json"
)

func testConfig() *config.BaseConfig {
	cfg := config.NewBaseConfig("test-shop", "shopify")
	cfg.Security.Credentials = map[string]string{
		"shop_domain":  "demo.myshopify.com",
		"access_token": "shpat_test_token",
	}
	return cfg
}

// newAuthenticatedConnector initializes a connector against the given fake
// admin API and runs the authentication probe.
func newAuthenticatedConnector(t *testing.T, srv *httptest.Server) *Connector {
	t.Helper()

	c := New()
	require.NoError(t, c.Initialize(context.Background(), testConfig()))
	c.baseURL = srv.URL
	t.Cleanup(func() { c.Close(context.Background()) })

	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	return c
}

func adminHandler(t *testing.T, articles http.HandlerFunc) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shpat_test_token", r.Header.Get("X-Shopify-Access-Token"))
		switch r.URL.Path {
		case "/admin/api/2024-01/shop.json":
			io.WriteString(w, `{"shop": {"id": 9001, "name": "Demo Shop"}}`)
		case "/admin/api/2024-01/blogs.json":
			io.WriteString(w, `{"blogs": [{"id": 77}]}`)
		default:
			if articles != nil {
				articles(w, r)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestInitializeRequiresCredentials(t *testing.T) {
	c := New()
	cfg := config.NewBaseConfig("test-shop", "shopify")
	cfg.Security.Credentials = map[string]string{"access_token": "x"}

	err := c.Initialize(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidCredentials))
}

func TestAuthenticateResolvesShopAndBlog(t *testing.T) {
	srv := httptest.NewServer(adminHandler(t, nil))
	defer srv.Close()

	c := newAuthenticatedConnector(t, srv)
	assert.Equal(t, core.AuthStateAuthenticated, c.AuthState())
	assert.Equal(t, int64(77), c.blogID)

	profile := c.Profile()
	require.NotNil(t, profile)
	assert.Equal(t, "9001", profile.ID)
	assert.Equal(t, "Demo Shop", profile.Name)
}

func TestAuthenticateRejectedTokenMarksExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"errors": "invalid api key"}`)
	}))
	defer srv.Close()

	c := New()
	require.NoError(t, c.Initialize(context.Background(), testConfig()))
	c.baseURL = srv.URL
	defer c.Close(context.Background())

	_, err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuthFailed))
	assert.Equal(t, core.AuthStateExpired, c.AuthState())
}

func TestPublishCreatesArticle(t *testing.T) {
	var captured struct {
		Article article `json:"article"`
	}
	srv := httptest.NewServer(adminHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/admin/api/2024-01/blogs/77/articles.json", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		io.WriteString(w, `{"article": {"id": 1234, "handle": "spring-sale"}}`)
	}))
	defer srv.Close()

	c := newAuthenticatedConnector(t, srv)
	result, err := c.PublishContent(context.Background(), &core.ContentEnvelope{
		Title:    "Spring sale",
		Text:     "Everything 20% off this week.",
		Hashtags: []string{"sale", "spring"},
		Media:    []core.Media{{URL: "https://cdn.example.com/banner.jpg", Kind: core.MediaKindImage}},
	})
	require.NoError(t, err)

	assert.Equal(t, "1234", result.ExternalID)
	assert.Equal(t, core.ContentStatePublished, result.State)
	assert.Contains(t, result.ExternalURL, "spring-sale")

	assert.Equal(t, "Spring sale", captured.Article.Title)
	assert.Contains(t, captured.Article.BodyHTML, "Everything 20% off")
	assert.Equal(t, "sale, spring", captured.Article.Tags)
	require.NotNil(t, captured.Article.Published)
	assert.True(t, *captured.Article.Published)
	require.NotNil(t, captured.Article.Image)
	assert.Equal(t, "https://cdn.example.com/banner.jpg", captured.Article.Image.Src)
}

func TestScheduleSetsFuturePublishedAt(t *testing.T) {
	var captured struct {
		Article article `json:"article"`
	}
	srv := httptest.NewServer(adminHandler(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		io.WriteString(w, `{"article": {"id": 55, "handle": "later"}}`)
	}))
	defer srv.Close()

	c := newAuthenticatedConnector(t, srv)
	at := time.Now().Add(4 * time.Hour).UTC().Truncate(time.Second)
	result, err := c.ScheduleContent(context.Background(),
		&core.ContentEnvelope{Title: "Later", Text: "future post"}, at)
	require.NoError(t, err)

	assert.Equal(t, core.ContentStateScheduled, result.State)
	require.NotNil(t, captured.Article.Published)
	assert.False(t, *captured.Article.Published)
	assert.Equal(t, at.Format(time.RFC3339), captured.Article.PublishedAt)
}

func TestScheduleRejectsPastTime(t *testing.T) {
	srv := httptest.NewServer(adminHandler(t, nil))
	defer srv.Close()

	c := newAuthenticatedConnector(t, srv)
	_, err := c.ScheduleContent(context.Background(),
		&core.ContentEnvelope{Text: "too late"}, time.Now().Add(-time.Minute))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestDeleteArticle(t *testing.T) {
	srv := httptest.NewServer(adminHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/admin/api/2024-01/blogs/77/articles/1234.json", r.URL.Path)
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := newAuthenticatedConnector(t, srv)
	result, err := c.DeleteContent(context.Background(), "1234")
	require.NoError(t, err)
	assert.Equal(t, core.ContentStateDeleted, result.State)
}

func TestInsightsUnsupported(t *testing.T) {
	srv := httptest.NewServer(adminHandler(t, nil))
	defer srv.Close()

	c := newAuthenticatedConnector(t, srv)
	_, err := c.GetInsights(context.Background(), "1234")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUnsupportedOperation))
}
