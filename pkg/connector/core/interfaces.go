package core

import (
	"context"
	"time"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/errors"
)

// Platform identifies one external marketing/communication platform
type Platform string

const (
	PlatformMetaAds   Platform = "meta_ads"
	PlatformGoogleAds Platform = "google_ads"
	PlatformShopify   Platform = "shopify"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTikTok    Platform = "tiktok"
	PlatformSendGrid  Platform = "sendgrid"
)

// Platforms returns every supported platform
func Platforms() []Platform {
	return []Platform{
		PlatformMetaAds,
		PlatformGoogleAds,
		PlatformShopify,
		PlatformWhatsApp,
		PlatformTwitter,
		PlatformLinkedIn,
		PlatformTikTok,
		PlatformSendGrid,
	}
}

// ParsePlatform validates a caller-supplied platform name
func ParsePlatform(name string) (Platform, error) {
	p := Platform(name)
	for _, known := range Platforms() {
		if p == known {
			return p, nil
		}
	}
	return "", errors.Newf(errors.ErrTypeInvalidConnectorReference, "unknown platform %q", name)
}

// AuthState represents the authentication state of a connector instance
type AuthState string

const (
	AuthStateUnauthenticated AuthState = "unauthenticated"
	AuthStateAuthenticated   AuthState = "authenticated"
	AuthStateExpired         AuthState = "expired"
)

// Operation names one capability-contract operation. Operation names key the
// per-instance rate limiter and the capability matrix.
type Operation string

const (
	OpAuthenticate Operation = "authenticate"
	OpPublish      Operation = "publish"
	OpSchedule     Operation = "schedule"
	OpUpdate       Operation = "update"
	OpDelete       Operation = "delete"
	OpInsights     Operation = "insights"
)

// MediaKind is the kind of a media attachment
type MediaKind string

const (
	MediaKindImage    MediaKind = "image"
	MediaKindVideo    MediaKind = "video"
	MediaKindDocument MediaKind = "document"
)

// Media is one caller-supplied media attachment. The URL points at the
// source binary; platforms requiring pre-registered assets fetch and
// re-upload it through the media transfer pipeline.
type Media struct {
	URL     string    `json:"url"`
	Kind    MediaKind `json:"kind"`
	Caption string    `json:"caption,omitempty"`
}

// ContentEnvelope is the caller-supplied content to publish, schedule, or
// update. Target is the platform-specific recipient, page, or channel; when
// empty, connectors fall back to the target configured in the credential
// bundle.
type ContentEnvelope struct {
	Text       string     `json:"text"`
	Title      string     `json:"title,omitempty"`
	Link       string     `json:"link,omitempty"`
	Hashtags   []string   `json:"hashtags,omitempty"`
	Media      []Media    `json:"media,omitempty"`
	Target     string     `json:"target,omitempty"`
	ScheduleAt *time.Time `json:"schedule_at,omitempty"`
}

// ContentState is the lifecycle state reported in a PublishResult
type ContentState string

const (
	ContentStatePublished ContentState = "published"
	ContentStateScheduled ContentState = "scheduled"
	ContentStateUpdated   ContentState = "updated"
	ContentStateDeleted   ContentState = "deleted"
)

// PublishResult is the uniform result returned for publish, schedule,
// update, and delete regardless of platform.
type PublishResult struct {
	ExternalID  string       `json:"external_id"`
	ExternalURL string       `json:"external_url,omitempty"`
	State       ContentState `json:"state"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Metrics is the normalized performance record returned by GetInsights.
// All fields default to zero when the platform reports no data.
type Metrics struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Spend       float64 `json:"spend"`
	Conversions int64   `json:"conversions"`
	CTR         float64 `json:"ctr"`
	CPC         float64 `json:"cpc"`
	CPA         float64 `json:"cpa"`
}

// NewMetrics builds a Metrics record, deriving ctr/cpc/cpa with
// division-by-zero guards: each derived rate is zero when its denominator
// is zero.
func NewMetrics(impressions, clicks int64, spend float64, conversions int64) *Metrics {
	m := &Metrics{
		Impressions: impressions,
		Clicks:      clicks,
		Spend:       spend,
		Conversions: conversions,
	}
	if impressions > 0 {
		m.CTR = float64(clicks) / float64(impressions)
	}
	if clicks > 0 {
		m.CPC = spend / float64(clicks)
	}
	if conversions > 0 {
		m.CPA = spend / float64(conversions)
	}
	return m
}

// ProfileInfo describes the authenticated principal on a platform, returned
// by the authentication probe.
type ProfileInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

// Connector is the capability contract every platform connector implements.
//
// Constraints identical across all implementers:
//   - Initialize validates required credential fields (missing field means
//     invalid_credentials), performs the authentication probe, and only then
//     yields a usable connector.
//   - No capability call executes while the auth state is not authenticated;
//     an auth failure detected during any call transitions the state to
//     expired and surfaces as auth_failed on the next call, never retried
//     silently.
//   - Every operation consults the capability matrix before any network
//     call; structurally unsupported operations fail fast with
//     unsupported_operation.
type Connector interface {
	// Metadata
	Platform() Platform
	Name() string
	Version() string

	// Lifecycle
	Initialize(ctx context.Context, cfg *config.BaseConfig) error
	Close(ctx context.Context) error

	// Authentication. Idempotent; may be called again after expiry to
	// attempt recovery.
	Authenticate(ctx context.Context) (*ProfileInfo, error)
	AuthState() AuthState

	// Capabilities
	Capabilities() CapabilityMatrix

	// Content operations
	PublishContent(ctx context.Context, envelope *ContentEnvelope) (*PublishResult, error)
	ScheduleContent(ctx context.Context, envelope *ContentEnvelope, at time.Time) (*PublishResult, error)
	UpdateContent(ctx context.Context, externalID string, envelope *ContentEnvelope) (*PublishResult, error)
	DeleteContent(ctx context.Context, externalID string) (*PublishResult, error)

	// Insights. Optional; connectors whose matrix marks insights
	// unsupported fail fast.
	GetInsights(ctx context.Context, externalID string) (*Metrics, error)
}
