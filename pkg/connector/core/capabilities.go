package core

import (
	"fmt"

	"github.com/meridianhq/meridian/pkg/errors"
)

// ScheduleSupport describes how a platform supports deferred publishing
type ScheduleSupport int

const (
	// ScheduleUnsupported means the content model forbids deferred publish;
	// scheduling fails fast with unsupported_operation.
	ScheduleUnsupported ScheduleSupport = iota
	// ScheduleNative means the provider accepts a publish-at timestamp
	ScheduleNative
	// ScheduleFallback means scheduling is emulated with an in-process
	// deferred-publish job.
	ScheduleFallback
)

// MediaRules bounds the media a platform accepts in one envelope. A zero
// limit means the kind is not accepted.
type MediaRules struct {
	MaxImages    int
	MaxVideos    int
	MaxDocuments int
	// RequireVideo marks platforms whose content model is a single video
	// (exactly one, nothing else).
	RequireVideo bool
	// Exclusive means only one media kind may appear in an envelope
	Exclusive bool
}

// CapabilityMatrix is the static, per-platform table of which operations are
// supported. Operations marked unsupported fail fast and never attempt a
// network call; the hints name the recommended alternative in the error
// message.
type CapabilityMatrix struct {
	Publish  bool
	Schedule ScheduleSupport
	Update   bool
	Delete   bool
	Insights bool
	Webhooks bool

	Media MediaRules

	UpdateHint   string
	DeleteHint   string
	ScheduleHint string
	InsightsHint string
}

// Supports reports whether an operation can be attempted at all
func (m CapabilityMatrix) Supports(op Operation) bool {
	switch op {
	case OpAuthenticate:
		return true
	case OpPublish:
		return m.Publish
	case OpSchedule:
		return m.Schedule != ScheduleUnsupported
	case OpUpdate:
		return m.Update
	case OpDelete:
		return m.Delete
	case OpInsights:
		return m.Insights
	default:
		return false
	}
}

// Hint returns the alternative-action hint for an unsupported operation
func (m CapabilityMatrix) Hint(op Operation) string {
	switch op {
	case OpSchedule:
		return m.ScheduleHint
	case OpUpdate:
		return m.UpdateHint
	case OpDelete:
		return m.DeleteHint
	case OpInsights:
		return m.InsightsHint
	default:
		return ""
	}
}

// MatrixFor returns the capability matrix for a platform. The switch is
// exhaustive over the Platform enum: adding a platform without a matrix is a
// compile-time-visible omission, not a runtime surprise.
func MatrixFor(p Platform) CapabilityMatrix {
	switch p {
	case PlatformMetaAds:
		return CapabilityMatrix{
			Publish:  true,
			Schedule: ScheduleNative,
			Update:   true,
			Delete:   true,
			Insights: true,
			Media:    MediaRules{MaxImages: 4, MaxVideos: 1, Exclusive: true},
		}
	case PlatformGoogleAds:
		return CapabilityMatrix{
			Publish:  true,
			Schedule: ScheduleNative,
			Update:   true,
			Delete:   true,
			Insights: true,
			Media:    MediaRules{}, // responsive ads are assembled from text assets
		}
	case PlatformShopify:
		return CapabilityMatrix{
			Publish:      true,
			Schedule:     ScheduleNative,
			Update:       true,
			Delete:       true,
			Insights:     false,
			Media:        MediaRules{MaxImages: 8},
			InsightsHint: "store analytics are reported through the commerce dashboard, not the content API",
		}
	case PlatformWhatsApp:
		return CapabilityMatrix{
			Publish:      true,
			Schedule:     ScheduleFallback,
			Update:       false,
			Delete:       false,
			Insights:     false,
			Webhooks:     true,
			Media:        MediaRules{MaxImages: 1, MaxVideos: 1, MaxDocuments: 1, Exclusive: true},
			UpdateHint:   "sent messages are immutable; send a follow-up message instead",
			DeleteHint:   "sent messages cannot be retracted through the API",
			InsightsHint: "per-message metrics are not exposed; use delivery status webhooks",
		}
	case PlatformTwitter:
		return CapabilityMatrix{
			Publish:    true,
			Schedule:   ScheduleFallback,
			Update:     false,
			Delete:     true,
			Insights:   true,
			Media:      MediaRules{MaxImages: 4, MaxVideos: 1, Exclusive: true},
			UpdateHint: "posts cannot be edited; delete the post and repost the corrected content",
		}
	case PlatformLinkedIn:
		return CapabilityMatrix{
			Publish:      true,
			Schedule:     ScheduleFallback,
			Update:       false,
			Delete:       true,
			Insights:     false,
			Media:        MediaRules{MaxImages: 4},
			UpdateHint:   "published posts cannot be edited via the API; delete and republish",
			InsightsHint: "organization analytics require a separate reporting integration",
		}
	case PlatformTikTok:
		return CapabilityMatrix{
			Publish:      true,
			Schedule:     ScheduleUnsupported,
			Update:       false,
			Delete:       false,
			Insights:     true,
			Media:        MediaRules{MaxVideos: 1, RequireVideo: true},
			ScheduleHint: "direct post publishes immediately; schedule upstream and publish at the desired time",
			UpdateHint:   "published videos cannot be replaced; delete in the app and publish a new video",
			DeleteHint:   "video removal is only available in the app",
		}
	case PlatformSendGrid:
		return CapabilityMatrix{
			Publish:    true,
			Schedule:   ScheduleNative,
			Update:     false,
			Delete:     true,
			Insights:   true,
			Media:      MediaRules{MaxImages: 10, MaxDocuments: 10},
			UpdateHint: "sent email cannot be updated; deletion cancels a scheduled batch before send time",
			DeleteHint: "only scheduled sends can be cancelled before their send time",
		}
	default:
		// Unknown platforms support nothing.
		return CapabilityMatrix{}
	}
}

// DefaultRateBudgets returns the default per-window call budget per
// operation for a platform. Callers can override via configuration.
func DefaultRateBudgets(p Platform) map[string]int {
	switch p {
	case PlatformMetaAds:
		return map[string]int{
			string(OpPublish): 25, string(OpSchedule): 25, string(OpUpdate): 25,
			string(OpDelete): 25, string(OpInsights): 100, string(OpAuthenticate): 10,
		}
	case PlatformGoogleAds:
		return map[string]int{
			string(OpPublish): 15, string(OpSchedule): 15, string(OpUpdate): 15,
			string(OpDelete): 15, string(OpInsights): 60, string(OpAuthenticate): 10,
		}
	case PlatformShopify:
		// REST admin API leaky bucket is 2 req/s
		return map[string]int{
			string(OpPublish): 40, string(OpSchedule): 40, string(OpUpdate): 40,
			string(OpDelete): 40, string(OpAuthenticate): 10,
		}
	case PlatformWhatsApp:
		return map[string]int{
			string(OpPublish): 80, string(OpSchedule): 80, string(OpAuthenticate): 10,
		}
	case PlatformTwitter:
		return map[string]int{
			string(OpPublish): 10, string(OpSchedule): 10, string(OpDelete): 10,
			string(OpInsights): 75, string(OpAuthenticate): 10,
		}
	case PlatformLinkedIn:
		return map[string]int{
			string(OpPublish): 10, string(OpSchedule): 10, string(OpDelete): 10,
			string(OpAuthenticate): 10,
		}
	case PlatformTikTok:
		return map[string]int{
			string(OpPublish): 5, string(OpInsights): 30, string(OpAuthenticate): 10,
		}
	case PlatformSendGrid:
		return map[string]int{
			string(OpPublish): 100, string(OpSchedule): 100, string(OpDelete): 100,
			string(OpInsights): 100, string(OpAuthenticate): 10,
		}
	default:
		return map[string]int{}
	}
}

// ValidateEnvelope checks an envelope against the platform's media rules
// before any network call is made.
func ValidateEnvelope(p Platform, envelope *ContentEnvelope) error {
	if envelope == nil {
		return errors.New(errors.ErrTypeValidation, "content envelope is required")
	}

	rules := MatrixFor(p).Media

	var images, videos, documents int
	for i, m := range envelope.Media {
		if m.URL == "" {
			return errors.Newf(errors.ErrTypeValidation, "media[%d] is missing a source url", i)
		}
		switch m.Kind {
		case MediaKindImage:
			images++
		case MediaKindVideo:
			videos++
		case MediaKindDocument:
			documents++
		default:
			return errors.Newf(errors.ErrTypeValidation, "media[%d] has unknown kind %q", i, m.Kind)
		}
	}

	if rules.RequireVideo {
		if videos != 1 || images > 0 || documents > 0 {
			return errors.Newf(errors.ErrTypeValidation,
				"%s requires exactly one video attachment and nothing else", p)
		}
		return nil
	}

	if images > rules.MaxImages {
		return mediaLimitError(p, "image", images, rules.MaxImages)
	}
	if videos > rules.MaxVideos {
		return mediaLimitError(p, "video", videos, rules.MaxVideos)
	}
	if documents > rules.MaxDocuments {
		return mediaLimitError(p, "document", documents, rules.MaxDocuments)
	}
	if rules.Exclusive {
		kinds := 0
		for _, n := range []int{images, videos, documents} {
			if n > 0 {
				kinds++
			}
		}
		if kinds > 1 {
			return errors.Newf(errors.ErrTypeValidation,
				"%s does not accept mixed media kinds in one post", p)
		}
	}

	if envelope.Text == "" && len(envelope.Media) == 0 {
		return errors.New(errors.ErrTypeValidation, "envelope has neither text nor media")
	}

	return nil
}

func mediaLimitError(p Platform, kind string, got, max int) error {
	if max == 0 {
		return errors.Newf(errors.ErrTypeValidation, "%s does not accept %s attachments", p, kind)
	}
	return errors.New(errors.ErrTypeValidation,
		fmt.Sprintf("%s accepts at most %d %s attachments, got %d", p, max, kind, got))
}
