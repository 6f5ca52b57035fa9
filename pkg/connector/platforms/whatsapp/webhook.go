package whatsapp

import (
	"strconv"
	"time"

	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/json"
)

// webhookPayload is the Cloud API webhook envelope. One request can carry
// multiple entries, each with multiple changes.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string        `json:"field"`
			Value webhookChange `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookChange struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []rawMessage `json:"messages"`
	Statuses []rawStatus  `json:"statuses"`
}

type rawMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *rawMedia `json:"image"`
	Video    *rawMedia `json:"video"`
	Audio    *rawMedia `json:"audio"`
	Document *rawMedia `json:"document"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

type rawMedia struct {
	ID       string `json:"id"`
	Caption  string `json:"caption"`
	MimeType string `json:"mime_type"`
}

type rawStatus struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Errors      []struct {
		Title string `json:"title"`
	} `json:"errors"`
}

// NormalizeWebhook maps a Cloud API webhook body onto canonical events.
// Unrecognized message types normalize to kind unknown rather than failing;
// a body that is not the webhook envelope at all returns an error.
func (c *Connector) NormalizeWebhook(body []byte) ([]core.Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeValidation, "malformed webhook payload")
	}
	if payload.Object == "" || len(payload.Entry) == 0 {
		return nil, errors.New(errors.ErrTypeValidation, "webhook payload has no entries")
	}

	var events []core.Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			names := senderNames(value)
			for _, msg := range value.Messages {
				events = append(events, core.Event{
					Type:     core.EventInboundMessage,
					Platform: core.PlatformWhatsApp,
					Message:  normalizeMessage(msg, names),
				})
			}
			for _, st := range value.Statuses {
				events = append(events, core.Event{
					Type:     core.EventStatusUpdate,
					Platform: core.PlatformWhatsApp,
					Status:   normalizeStatus(st),
				})
			}
			if len(value.Messages) == 0 && len(value.Statuses) == 0 {
				events = append(events, core.Event{
					Type:     core.EventOther,
					Platform: core.PlatformWhatsApp,
				})
			}
		}
	}
	return events, nil
}

func senderNames(change webhookChange) map[string]string {
	names := make(map[string]string, len(change.Contacts))
	for _, contact := range change.Contacts {
		names[contact.WaID] = contact.Profile.Name
	}
	return names
}

func normalizeMessage(msg rawMessage, names map[string]string) *core.InboundMessage {
	out := &core.InboundMessage{
		ID:         msg.ID,
		From:       msg.From,
		Timestamp:  epochTime(msg.Timestamp),
		Kind:       core.MessageKindUnknown,
		SenderName: names[msg.From],
	}

	switch msg.Type {
	case "text":
		out.Kind = core.MessageKindText
		if msg.Text != nil {
			out.Text = msg.Text.Body
		}
	case "image":
		out.Kind = core.MessageKindImage
		applyMedia(out, msg.Image)
	case "video":
		out.Kind = core.MessageKindVideo
		applyMedia(out, msg.Video)
	case "audio":
		out.Kind = core.MessageKindAudio
		applyMedia(out, msg.Audio)
	case "document":
		out.Kind = core.MessageKindDocument
		applyMedia(out, msg.Document)
	case "location":
		out.Kind = core.MessageKindLocation
		if msg.Location != nil {
			out.Latitude = msg.Location.Latitude
			out.Longitude = msg.Location.Longitude
		}
	case "interactive":
		if msg.Interactive == nil {
			break
		}
		switch {
		case msg.Interactive.ButtonReply != nil:
			out.Kind = core.MessageKindButtonReply
			out.ReplyID = msg.Interactive.ButtonReply.ID
			out.Text = msg.Interactive.ButtonReply.Title
		case msg.Interactive.ListReply != nil:
			out.Kind = core.MessageKindListReply
			out.ReplyID = msg.Interactive.ListReply.ID
			out.Text = msg.Interactive.ListReply.Title
		}
	}
	return out
}

func applyMedia(out *core.InboundMessage, media *rawMedia) {
	if media == nil {
		return
	}
	out.MediaID = media.ID
	out.Text = media.Caption
}

func normalizeStatus(st rawStatus) *core.StatusUpdate {
	out := &core.StatusUpdate{
		MessageID: st.ID,
		Recipient: st.RecipientID,
		Timestamp: epochTime(st.Timestamp),
	}
	switch st.Status {
	case "sent":
		out.State = core.DeliverySent
	case "delivered":
		out.State = core.DeliveryDelivered
	case "read":
		out.State = core.DeliveryRead
	case "failed":
		out.State = core.DeliveryFailed
		if len(st.Errors) > 0 {
			out.ErrorDetail = st.Errors[0].Title
		}
	default:
		out.State = core.DeliveryState(st.Status)
	}
	return out
}

func epochTime(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
