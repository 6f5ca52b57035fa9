package core

import "time"

// EventType classifies a normalized webhook event
type EventType string

const (
	// EventInboundMessage is a user-initiated message received by the platform
	EventInboundMessage EventType = "inbound_message"
	// EventStatusUpdate reports a delivery state change for an outbound message
	EventStatusUpdate EventType = "status_update"
	// EventOther covers well-formed payloads that are neither messages nor
	// status updates; they are acknowledged and ignored.
	EventOther EventType = "other"
)

// MessageKind identifies the content of an inbound message
type MessageKind string

const (
	MessageKindText        MessageKind = "text"
	MessageKindImage       MessageKind = "image"
	MessageKindVideo       MessageKind = "video"
	MessageKindAudio       MessageKind = "audio"
	MessageKindDocument    MessageKind = "document"
	MessageKindLocation    MessageKind = "location"
	MessageKindButtonReply MessageKind = "button_reply"
	MessageKindListReply   MessageKind = "list_reply"
	MessageKindUnknown     MessageKind = "unknown"
)

// DeliveryState is the outbound-message lifecycle reported by status webhooks
type DeliveryState string

const (
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
	DeliveryFailed    DeliveryState = "failed"
)

// InboundMessage is the platform-neutral shape of a received message
type InboundMessage struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      MessageKind `json:"kind"`
	// Text carries the message body for text messages and the caption, if
	// any, for media messages.
	Text string `json:"text,omitempty"`
	// MediaID references platform-held media for image/video/audio/document
	// messages; the binary is fetched separately.
	MediaID string `json:"media_id,omitempty"`
	// Latitude/Longitude are set for location messages
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	// ReplyID is the selected option for button and list replies
	ReplyID string `json:"reply_id,omitempty"`
	// SenderName is the sender's display name when the payload carries one
	SenderName string `json:"sender_name,omitempty"`
}

// StatusUpdate is the platform-neutral shape of a delivery status change
type StatusUpdate struct {
	MessageID string        `json:"message_id"`
	Recipient string        `json:"recipient"`
	State     DeliveryState `json:"state"`
	Timestamp time.Time     `json:"timestamp"`
	// ErrorDetail is populated when State is failed
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Event is one normalized webhook event. Exactly one of Message and Status
// is set, matching Type.
type Event struct {
	Type     EventType       `json:"type"`
	Platform Platform        `json:"platform"`
	Message  *InboundMessage `json:"message,omitempty"`
	Status   *StatusUpdate   `json:"status,omitempty"`
}

// WebhookNormalizer turns a raw provider webhook body into canonical events.
// A single request body may fan out to multiple events. Malformed payloads
// return an error; the transport layer still acknowledges the provider.
type WebhookNormalizer interface {
	NormalizeWebhook(body []byte) ([]Event, error)
}
