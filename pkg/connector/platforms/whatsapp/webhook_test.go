package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
)

func TestNormalizeWebhookTextMessage(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1001", "changes": [{"field": "messages", "value": {
			"messaging_product": "whatsapp",
			"contacts": [{"wa_id": "15551234567", "profile": {"name": "Dana"}}],
			"messages": [{
				"id": "wamid.abc",
				"from": "15551234567",
				"timestamp": "1756684800",
				"type": "text",
				"text": {"body": "hello there"}
			}]
		}}]}]
	}`)

	c := &Connector{}
	events, err := c.NormalizeWebhook(body)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, core.EventInboundMessage, ev.Type)
	assert.Equal(t, core.PlatformWhatsApp, ev.Platform)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "wamid.abc", ev.Message.ID)
	assert.Equal(t, core.MessageKindText, ev.Message.Kind)
	assert.Equal(t, "hello there", ev.Message.Text)
	assert.Equal(t, "Dana", ev.Message.SenderName)
	assert.Equal(t, time.Unix(1756684800, 0).UTC(), ev.Message.Timestamp)
}

func TestNormalizeWebhookMediaAndLocation(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1001", "changes": [{"field": "messages", "value": {
			"messages": [
				{"id": "m1", "from": "1555", "timestamp": "1756684800", "type": "image",
				 "image": {"id": "media-77", "caption": "our storefront"}},
				{"id": "m2", "from": "1555", "timestamp": "1756684801", "type": "location",
				 "location": {"latitude": 52.52, "longitude": 13.405}}
			]
		}}]}]
	}`)

	c := &Connector{}
	events, err := c.NormalizeWebhook(body)
	require.NoError(t, err)
	require.Len(t, events, 2)

	img := events[0].Message
	require.NotNil(t, img)
	assert.Equal(t, core.MessageKindImage, img.Kind)
	assert.Equal(t, "media-77", img.MediaID)
	assert.Equal(t, "our storefront", img.Text)

	loc := events[1].Message
	require.NotNil(t, loc)
	assert.Equal(t, core.MessageKindLocation, loc.Kind)
	assert.InDelta(t, 52.52, loc.Latitude, 1e-9)
	assert.InDelta(t, 13.405, loc.Longitude, 1e-9)
}

func TestNormalizeWebhookInteractiveReplies(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1001", "changes": [{"field": "messages", "value": {
			"messages": [
				{"id": "m1", "from": "1555", "timestamp": "1756684800", "type": "interactive",
				 "interactive": {"type": "button_reply",
				                 "button_reply": {"id": "opt-yes", "title": "Yes please"}}},
				{"id": "m2", "from": "1555", "timestamp": "1756684801", "type": "interactive",
				 "interactive": {"type": "list_reply",
				                 "list_reply": {"id": "row-2", "title": "Second option"}}}
			]
		}}]}]
	}`)

	c := &Connector{}
	events, err := c.NormalizeWebhook(body)
	require.NoError(t, err)
	require.Len(t, events, 2)

	btn := events[0].Message
	assert.Equal(t, core.MessageKindButtonReply, btn.Kind)
	assert.Equal(t, "opt-yes", btn.ReplyID)
	assert.Equal(t, "Yes please", btn.Text)

	list := events[1].Message
	assert.Equal(t, core.MessageKindListReply, list.Kind)
	assert.Equal(t, "row-2", list.ReplyID)
}

func TestNormalizeWebhookUnknownMessageType(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1001", "changes": [{"field": "messages", "value": {
			"messages": [{"id": "m1", "from": "1555", "timestamp": "1756684800", "type": "sticker"}]
		}}]}]
	}`)

	c := &Connector{}
	events, err := c.NormalizeWebhook(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, core.MessageKindUnknown, events[0].Message.Kind)
}

func TestNormalizeWebhookStatusUpdates(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1001", "changes": [{"field": "messages", "value": {
			"statuses": [
				{"id": "wamid.s1", "recipient_id": "1555", "status": "delivered", "timestamp": "1756684800"},
				{"id": "wamid.s2", "recipient_id": "1555", "status": "failed", "timestamp": "1756684801",
				 "errors": [{"title": "Message undeliverable"}]}
			]
		}}]}]
	}`)

	c := &Connector{}
	events, err := c.NormalizeWebhook(body)
	require.NoError(t, err)
	require.Len(t, events, 2)

	ok := events[0]
	assert.Equal(t, core.EventStatusUpdate, ok.Type)
	require.NotNil(t, ok.Status)
	assert.Equal(t, core.DeliveryDelivered, ok.Status.State)
	assert.Equal(t, "wamid.s1", ok.Status.MessageID)

	failed := events[1].Status
	require.NotNil(t, failed)
	assert.Equal(t, core.DeliveryFailed, failed.State)
	assert.Equal(t, "Message undeliverable", failed.ErrorDetail)
}

func TestNormalizeWebhookEmptyChange(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1001", "changes": [{"field": "account_update", "value": {}}]}]
	}`)

	c := &Connector{}
	events, err := c.NormalizeWebhook(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventOther, events[0].Type)
}

func TestNormalizeWebhookMalformedPayload(t *testing.T) {
	c := &Connector{}

	_, err := c.NormalizeWebhook([]byte(`{"not": "a webhook"}`))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = c.NormalizeWebhook([]byte(`not json at all`))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
