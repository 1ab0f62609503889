package messaging

import (
	"net/url"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/tidwall/gjson"
)

// maxExtractDepth bounds the structural search over unknown payload shapes.
const maxExtractDepth = 8

// ParseWaAPIPayload normalizes a waApi JSON webhook body. The boolean is false
// when the payload carries no routable message.
func ParseWaAPIPayload(body []byte) (models.InboundEvent, bool) {
	if !gjson.ValidBytes(body) {
		return models.InboundEvent{}, false
	}
	root := gjson.ParseBytes(body)

	var evt models.InboundEvent
	switch {
	case root.Get("event").String() == "message" && root.Get("data").Exists():
		msg := root.Get("data.message")
		if msg.Get("fromMe").Bool() {
			return models.InboundEvent{}, false
		}
		evt = models.InboundEvent{
			UserID:    userIDFromAddress(msg.Get("from").String()),
			Text:      strings.TrimSpace(msg.Get("body").String()),
			MessageID: messageID(msg.Get("id")),
		}
		media := root.Get("data.media")
		if u := media.Get("url").String(); u != "" {
			evt.Attachment = &models.Attachment{
				URL:      u,
				Filename: media.Get("filename").String(),
				MimeType: media.Get("mimetype").String(),
			}
			// Media messages put the base64 thumbnail or caption in body.
			if msg.Get("hasMedia").Bool() && msg.Get("type").String() != "chat" {
				evt.Text = strings.TrimSpace(msg.Get("caption").String())
			}
		}
	case root.Get("messages").IsArray():
		msg := root.Get("messages.0")
		evt = models.InboundEvent{
			UserID:    userIDFromAddress(msg.Get("from").String()),
			MessageID: messageID(msg.Get("id")),
		}
		switch {
		case msg.Get("text").Exists():
			evt.Text = msg.Get("text.body").String()
		case msg.Get("caption").Exists():
			evt.Text = msg.Get("caption").String()
		default:
			evt.Text = msg.Get("body").String()
		}
		evt.Text = strings.TrimSpace(evt.Text)
		for _, kind := range []string{"document", "image"} {
			m := msg.Get(kind)
			if !m.Exists() {
				continue
			}
			link := m.Get("link").String()
			if link == "" {
				link = m.Get("url").String()
			}
			evt.Attachment = &models.Attachment{
				URL:      link,
				Filename: m.Get("filename").String(),
				MimeType: m.Get("mime_type").String(),
			}
			if evt.Text == "" {
				evt.Text = strings.TrimSpace(m.Get("caption").String())
			}
			break
		}
	default:
		text, from := extractFields(root, 0)
		evt = models.InboundEvent{UserID: userIDFromAddress(from), Text: text}
	}

	evt.Source = models.SourceWaAPI
	if !evt.Valid() {
		return models.InboundEvent{}, false
	}
	return evt, true
}

// parseWaAPIForm handles form-encoded posts used by test harnesses and
// Twilio-style relays.
func parseWaAPIForm(form url.Values) (models.InboundEvent, bool) {
	body := form.Get("body")
	if body == "" {
		body = form.Get("Body")
	}
	from := form.Get("from")
	if from == "" {
		from = form.Get("From")
	}
	evt := models.InboundEvent{
		UserID:    userIDFromAddress(from),
		Text:      strings.TrimSpace(body),
		MessageID: form.Get("id"),
		Source:    models.SourceWaAPI,
	}
	if !evt.Valid() {
		return models.InboundEvent{}, false
	}
	return evt, true
}

// messageID accepts both plain string ids and the {"_serialized": "..."} form.
func messageID(v gjson.Result) string {
	if v.IsObject() {
		return v.Get("_serialized").String()
	}
	return v.String()
}

// extractFields walks an arbitrary document in key order and returns the first
// string "body" and the first string "from" containing '@'.
func extractFields(v gjson.Result, depth int) (body, from string) {
	if depth > maxExtractDepth {
		return "", ""
	}
	visit := func(key string, value gjson.Result) {
		switch {
		case key == "body" && value.Type == gjson.String && body == "":
			body = strings.TrimSpace(value.String())
		case key == "from" && value.Type == gjson.String && strings.Contains(value.String(), "@") && from == "":
			from = value.String()
		case value.IsObject() || value.IsArray():
			b, f := extractFields(value, depth+1)
			if body == "" {
				body = b
			}
			if from == "" {
				from = f
			}
		}
	}
	v.ForEach(func(key, value gjson.Result) bool {
		if v.IsArray() {
			visit("", value)
		} else {
			visit(key.String(), value)
		}
		return body == "" || from == ""
	})
	return body, from
}
