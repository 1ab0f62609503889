// Package models defines the data types exchanged between LeadPipe modules.
package models

import (
	"strings"
	"time"
)

// EventSource names the gateway an inbound event came from.
type EventSource string

const (
	SourceWaAPI    EventSource = "waapi"
	SourceTwilio   EventSource = "twilio"
	SourceWhatsApp EventSource = "whatsapp"
	SourceTest     EventSource = "test"
)

// InboundEvent is a gateway message normalized for the dialogue engine.
type InboundEvent struct {
	UserID     string      `json:"user_id"`
	Text       string      `json:"text,omitempty"`
	MessageID  string      `json:"message_id,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Source     EventSource `json:"source,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}

// HasText reports whether the event carries non-blank text.
func (e InboundEvent) HasText() bool {
	return strings.TrimSpace(e.Text) != ""
}

// Valid reports whether the event can be routed: a user and some content.
func (e InboundEvent) Valid() bool {
	return e.UserID != "" && (e.HasText() || e.Attachment != nil)
}

// Submission is a completed session projected for the task board.
type Submission struct {
	ID          string                  `json:"id"`
	UserID      string                  `json:"user_id"`
	Category    Category                `json:"category"`
	Language    Language                `json:"language"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Fields      map[FieldKey]FieldValue `json:"fields"`
	CreatedAt   time.Time               `json:"created_at"`
}

// BoardReceipt is the task board's answer to a submission.
type BoardReceipt struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusIgnored indicates a webhook payload carried nothing to route.
	APIStatusIgnored APIStatus = "ignored"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Ignored creates a response for payloads that were accepted but not routed.
func Ignored(message string) APIResponse {
	return APIResponse{Status: string(APIStatusIgnored), Message: message}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
