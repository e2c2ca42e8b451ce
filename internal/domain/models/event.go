package models

import (
	"strconv"
	"time"
)

// EventType is the namespaced "category:subtype" identifier of an extracted event.
type EventType string

const (
	EventMessageText        EventType = "message:text"
	EventMessageImage       EventType = "message:image"
	EventMessageVideo       EventType = "message:video"
	EventMessageAudio       EventType = "message:audio"
	EventMessageVoice       EventType = "message:voice"
	EventMessageDocument    EventType = "message:document"
	EventMessageSticker     EventType = "message:sticker"
	EventMessageLocation    EventType = "message:location"
	EventMessageContacts    EventType = "message:contacts"
	EventMessageInteractive EventType = "message:interactive"
	EventMessageReaction    EventType = "message:reaction"
	EventMessageUnknown     EventType = "message:unknown"
	EventSystemError        EventType = "system:webhook_error"
)

// Category returns the part before the colon ("message", "status", "system").
func (t EventType) Category() string {
	for i := 0; i < len(t); i++ {
		if t[i] == ':' {
			return string(t[:i])
		}
	}
	return string(t)
}

// SubType returns the part after the colon, or "" when absent.
func (t EventType) SubType() string {
	for i := 0; i < len(t); i++ {
		if t[i] == ':' {
			return string(t[i+1:])
		}
	}
	return ""
}

// StatusEventType builds the event type for a delivery status receipt.
func StatusEventType(status string) EventType {
	return EventType("status:" + status)
}

// ContentKind discriminates the payload variant carried by an EventContent.
type ContentKind string

const (
	ContentText        ContentKind = "text"
	ContentMedia       ContentKind = "media"
	ContentLocation    ContentKind = "location"
	ContentContacts    ContentKind = "contacts"
	ContentInteractive ContentKind = "interactive"
	ContentReaction    ContentKind = "reaction"
	ContentNone        ContentKind = "none"
)

// EventContent is the tagged union of message payload variants. Exactly the
// pointer matching Kind is populated.
type EventContent struct {
	Kind        ContentKind         `json:"kind"`
	Text        *TextContent        `json:"text,omitempty"`
	Media       *MediaContent       `json:"media,omitempty"`
	Location    *LocationContent    `json:"location,omitempty"`
	Contacts    []SharedContact     `json:"contacts,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
	Reaction    *ReactionContent    `json:"reaction,omitempty"`
}

// ExtractedEvent is the normalized flat representation of one sub-event inside
// a webhook envelope.
type ExtractedEvent struct {
	Type               EventType      `json:"type"`
	Timestamp          time.Time      `json:"timestamp"`
	PhoneNumberID      string         `json:"phone_number_id"`
	DisplayPhoneNumber string         `json:"display_phone_number"`
	WaID               string         `json:"wa_id"`
	DisplayName        string         `json:"display_name"`
	MessageID          string         `json:"message_id,omitempty"`
	ConversationID     string         `json:"conversation_id"`
	Content            EventContent   `json:"content"`
	Status             *MessageStatus `json:"status,omitempty"`
	Error              *WebhookError  `json:"error,omitempty"`
	Raw                any            `json:"-"`
}

// IsInboundMessage reports whether the event represents a message sent by the
// remote party, as opposed to a status receipt or error report.
func (e ExtractedEvent) IsInboundMessage() bool {
	return e.Type.Category() == "message"
}

// ParseEpochSeconds converts the provider's epoch-second string timestamps to
// a millisecond-precision time. Malformed values fall back to now.
func ParseEpochSeconds(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Now().Truncate(time.Millisecond)
	}
	return time.UnixMilli(secs * 1000)
}
