package models

import "time"

// MessageDirection distinguishes inbound from outbound messages.
type MessageDirection string

const (
	DirectionIncoming MessageDirection = "incoming"
	DirectionOutgoing MessageDirection = "outgoing"
)

// DeliveryStatus tracks the lifecycle of a stored message.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// StoredMessage is the append-mostly record of one inbound or outbound
// message. ID is generated locally and stable; ProviderMessageID is filled in
// after a successful send.
type StoredMessage struct {
	ID                string           `json:"id" bson:"_id"`
	ProviderMessageID string           `json:"provider_message_id,omitempty" bson:"provider_message_id,omitempty"`
	ConversationID    string           `json:"conversation_id" bson:"conversation_id"`
	Direction         MessageDirection `json:"direction" bson:"direction"`
	Type              string           `json:"type" bson:"type"`
	Content           string           `json:"content" bson:"content"`
	Timestamp         time.Time        `json:"timestamp" bson:"timestamp"`
	Status            DeliveryStatus   `json:"status" bson:"status"`
	Media             *MediaContent    `json:"media,omitempty" bson:"media,omitempty"`
	Error             *WebhookError    `json:"error,omitempty" bson:"error,omitempty"`
}

// QueueItem is one pending outbound send admitted to the delivery queue.
type QueueItem struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	Type        string    `json:"type"`
	Payload     any       `json:"payload"`
	Attempts    int       `json:"attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Priority    int       `json:"priority,omitempty"`
}
