package models

import "time"

// ConversationLifecycle enumerates the caller-visible states of a conversation.
type ConversationLifecycle string

const (
	ConversationActive    ConversationLifecycle = "active"
	ConversationWaiting   ConversationLifecycle = "waiting"
	ConversationCompleted ConversationLifecycle = "completed"
	ConversationArchived  ConversationLifecycle = "archived"
)

// ConversationState holds the mutable per-conversation record keyed by the
// remote party's wa_id. Conversations are created on first contact and never
// deleted automatically; archival is caller-driven.
type ConversationState struct {
	ID           string                `json:"id"`
	State        ConversationLifecycle `json:"state"`
	LastActivity time.Time             `json:"last_activity"`
	MessageCount int                   `json:"message_count"`
	DisplayName  string                `json:"display_name,omitempty"`
	Metadata     map[string]string     `json:"metadata,omitempty"`
	CurrentStep  string                `json:"current_step,omitempty"`
	Context      map[string]any        `json:"context,omitempty"`
}

// ConversationPatch carries a partial update merged into an existing state.
// Nil fields are left untouched; maps are merged key by key.
type ConversationPatch struct {
	State       *ConversationLifecycle
	DisplayName *string
	CurrentStep *string
	Metadata    map[string]string
	Context     map[string]any
}

// ConversationStatistics summarizes the conversation store contents.
type ConversationStatistics struct {
	Total                      int     `json:"total"`
	Active                     int     `json:"active"`
	Archived                   int     `json:"archived"`
	Completed                  int     `json:"completed"`
	AvgMessagesPerConversation float64 `json:"avg_messages_per_conversation"`
}
