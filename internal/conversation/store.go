package conversation

import (
	"sync"
	"time"

	"github.com/adiouf/wabridge/internal/domain/models"
)

// Store keeps per-conversation state keyed by the remote party's wa_id.
// Concurrent requests for the same conversation are serialized on a per-entry
// mutex so interleaved merges never lose updates.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	mu    sync.Mutex
	state models.ConversationState
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Get returns a copy of the conversation state, if present.
func (s *Store) Get(id string) (models.ConversationState, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return models.ConversationState{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneState(e.state), true
}

// Update applies a shallow merge of the patch onto the conversation, creating
// it first if unseen. LastActivity is always refreshed. The merged state is
// returned by value.
func (s *Store) Update(id string, patch models.ConversationPatch) models.ConversationState {
	e := s.entryFor(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	if patch.State != nil {
		e.state.State = *patch.State
	}
	if patch.DisplayName != nil {
		e.state.DisplayName = *patch.DisplayName
	}
	if patch.CurrentStep != nil {
		e.state.CurrentStep = *patch.CurrentStep
	}
	for k, v := range patch.Metadata {
		e.state.Metadata[k] = v
	}
	for k, v := range patch.Context {
		e.state.Context[k] = v
	}
	e.state.LastActivity = s.now()

	return cloneState(e.state)
}

// UpdateFromEvent refreshes the conversation touched by an extracted event.
// Inbound messages increment MessageCount; status receipts and errors only
// refresh activity. A non-empty display name on the event replaces the stored
// one.
func (s *Store) UpdateFromEvent(event models.ExtractedEvent) models.ConversationState {
	e := s.entryFor(event.ConversationID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if event.IsInboundMessage() {
		e.state.MessageCount++
	}
	if event.DisplayName != "" {
		e.state.DisplayName = event.DisplayName
	}
	e.state.LastActivity = s.now()

	return cloneState(e.state)
}

// SetStep records the current step of a multi-turn flow.
func (s *Store) SetStep(id, step string) models.ConversationState {
	return s.Update(id, models.ConversationPatch{CurrentStep: &step})
}

// MergeContext merges the given keys into the conversation's context map.
func (s *Store) MergeContext(id string, context map[string]any) models.ConversationState {
	return s.Update(id, models.ConversationPatch{Context: context})
}

// Archive moves the conversation to the archived state. Archival is always
// caller-driven; the store never expires conversations on its own.
func (s *Store) Archive(id string) models.ConversationState {
	state := models.ConversationArchived
	return s.Update(id, models.ConversationPatch{State: &state})
}

// Complete marks the conversation's flow as finished.
func (s *Store) Complete(id string) models.ConversationState {
	state := models.ConversationCompleted
	return s.Update(id, models.ConversationPatch{State: &state})
}

// ListActive returns copies of every conversation in the active or waiting state.
func (s *Store) ListActive() []models.ConversationState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []models.ConversationState
	for _, e := range s.entries {
		e.mu.Lock()
		if e.state.State == models.ConversationActive || e.state.State == models.ConversationWaiting {
			active = append(active, cloneState(e.state))
		}
		e.mu.Unlock()
	}
	return active
}

// Statistics summarizes the store contents.
func (s *Store) Statistics() models.ConversationStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.ConversationStatistics{}
	totalMessages := 0
	for _, e := range s.entries {
		e.mu.Lock()
		stats.Total++
		totalMessages += e.state.MessageCount
		switch e.state.State {
		case models.ConversationActive, models.ConversationWaiting:
			stats.Active++
		case models.ConversationArchived:
			stats.Archived++
		case models.ConversationCompleted:
			stats.Completed++
		}
		e.mu.Unlock()
	}

	if stats.Total > 0 {
		stats.AvgMessagesPerConversation = float64(totalMessages) / float64(stats.Total)
	}
	return stats
}

// entryFor returns the entry for id, creating it on first contact.
func (s *Store) entryFor(id string) *entry {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[id]; ok {
		return e
	}

	e = &entry{
		state: models.ConversationState{
			ID:           id,
			State:        models.ConversationActive,
			LastActivity: s.now(),
			Metadata:     make(map[string]string),
			Context:      make(map[string]any),
		},
	}
	s.entries[id] = e
	return e
}

func cloneState(state models.ConversationState) models.ConversationState {
	out := state
	out.Metadata = make(map[string]string, len(state.Metadata))
	for k, v := range state.Metadata {
		out.Metadata[k] = v
	}
	out.Context = make(map[string]any, len(state.Context))
	for k, v := range state.Context {
		out.Context[k] = v
	}
	return out
}
