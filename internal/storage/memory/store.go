package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adiouf/wabridge/internal/domain/models"
	"github.com/adiouf/wabridge/internal/storage"
)

// Store is the in-memory reference implementation of storage.MessageStore.
// Suitable for a single process; multi-instance deployments should use the
// mongodb backend behind the same interface.
type Store struct {
	mu       sync.RWMutex
	messages map[string]models.StoredMessage
	byConv   map[string][]string
}

var _ storage.MessageStore = (*Store)(nil)

// NewStore creates an empty in-memory message store.
func NewStore() *Store {
	return &Store{
		messages: make(map[string]models.StoredMessage),
		byConv:   make(map[string][]string),
	}
}

// StoreMessage inserts the message, or replaces it when the id already exists.
func (s *Store) StoreMessage(_ context.Context, msg models.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; !exists {
		s.byConv[msg.ConversationID] = append(s.byConv[msg.ConversationID], msg.ID)
	}
	s.messages[msg.ID] = msg
	return nil
}

// GetMessage returns the message with the given local id.
func (s *Store) GetMessage(_ context.Context, id string) (models.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return models.StoredMessage{}, storage.ErrNotFound
	}
	return msg, nil
}

// GetMessages returns messages for one conversation in insertion order, with
// limit/offset pagination. limit <= 0 means no limit; a negative offset is
// treated as zero.
func (s *Store) GetMessages(_ context.Context, conversationID string, limit, offset int) ([]models.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	ids := s.byConv[conversationID]
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]models.StoredMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id])
	}
	return out, nil
}

// UpdateStatus moves the message to the given delivery status in place.
func (s *Store) UpdateStatus(_ context.Context, id string, status models.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	msg.Status = status
	s.messages[id] = msg
	return nil
}

// AttachProviderID records the provider message id on an existing record.
func (s *Store) AttachProviderID(_ context.Context, id, providerMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	msg.ProviderMessageID = providerMessageID
	s.messages[id] = msg
	return nil
}

// UpdateStatusByProviderID applies a delivery receipt. Unknown provider ids
// are silently ignored.
func (s *Store) UpdateStatusByProviderID(_ context.Context, providerMessageID string, status models.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, msg := range s.messages {
		if msg.ProviderMessageID == providerMessageID {
			msg.Status = status
			s.messages[id] = msg
			return nil
		}
	}
	return nil
}

// Search returns messages whose content contains the query, case-insensitively,
// optionally restricted to one conversation. Results are ordered by timestamp.
func (s *Store) Search(_ context.Context, query, conversationID string) ([]models.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []models.StoredMessage
	for _, msg := range s.messages {
		if conversationID != "" && msg.ConversationID != conversationID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(msg.Content), needle) {
			continue
		}
		out = append(out, msg)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Cleanup deletes messages older than the cutoff and reports how many were removed.
func (s *Store) Cleanup(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, msg := range s.messages {
		if msg.Timestamp.Before(olderThan) {
			delete(s.messages, id)
			s.removeFromConv(msg.ConversationID, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) removeFromConv(conversationID, id string) {
	ids := s.byConv[conversationID]
	for i, candidate := range ids {
		if candidate == id {
			s.byConv[conversationID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}
