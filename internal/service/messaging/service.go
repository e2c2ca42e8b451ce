package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adiouf/wabridge/internal/config"
	"github.com/adiouf/wabridge/internal/conversation"
	"github.com/adiouf/wabridge/internal/domain/models"
	"github.com/adiouf/wabridge/internal/queue"
	"github.com/adiouf/wabridge/internal/storage"
	"github.com/adiouf/wabridge/pkg/clients/whatsapp"
)

// ErrQueueFull is returned when a queued send is rejected by a full queue.
var ErrQueueFull = errors.New("outbound queue full")

// ErrQueueDisabled is returned for queued sends when the queue is not enabled.
var ErrQueueDisabled = errors.New("outbound queue disabled")

// OutboundRequest describes one outbound text send.
type OutboundRequest struct {
	To         string `json:"to" binding:"required"`
	Message    string `json:"message" binding:"required"`
	PreviewURL bool   `json:"preview_url"`
	Queued     bool   `json:"queued"`
	Priority   int    `json:"priority"`
}

// Notification reports the final outcome of a queued send.
type Notification struct {
	Kind        string // "delivered" or "permanently_failed"
	MessageID   string
	Destination string
	Err         error
}

// NotifyFunc receives outbound delivery notifications.
type NotifyFunc func(Notification)

// Service owns the outbound message path: it persists messages as pending,
// sends them directly or through the bounded queue, and updates the stored
// record in place once the attempt resolves.
type Service struct {
	client        whatsapp.Client
	messages      storage.MessageStore
	conversations *conversation.Store
	queue         *queue.Queue
	notify        NotifyFunc
	logger        *zap.Logger
}

// queuedSend is the payload carried by queue items.
type queuedSend struct {
	MessageID  string
	To         string
	Body       string
	PreviewURL bool
}

// NewService wires the outbound path. The delivery queue is created here when
// enabled so its delivery loop can call back into the service.
func NewService(qcfg config.QueueConfig, client whatsapp.Client, messages storage.MessageStore, conversations *conversation.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		client:        client,
		messages:      messages,
		conversations: conversations,
		logger:        logger,
	}

	if qcfg.Enabled {
		s.queue = queue.New(qcfg.MaxSize, qcfg.MaxAttempts, s.deliverQueued, s.onPermanentFailure, logger.Named("queue"))
	}
	return s
}

// Queue exposes the delivery queue, or nil when disabled.
func (s *Service) Queue() *queue.Queue {
	return s.queue
}

// SetNotifier installs the outbound notification callback.
func (s *Service) SetNotifier(fn NotifyFunc) {
	s.notify = fn
}

// Start launches the delivery loop when the queue is enabled.
func (s *Service) Start(ctx context.Context) {
	if s.queue != nil {
		s.queue.Start(ctx)
	}
}

// Stop terminates the delivery loop.
func (s *Service) Stop() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

// SendText sends a text message. The stored record is created in pending state
// before any attempt; direct sends update it to sent or failed immediately,
// queued sends update it once the delivery loop resolves the attempt.
func (s *Service) SendText(ctx context.Context, req OutboundRequest) (models.StoredMessage, error) {
	msg := models.StoredMessage{
		ID:             uuid.NewString(),
		ConversationID: req.To,
		Direction:      models.DirectionOutgoing,
		Type:           "text",
		Content:        req.Message,
		Timestamp:      time.Now(),
		Status:         models.StatusPending,
	}

	if s.messages != nil {
		if err := s.messages.StoreMessage(ctx, msg); err != nil {
			return models.StoredMessage{}, fmt.Errorf("failed to store outgoing message: %w", err)
		}
	}

	if req.Queued {
		if s.queue == nil {
			return msg, ErrQueueDisabled
		}
		payload := queuedSend{
			MessageID:  msg.ID,
			To:         req.To,
			Body:       req.Message,
			PreviewURL: req.PreviewURL,
		}
		if _, ok := s.queue.Enqueue(req.To, "text", payload, req.Priority); !ok {
			s.markFailed(ctx, msg.ID, "queue full")
			return msg, ErrQueueFull
		}
		return msg, nil
	}

	resp, err := s.client.SendText(ctx, req.To, req.Message, req.PreviewURL)
	if err != nil {
		s.markFailed(ctx, msg.ID, err.Error())
		return msg, fmt.Errorf("failed to send message: %w", err)
	}

	s.markSent(ctx, msg.ID, resp.MessageID())
	msg.ProviderMessageID = resp.MessageID()
	msg.Status = models.StatusSent
	s.touchConversation(req.To)
	return msg, nil
}

// deliverQueued is the queue's delivery function: one attempt per call, any
// error counts against the item's attempt budget.
func (s *Service) deliverQueued(ctx context.Context, item models.QueueItem) error {
	payload, ok := item.Payload.(queuedSend)
	if !ok {
		return fmt.Errorf("unexpected queue payload type %T", item.Payload)
	}

	resp, err := s.client.SendText(ctx, payload.To, payload.Body, payload.PreviewURL)
	if err != nil {
		return err
	}

	s.markSent(ctx, payload.MessageID, resp.MessageID())
	s.touchConversation(payload.To)
	if s.notify != nil {
		s.notify(Notification{
			Kind:        "delivered",
			MessageID:   payload.MessageID,
			Destination: payload.To,
		})
	}
	return nil
}

// onPermanentFailure fires exactly once when an item exhausts its attempts.
func (s *Service) onPermanentFailure(item models.QueueItem, err error) {
	payload, _ := item.Payload.(queuedSend)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.markFailed(ctx, payload.MessageID, err.Error())

	s.logger.Error("queued send permanently failed",
		zap.String("message_id", payload.MessageID),
		zap.String("destination", item.Destination),
		zap.Int("attempts", item.Attempts),
		zap.Error(err))

	if s.notify != nil {
		s.notify(Notification{
			Kind:        "permanently_failed",
			MessageID:   payload.MessageID,
			Destination: item.Destination,
			Err:         err,
		})
	}
}

func (s *Service) markSent(ctx context.Context, id, providerMessageID string) {
	if s.messages == nil {
		return
	}
	if providerMessageID != "" {
		if err := s.messages.AttachProviderID(ctx, id, providerMessageID); err != nil {
			s.logger.Warn("failed to attach provider message id", zap.String("id", id), zap.Error(err))
		}
	}
	if err := s.messages.UpdateStatus(ctx, id, models.StatusSent); err != nil {
		s.logger.Warn("failed to mark message sent", zap.String("id", id), zap.Error(err))
	}
}

func (s *Service) markFailed(ctx context.Context, id, reason string) {
	if s.messages == nil || id == "" {
		return
	}
	if err := s.messages.UpdateStatus(ctx, id, models.StatusFailed); err != nil {
		s.logger.Warn("failed to mark message failed",
			zap.String("id", id),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func (s *Service) touchConversation(to string) {
	if s.conversations == nil {
		return
	}
	state := models.ConversationWaiting
	s.conversations.Update(to, models.ConversationPatch{State: &state})
}
