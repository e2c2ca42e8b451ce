package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adiouf/wabridge/internal/config"
	"github.com/adiouf/wabridge/internal/conversation"
	"github.com/adiouf/wabridge/internal/domain/models"
	"github.com/adiouf/wabridge/internal/storage"
)

// ReadMarker marks provider messages as read. Implemented by the Cloud API client.
type ReadMarker interface {
	MarkMessageRead(ctx context.Context, messageID string) error
}

// Dispatcher runs the webhook pipeline: validate the universal request, verify
// authenticity, extract events, process each one independently, aggregate.
type Dispatcher struct {
	cfg           config.WebhookConfig
	verifier      *Verifier
	conversations *conversation.Store
	messages      storage.MessageStore
	readMarker    ReadMarker
	handlers      Handlers
	logger        *zap.Logger
	received      atomic.Int64
}

// NewDispatcher wires a dispatcher instance. readMarker may be nil when
// auto-mark-read is disabled.
func NewDispatcher(cfg config.WebhookConfig, conversations *conversation.Store, messages storage.MessageStore, readMarker ReadMarker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:           cfg,
		verifier:      NewVerifier(cfg.AppSecret),
		conversations: conversations,
		messages:      messages,
		readMarker:    readMarker,
		logger:        logger,
	}
}

// SetHandlers installs the user dispatch table. Call before serving traffic;
// the table is not guarded for concurrent replacement.
func (d *Dispatcher) SetHandlers(handlers Handlers) {
	d.handlers = handlers
}

// Conversations exposes the conversation store owned by this dispatcher.
func (d *Dispatcher) Conversations() *conversation.Store {
	return d.conversations
}

// ReceivedCount returns the number of inbound messages processed since start.
func (d *Dispatcher) ReceivedCount() int64 {
	return d.received.Load()
}

// Handle runs one universal request through the pipeline and returns the
// aggregated result. It never panics; unexpected failures come back as an
// internal_error result.
func (d *Dispatcher) Handle(ctx context.Context, req models.UniversalRequest) (result models.WebhookResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("webhook dispatch panicked", zap.Any("panic", r))
			result = models.Failure(models.FailureInternal, http.StatusInternalServerError, "internal error")
		}
	}()

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	if req.Method == "" || req.Headers == nil {
		return models.Failure(models.FailureValidation, http.StatusBadRequest, "method and headers are required")
	}

	switch strings.ToUpper(req.Method) {
	case http.MethodGet:
		return d.handleVerification(req)
	case http.MethodPost:
		return d.handleSubmission(ctx, req)
	default:
		return models.Failure(models.FailureMethodNotAllowed, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", req.Method))
	}
}

// handleVerification answers the provider's GET handshake: exact token match
// and a non-empty challenge are both required.
func (d *Dispatcher) handleVerification(req models.UniversalRequest) models.WebhookResult {
	mode := req.QueryParam("hub.mode")
	token := req.QueryParam("hub.verify_token")
	challenge := req.QueryParam("hub.challenge")

	if mode != "subscribe" {
		return models.Failure(models.FailureVerification, http.StatusForbidden, fmt.Sprintf("unsupported hub.mode %q", mode))
	}
	if token == "" || token != d.cfg.VerifyToken {
		return models.Failure(models.FailureVerification, http.StatusForbidden, "invalid verify token")
	}
	if challenge == "" {
		return models.Failure(models.FailureVerification, http.StatusForbidden, "missing hub.challenge")
	}

	return models.WebhookResult{
		Success:    true,
		StatusCode: http.StatusOK,
		Challenge:  challenge,
	}
}

func (d *Dispatcher) handleSubmission(ctx context.Context, req models.UniversalRequest) models.WebhookResult {
	if !req.HasBodySource() {
		return models.Failure(models.FailureValidation, http.StatusBadRequest, "request body is required")
	}
	if d.cfg.MaxBodySize > 0 && int64(len(req.RawBody)) > d.cfg.MaxBodySize {
		return models.Failure(models.FailureValidation, http.StatusBadRequest, "request body too large")
	}

	if d.cfg.VerifySignature {
		raw := req.RawBody
		if len(raw) == 0 {
			// No wire bytes captured: verify against a re-serialization of
			// the parsed body. Not guaranteed byte-identical to the original
			// transmission; hosts should always supply RawBody.
			reencoded, err := json.Marshal(req.Body)
			if err != nil {
				return models.Failure(models.FailureInvalidSignature, http.StatusUnauthorized, "no body available for signature check")
			}
			raw = reencoded
		}
		if !d.verifier.Verify(raw, req.Header(signatureHeader)) {
			return models.Failure(models.FailureInvalidSignature, http.StatusUnauthorized, "signature mismatch")
		}
	}

	envelope, err := decodeEnvelope(req)
	if err != nil {
		return models.Failure(models.FailureInvalidBody, http.StatusBadRequest, err.Error())
	}

	events := Extract(envelope)

	result := models.WebhookResult{
		Success:     true,
		StatusCode:  http.StatusOK,
		TotalEvents: len(events),
	}

	if !d.cfg.AutoProcess {
		// Caller opted to process events itself; hand back the extracted
		// batch without touching state or invoking handlers.
		result.Processed = events
		result.ProcessedEvents = len(events)
		result.Conversations = d.conversations.ListActive()
		return result
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return models.Failure(models.FailureTimeout, http.StatusGatewayTimeout, "webhook processing timed out")
		}

		if eventErr := d.processEvent(ctx, event); eventErr != nil {
			result.Errors = append(result.Errors, *eventErr)
			continue
		}
		result.Processed = append(result.Processed, event)
	}

	result.ProcessedEvents = len(result.Processed)
	result.ErrorCount = len(result.Errors)
	result.Success = result.ErrorCount == 0
	result.Conversations = d.conversations.ListActive()
	return result
}

// processEvent handles one extracted event in isolation. Any failure, panic
// included, is folded into a per-event error so one bad event never aborts
// the batch.
func (d *Dispatcher) processEvent(ctx context.Context, event models.ExtractedEvent) (eventErr *models.EventError) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event processing panicked",
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r))
			eventErr = &models.EventError{
				EventType: event.Type,
				MessageID: event.MessageID,
				WaID:      event.WaID,
				Message:   fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	d.conversations.UpdateFromEvent(event)

	if event.IsInboundMessage() {
		if err := d.persistInbound(ctx, event); err != nil {
			return &models.EventError{
				EventType: event.Type,
				MessageID: event.MessageID,
				WaID:      event.WaID,
				Message:   err.Error(),
			}
		}
		d.received.Add(1)

		if d.cfg.AutoMarkRead && event.MessageID != "" && d.readMarker != nil {
			if err := d.readMarker.MarkMessageRead(ctx, event.MessageID); err != nil {
				// Best effort; a failed read receipt never fails the event.
				d.logger.Warn("failed to mark message read",
					zap.String("message_id", event.MessageID),
					zap.Error(err))
			}
		}
	}

	if event.Status != nil {
		d.applyStatusReceipt(ctx, event)
	}

	var failures []string
	for _, handler := range d.handlers.handlersFor(event) {
		if err := d.invokeHandler(ctx, handler, event); err != nil {
			d.logger.Warn("event handler failed",
				zap.String("handler", handler.name),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", handler.name, err))
		}
	}

	if len(failures) > 0 {
		return &models.EventError{
			EventType: event.Type,
			MessageID: event.MessageID,
			WaID:      event.WaID,
			Message:   strings.Join(failures, "; "),
		}
	}
	return nil
}

// invokeHandler runs one handler with its own panic guard so a panicking
// handler cannot take down the handlers that follow it.
func (d *Dispatcher) invokeHandler(ctx context.Context, handler named, event models.ExtractedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.fn(ctx, event)
}

func (d *Dispatcher) persistInbound(ctx context.Context, event models.ExtractedEvent) error {
	if d.messages == nil {
		return nil
	}

	msg := models.StoredMessage{
		ID:                uuid.NewString(),
		ProviderMessageID: event.MessageID,
		ConversationID:    event.ConversationID,
		Direction:         models.DirectionIncoming,
		Type:              event.Type.SubType(),
		Content:           contentSummary(event.Content),
		Timestamp:         event.Timestamp,
		Status:            models.StatusDelivered,
	}
	if event.Content.Kind == models.ContentMedia {
		msg.Media = event.Content.Media
	}

	if err := d.messages.StoreMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to persist inbound message: %w", err)
	}
	return nil
}

// applyStatusReceipt forwards delivery receipts to the message store so
// outgoing messages progress through sent/delivered/read/failed.
func (d *Dispatcher) applyStatusReceipt(ctx context.Context, event models.ExtractedEvent) {
	if d.messages == nil || event.Status == nil {
		return
	}

	status := models.DeliveryStatus(event.Status.Status)
	switch status {
	case models.StatusSent, models.StatusDelivered, models.StatusRead, models.StatusFailed:
	default:
		return
	}

	if err := d.messages.UpdateStatusByProviderID(ctx, event.Status.ID, status); err != nil {
		d.logger.Warn("failed to apply delivery receipt",
			zap.String("provider_message_id", event.Status.ID),
			zap.Error(err))
	}
}

// decodeEnvelope parses the request body into a WebhookEnvelope, preferring
// the raw wire bytes.
func decodeEnvelope(req models.UniversalRequest) (models.WebhookEnvelope, error) {
	var envelope models.WebhookEnvelope

	if len(req.RawBody) > 0 {
		if err := json.Unmarshal(req.RawBody, &envelope); err != nil {
			return envelope, fmt.Errorf("malformed webhook body: %w", err)
		}
		return envelope, nil
	}

	switch body := req.Body.(type) {
	case models.WebhookEnvelope:
		return body, nil
	case *models.WebhookEnvelope:
		return *body, nil
	default:
		reencoded, err := json.Marshal(req.Body)
		if err != nil {
			return envelope, fmt.Errorf("unsupported webhook body: %w", err)
		}
		if err := json.Unmarshal(reencoded, &envelope); err != nil {
			return envelope, fmt.Errorf("malformed webhook body: %w", err)
		}
		return envelope, nil
	}
}

// contentSummary flattens event content into the searchable text column.
func contentSummary(content models.EventContent) string {
	switch content.Kind {
	case models.ContentText:
		return content.Text.Body
	case models.ContentMedia:
		if content.Media.Caption != "" {
			return content.Media.Caption
		}
		return content.Media.Filename
	case models.ContentLocation:
		if content.Location.Name != "" {
			return content.Location.Name
		}
		return fmt.Sprintf("%f,%f", content.Location.Latitude, content.Location.Longitude)
	case models.ContentContacts:
		names := make([]string, 0, len(content.Contacts))
		for _, c := range content.Contacts {
			names = append(names, c.Name.FormattedName)
		}
		return strings.Join(names, ", ")
	case models.ContentInteractive:
		if content.Interactive.ButtonReply != nil {
			return content.Interactive.ButtonReply.Title
		}
		if content.Interactive.ListReply != nil {
			return content.Interactive.ListReply.Title
		}
		return content.Interactive.Type
	case models.ContentReaction:
		return content.Reaction.Emoji
	default:
		return ""
	}
}
