package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adiouf/wabridge/internal/domain/models"
	"github.com/adiouf/wabridge/internal/service/messaging"
	"github.com/adiouf/wabridge/internal/storage"
	"github.com/adiouf/wabridge/internal/webhook"
)

// WebhookHandler is the gin adapter: it translates gin requests to the
// framework-agnostic UniversalRequest shape, runs the dispatcher, and maps the
// WebhookResult back onto the HTTP response.
type WebhookHandler struct {
	dispatcher *webhook.Dispatcher
	messaging  *messaging.Service
	messages   storage.MessageStore
	logger     *zap.Logger
}

// NewWebhookHandler constructs the HTTP handler adapter.
func NewWebhookHandler(dispatcher *webhook.Dispatcher, messagingSvc *messaging.Service, messages storage.MessageStore, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		dispatcher: dispatcher,
		messaging:  messagingSvc,
		messages:   messages,
		logger:     logger,
	}
}

// universalRequest wraps the gin request into the host-agnostic shape,
// capturing the exact wire bytes so signature verification does not depend on
// a re-serialization.
func universalRequest(c *gin.Context) models.UniversalRequest {
	query := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	var raw []byte
	if c.Request.Body != nil {
		raw, _ = io.ReadAll(c.Request.Body)
	}

	return models.UniversalRequest{
		Method:  c.Request.Method,
		Headers: c.Request.Header,
		Query:   query,
		RawBody: raw,
	}
}

// Verify responds to Meta's webhook verification challenge.
func (h *WebhookHandler) Verify(c *gin.Context) {
	result := h.dispatcher.Handle(c.Request.Context(), universalRequest(c))
	if !result.Success {
		h.logger.Warn("webhook verification failed", zap.String("reason", result.Message))
		c.String(result.StatusCode, "verification failed")
		return
	}

	c.String(http.StatusOK, result.Challenge)
}

// Receive ingests webhook POST callbacks from Meta. Terminal failures map to
// their HTTP status; partial per-event failures still return 200 with
// success=false in the aggregated body.
func (h *WebhookHandler) Receive(c *gin.Context) {
	result := h.dispatcher.Handle(c.Request.Context(), universalRequest(c))
	if result.Code != "" {
		h.logger.Warn("webhook rejected",
			zap.String("code", string(result.Code)),
			zap.String("reason", result.Message))
	}

	c.JSON(result.StatusCode, result)
}

// SendMessage allows sending outbound automation or manual responses, either
// directly or through the delivery queue.
func (h *WebhookHandler) SendMessage(c *gin.Context) {
	var req messaging.OutboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid outbound payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.messaging.SendText(c.Request.Context(), req)
	switch {
	case errors.Is(err, messaging.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue full"})
		return
	case errors.Is(err, messaging.ErrQueueDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": "queue disabled"})
		return
	case err != nil:
		h.logger.Error("failed sending outbound", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "unable to send message"})
		return
	}

	c.JSON(http.StatusAccepted, msg)
}

// Conversations returns the active conversation snapshot and store statistics.
func (h *WebhookHandler) Conversations(c *gin.Context) {
	store := h.dispatcher.Conversations()
	c.JSON(http.StatusOK, gin.H{
		"active":     store.ListActive(),
		"statistics": store.Statistics(),
	})
}

// Messages lists stored messages for one conversation with limit/offset paging.
func (h *WebhookHandler) Messages(c *gin.Context) {
	conversationID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}

	msgs, err := h.messages.GetMessages(c.Request.Context(), conversationID, limit, offset)
	if err != nil {
		h.logger.Error("failed listing messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SearchMessages performs a free-text search, optionally scoped to one conversation.
func (h *WebhookHandler) SearchMessages(c *gin.Context) {
	query := c.Query("q")
	conversationID := c.Query("conversation_id")

	msgs, err := h.messages.Search(c.Request.Context(), query, conversationID)
	if err != nil {
		h.logger.Error("failed searching messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
