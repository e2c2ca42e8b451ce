package models

import (
	"fmt"
	"net/http"
)

// UniversalRequest is the host-agnostic representation of an incoming HTTP
// request. RawBody carries the exact wire bytes when the host can provide
// them; signature verification must run over these, not a re-serialized body.
type UniversalRequest struct {
	Method  string
	Headers http.Header
	Query   map[string]string
	Body    any
	RawBody []byte
}

// Header returns the first header value for the given key, case-insensitively.
func (r UniversalRequest) Header(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// QueryParam returns the named query parameter or "".
func (r UniversalRequest) QueryParam(key string) string {
	if r.Query == nil {
		return ""
	}
	return r.Query[key]
}

// HasBodySource reports whether either a parsed body or raw bytes are present.
func (r UniversalRequest) HasBodySource() bool {
	return r.Body != nil || len(r.RawBody) > 0
}

// FailureCode is the machine-readable classification of a terminal webhook failure.
type FailureCode string

const (
	FailureValidation       FailureCode = "validation_error"
	FailureVerification     FailureCode = "verification_failed"
	FailureInvalidSignature FailureCode = "invalid_signature"
	FailureInvalidBody      FailureCode = "invalid_body"
	FailureMethodNotAllowed FailureCode = "method_not_allowed"
	FailureTimeout          FailureCode = "timeout"
	FailureInternal         FailureCode = "internal_error"
)

// EventError records one per-event processing failure inside a batch.
type EventError struct {
	EventType EventType `json:"event_type"`
	MessageID string    `json:"message_id,omitempty"`
	WaID      string    `json:"wa_id,omitempty"`
	Message   string    `json:"message"`
}

func (e EventError) Error() string {
	return fmt.Sprintf("event %s: %s", e.EventType, e.Message)
}

// WebhookResult is the aggregated outcome of one webhook dispatch, returned to
// the host adapter. For terminal failures only Success, StatusCode,
// FailureCode and Message are populated. For verification handshakes the
// Challenge field echoes the provider's challenge string.
type WebhookResult struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"status_code"`
	Challenge  string      `json:"challenge,omitempty"`
	Code       FailureCode `json:"code,omitempty"`
	Message    string      `json:"message,omitempty"`

	TotalEvents     int                 `json:"total_events"`
	ProcessedEvents int                 `json:"processed_events"`
	ErrorCount      int                 `json:"error_count"`
	Processed       []ExtractedEvent    `json:"processed,omitempty"`
	Errors          []EventError        `json:"errors,omitempty"`
	Conversations   []ConversationState `json:"active_conversations,omitempty"`
}

// Failure builds a terminal WebhookResult with the given code and HTTP status.
func Failure(code FailureCode, status int, message string) WebhookResult {
	return WebhookResult{
		Success:    false,
		StatusCode: status,
		Code:       code,
		Message:    message,
	}
}
