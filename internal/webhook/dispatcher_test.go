package webhook

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/adiouf/wabridge/internal/config"
	"github.com/adiouf/wabridge/internal/conversation"
	"github.com/adiouf/wabridge/internal/domain/models"
	"github.com/adiouf/wabridge/internal/storage/memory"
)

const (
	testVerifyToken = "verify-token"
	testAppSecret   = "app-secret"
)

func testConfig() config.WebhookConfig {
	return config.WebhookConfig{
		VerifyToken:     testVerifyToken,
		AppSecret:       testAppSecret,
		VerifySignature: true,
		AutoProcess:     true,
	}
}

func newTestDispatcher(cfg config.WebhookConfig) (*Dispatcher, *memory.Store) {
	store := memory.NewStore()
	d := NewDispatcher(cfg, conversation.NewStore(), store, nil, nil)
	return d, store
}

func getRequest(mode, token, challenge string) models.UniversalRequest {
	return models.UniversalRequest{
		Method:  http.MethodGet,
		Headers: http.Header{},
		Query: map[string]string{
			"hub.mode":         mode,
			"hub.verify_token": token,
			"hub.challenge":    challenge,
		},
	}
}

func postRequest(body []byte, sign bool) models.UniversalRequest {
	headers := http.Header{}
	if sign {
		headers.Set("X-Hub-Signature-256", NewVerifier(testAppSecret).Sign(body))
	}
	return models.UniversalRequest{
		Method:  http.MethodPost,
		Headers: headers,
		RawBody: body,
	}
}

func TestHandle_VerificationSuccess(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	result := d.Handle(context.Background(), getRequest("subscribe", testVerifyToken, "123"))
	if !result.Success {
		t.Fatalf("expected success, got %s: %s", result.Code, result.Message)
	}
	if result.Challenge != "123" {
		t.Errorf("expected challenge echoed back, got %q", result.Challenge)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", result.StatusCode)
	}
}

func TestHandle_VerificationTokenMismatch(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	result := d.Handle(context.Background(), getRequest("subscribe", "wrong", "123"))
	if result.Success {
		t.Fatal("expected failure on token mismatch")
	}
	if result.Challenge != "" {
		t.Error("challenge must not be echoed on failure")
	}
	if result.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", result.StatusCode)
	}
	if result.Code != models.FailureVerification {
		t.Errorf("expected verification_failed, got %s", result.Code)
	}
}

func TestHandle_VerificationModeIsCaseSensitive(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	result := d.Handle(context.Background(), getRequest("SUBSCRIBE", testVerifyToken, "123"))
	if result.Success {
		t.Fatal("hub.mode must match subscribe exactly")
	}
	if result.Code != models.FailureVerification {
		t.Errorf("expected verification_failed, got %s", result.Code)
	}
}

func TestHandle_VerificationEmptyChallenge(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	result := d.Handle(context.Background(), getRequest("subscribe", testVerifyToken, ""))
	if result.Success {
		t.Fatal("expected failure on empty challenge")
	}
}

const textEnvelope = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "entry-1",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"metadata": {"display_phone_number": "+1555", "phone_number_id": "123"},
				"contacts": [{"profile": {"name": "Ada"}, "wa_id": "555"}],
				"messages": [{
					"from": "555",
					"id": "wamid.1",
					"timestamp": "1700000000",
					"type": "text",
					"text": {"body": "hi"}
				}]
			}
		}]
	}]
}`

func TestHandle_TextMessageEndToEnd(t *testing.T) {
	d, store := newTestDispatcher(testConfig())

	var invocations int
	var gotText string
	d.SetHandlers(Handlers{
		Message: func(_ context.Context, event models.ExtractedEvent) error {
			invocations++
			if event.Content.Kind == models.ContentText {
				gotText = event.Content.Text.Body
			}
			return nil
		},
	})

	result := d.Handle(context.Background(), postRequest([]byte(textEnvelope), true))
	if !result.Success {
		t.Fatalf("expected success, got %s: %s", result.Code, result.Message)
	}
	if result.TotalEvents != 1 || result.ProcessedEvents != 1 {
		t.Errorf("expected 1/1 events, got %d/%d", result.ProcessedEvents, result.TotalEvents)
	}
	if len(result.Processed) != 1 || result.Processed[0].Type != models.EventMessageText {
		t.Fatalf("expected one message:text event, got %+v", result.Processed)
	}
	if invocations != 1 {
		t.Errorf("message handler invoked %d times, expected once", invocations)
	}
	if gotText != "hi" {
		t.Errorf("expected handler to see text %q, got %q", "hi", gotText)
	}

	state, ok := d.Conversations().Get("555")
	if !ok {
		t.Fatal("conversation 555 should exist")
	}
	if state.MessageCount != 1 {
		t.Errorf("expected messageCount 1, got %d", state.MessageCount)
	}
	if state.DisplayName != "Ada" {
		t.Errorf("expected display name Ada, got %q", state.DisplayName)
	}

	msgs, err := store.GetMessages(context.Background(), "555", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Errorf("inbound message not persisted: %+v", msgs)
	}
	if d.ReceivedCount() != 1 {
		t.Errorf("expected received counter 1, got %d", d.ReceivedCount())
	}
}

const mixedEnvelope = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "entry-1",
		"changes": [{
			"field": "messages",
			"value": {
				"metadata": {"phone_number_id": "123"},
				"contacts": [{"profile": {"name": "Ada"}, "wa_id": "555"}],
				"messages": [{
					"from": "555", "id": "wamid.1", "timestamp": "1700000000",
					"type": "text", "text": {"body": "boom"}
				}],
				"statuses": [{
					"id": "wamid.out", "status": "delivered",
					"timestamp": "1700000001", "recipient_id": "555"
				}]
			}
		}]
	}]
}`

func TestHandle_PartialFailurePartitioning(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	var statusSeen bool
	d.SetHandlers(Handlers{
		Message: func(context.Context, models.ExtractedEvent) error {
			return errors.New("handler exploded")
		},
		Status: func(context.Context, models.ExtractedEvent) error {
			statusSeen = true
			return nil
		},
	})

	result := d.Handle(context.Background(), postRequest([]byte(mixedEnvelope), true))
	if result.Success {
		t.Fatal("expected success=false with one failing event")
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("per-event failures must still return 200, got %d", result.StatusCode)
	}
	if result.TotalEvents != 2 || result.ProcessedEvents != 1 || result.ErrorCount != 1 {
		t.Errorf("expected total=2 processed=1 errors=1, got %d/%d/%d",
			result.TotalEvents, result.ProcessedEvents, result.ErrorCount)
	}
	if len(result.Processed) != 1 || result.Processed[0].Type.Category() != "status" {
		t.Errorf("only the status event should be in the processed list: %+v", result.Processed)
	}
	if len(result.Errors) != 1 || result.Errors[0].EventType != models.EventMessageText {
		t.Errorf("failing event should appear only in the error list: %+v", result.Errors)
	}
	if !statusSeen {
		t.Error("status handler should still run after another event failed")
	}
}

func TestHandle_PanickingHandlerIsContained(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	var mediaRan bool
	d.SetHandlers(Handlers{
		Message: func(context.Context, models.ExtractedEvent) error { panic("boom") },
		Media:   func(context.Context, models.ExtractedEvent) error { mediaRan = true; return nil },
	})

	envelope := `{"entry":[{"changes":[{"value":{
		"contacts":[{"profile":{"name":"Ada"},"wa_id":"555"}],
		"messages":[{"from":"555","id":"wamid.1","timestamp":"1700000000","image":{"id":"media-1"}}]
	}}]}]}`

	result := d.Handle(context.Background(), postRequest([]byte(envelope), true))
	if result.ErrorCount != 1 {
		t.Fatalf("panic should fold into one event error, got %d", result.ErrorCount)
	}
	if !mediaRan {
		t.Error("media handler must still run after the message handler panicked")
	}
}

func TestHandle_InvalidSignature(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	req := postRequest([]byte(textEnvelope), false)
	req.Headers.Set("X-Hub-Signature-256", "sha256=deadbeef")

	result := d.Handle(context.Background(), req)
	if result.Code != models.FailureInvalidSignature {
		t.Fatalf("expected invalid_signature, got %s", result.Code)
	}
	if result.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", result.StatusCode)
	}
	if result.TotalEvents != 0 {
		t.Error("request must not be parsed further after signature failure")
	}
}

func TestHandle_MalformedBody(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	result := d.Handle(context.Background(), postRequest([]byte(`{not json`), true))
	if result.Code != models.FailureInvalidBody {
		t.Fatalf("expected invalid_body, got %s", result.Code)
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", result.StatusCode)
	}
}

func TestHandle_MethodNotAllowed(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	result := d.Handle(context.Background(), models.UniversalRequest{
		Method:  http.MethodDelete,
		Headers: http.Header{},
	})
	if result.Code != models.FailureMethodNotAllowed {
		t.Fatalf("expected method_not_allowed, got %s", result.Code)
	}
}

func TestHandle_MissingMethod(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	result := d.Handle(context.Background(), models.UniversalRequest{Headers: http.Header{}})
	if result.Code != models.FailureValidation {
		t.Fatalf("expected validation_error, got %s", result.Code)
	}
}

func TestHandle_MissingBody(t *testing.T) {
	cfg := testConfig()
	cfg.VerifySignature = false
	d, _ := newTestDispatcher(cfg)

	result := d.Handle(context.Background(), models.UniversalRequest{
		Method:  http.MethodPost,
		Headers: http.Header{},
	})
	if result.Code != models.FailureValidation {
		t.Fatalf("write methods require a body source, got %s", result.Code)
	}
}

func TestHandle_StatusReceiptUpdatesStoredMessage(t *testing.T) {
	cfg := testConfig()
	cfg.VerifySignature = false
	d, store := newTestDispatcher(cfg)

	outgoing := models.StoredMessage{
		ID:                "local-1",
		ProviderMessageID: "wamid.out",
		ConversationID:    "555",
		Direction:         models.DirectionOutgoing,
		Status:            models.StatusSent,
	}
	if err := store.StoreMessage(context.Background(), outgoing); err != nil {
		t.Fatal(err)
	}

	envelope := `{"entry":[{"changes":[{"value":{
		"statuses":[{"id":"wamid.out","status":"read","timestamp":"1700000002","recipient_id":"555"}]
	}}]}]}`

	result := d.Handle(context.Background(), postRequest([]byte(envelope), false))
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Message)
	}

	msg, err := store.GetMessage(context.Background(), "local-1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != models.StatusRead {
		t.Errorf("expected read receipt applied, got %s", msg.Status)
	}
}

func TestHandle_AutoProcessDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.VerifySignature = false
	cfg.AutoProcess = false
	d, store := newTestDispatcher(cfg)

	var invoked bool
	d.SetHandlers(Handlers{
		Message: func(context.Context, models.ExtractedEvent) error { invoked = true; return nil },
	})

	result := d.Handle(context.Background(), postRequest([]byte(textEnvelope), false))
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Message)
	}
	if result.TotalEvents != 1 || len(result.Processed) != 1 {
		t.Errorf("extracted events should still be returned, got %+v", result)
	}
	if result.ProcessedEvents != len(result.Processed) {
		t.Errorf("processed count must match the returned list: %d vs %d",
			result.ProcessedEvents, len(result.Processed))
	}
	if invoked {
		t.Error("handlers must not run when auto-process is disabled")
	}

	msgs, _ := store.GetMessages(context.Background(), "555", 0, 0)
	if len(msgs) != 0 {
		t.Error("no messages should be persisted when auto-process is disabled")
	}
}
