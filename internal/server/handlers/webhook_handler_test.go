package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/adiouf/wabridge/internal/config"
	"github.com/adiouf/wabridge/internal/conversation"
	"github.com/adiouf/wabridge/internal/domain/models"
	messagingsvc "github.com/adiouf/wabridge/internal/service/messaging"
	"github.com/adiouf/wabridge/internal/storage/memory"
	"github.com/adiouf/wabridge/internal/webhook"
)

func newTestHandler(t *testing.T, cfg config.WebhookConfig) (*WebhookHandler, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	conversations := conversation.NewStore()
	dispatcher := webhook.NewDispatcher(cfg, conversations, store, nil, nil)
	svc := messagingsvc.NewService(config.QueueConfig{}, nil, store, conversations, nil)
	return NewWebhookHandler(dispatcher, svc, store, nil), store
}

func ginTestContext(w *httptest.ResponseRecorder, req *http.Request) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c
}

func serveVerify(h *WebhookHandler, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c := ginTestContext(w, httptest.NewRequest(http.MethodGet, url, nil))
	h.Verify(c)
	return w
}

func TestVerify_EchoesChallenge(t *testing.T) {
	h, _ := newTestHandler(t, config.WebhookConfig{VerifyToken: "tok", AutoProcess: true})

	w := serveVerify(h, "/webhook?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=123")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "123" {
		t.Errorf("expected challenge body, got %q", w.Body.String())
	}
}

func TestVerify_RejectsBadToken(t *testing.T) {
	h, _ := newTestHandler(t, config.WebhookConfig{VerifyToken: "tok", AutoProcess: true})

	w := serveVerify(h, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=123")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "123") {
		t.Error("challenge must not leak on failure")
	}
}

func TestReceive_ProcessesEnvelope(t *testing.T) {
	h, store := newTestHandler(t, config.WebhookConfig{VerifyToken: "tok", AutoProcess: true})

	body := `{"entry":[{"changes":[{"value":{
		"contacts":[{"profile":{"name":"Ada"},"wa_id":"555"}],
		"messages":[{"from":"555","id":"wamid.1","timestamp":"1700000000","text":{"body":"hi"}}]
	}}]}]}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	h.Receive(ginTestContext(w, req))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result models.WebhookResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.ProcessedEvents != 1 {
		t.Errorf("unexpected result: %+v", result)
	}

	msgs, _ := store.GetMessages(req.Context(), "555", 0, 0)
	if len(msgs) != 1 {
		t.Errorf("expected persisted message, got %d", len(msgs))
	}
}

func TestReceive_MalformedJSON(t *testing.T) {
	h, _ := newTestHandler(t, config.WebhookConfig{VerifyToken: "tok", AutoProcess: true})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{broken`)))
	h.Receive(ginTestContext(w, req))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestReceive_SignatureEnforced(t *testing.T) {
	h, _ := newTestHandler(t, config.WebhookConfig{
		VerifyToken:     "tok",
		AppSecret:       "secret",
		VerifySignature: true,
		AutoProcess:     true,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{"entry":[]}`)))
	h.Receive(ginTestContext(w, req))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", w.Code)
	}
}
