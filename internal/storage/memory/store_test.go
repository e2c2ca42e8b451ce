package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adiouf/wabridge/internal/domain/models"
	"github.com/adiouf/wabridge/internal/storage"
)

func storedText(id, conversationID, content string, ts time.Time) models.StoredMessage {
	return models.StoredMessage{
		ID:             id,
		ConversationID: conversationID,
		Direction:      models.DirectionIncoming,
		Type:           "text",
		Content:        content,
		Timestamp:      ts,
		Status:         models.StatusDelivered,
	}
}

func TestPendingToSentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	msg := models.StoredMessage{
		ID:             "local-1",
		ConversationID: "555",
		Direction:      models.DirectionOutgoing,
		Type:           "text",
		Content:        "hello",
		Timestamp:      time.Now(),
		Status:         models.StatusPending,
	}
	if err := s.StoreMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	if err := s.AttachProviderID(ctx, "local-1", "wamid.abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStatus(ctx, "local-1", models.StatusSent); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMessage(ctx, "local-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "local-1" {
		t.Errorf("local id must be preserved, got %s", got.ID)
	}
	if got.ProviderMessageID != "wamid.abc" || got.Status != models.StatusSent {
		t.Errorf("update not applied in place: %+v", got)
	}

	msgs, _ := s.GetMessages(ctx, "555", 0, 0)
	if len(msgs) != 1 {
		t.Errorf("update must never create a second record, got %d", len(msgs))
	}
}

func TestGetMessage_NotFound(t *testing.T) {
	s := NewStore()
	if _, err := s.GetMessage(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMessages_Pagination(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Now()

	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		if err := s.StoreMessage(ctx, storedText(id, "555", id, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	page, _ := s.GetMessages(ctx, "555", 2, 1)
	if len(page) != 2 || page[0].ID != "m2" || page[1].ID != "m3" {
		t.Errorf("unexpected page: %+v", page)
	}

	empty, _ := s.GetMessages(ctx, "555", 10, 99)
	if len(empty) != 0 {
		t.Errorf("offset past end should return nothing, got %d", len(empty))
	}
}

func TestGetMessages_NegativePagingValues(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.StoreMessage(ctx, storedText("m1", "555", "hi", time.Now()))

	all, err := s.GetMessages(ctx, "555", 50, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("negative offset should read from the start, got %d messages", len(all))
	}

	all, err = s.GetMessages(ctx, "555", -5, -5)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("negative limit and offset should return everything, got %d messages", len(all))
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()

	s.StoreMessage(ctx, storedText("m1", "555", "order confirmed", now))
	s.StoreMessage(ctx, storedText("m2", "555", "hello there", now.Add(time.Second)))
	s.StoreMessage(ctx, storedText("m3", "777", "Order shipped", now.Add(2*time.Second)))

	hits, err := s.Search(ctx, "order", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("case-insensitive search should match 2, got %d", len(hits))
	}
	if hits[0].ID != "m1" || hits[1].ID != "m3" {
		t.Errorf("search results should be time-ordered: %+v", hits)
	}

	scoped, _ := s.Search(ctx, "order", "555")
	if len(scoped) != 1 || scoped[0].ID != "m1" {
		t.Errorf("conversation scoping failed: %+v", scoped)
	}
}

func TestUpdateStatusByProviderID(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	msg := storedText("m1", "555", "out", time.Now())
	msg.Direction = models.DirectionOutgoing
	msg.ProviderMessageID = "wamid.out"
	s.StoreMessage(ctx, msg)

	if err := s.UpdateStatusByProviderID(ctx, "wamid.out", models.StatusRead); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetMessage(ctx, "m1")
	if got.Status != models.StatusRead {
		t.Errorf("expected read, got %s", got.Status)
	}

	// Unknown provider ids are ignored, not an error.
	if err := s.UpdateStatusByProviderID(ctx, "wamid.unknown", models.StatusRead); err != nil {
		t.Errorf("unknown provider id should not error: %v", err)
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()

	s.StoreMessage(ctx, storedText("old1", "555", "a", now.Add(-48*time.Hour)))
	s.StoreMessage(ctx, storedText("old2", "555", "b", now.Add(-25*time.Hour)))
	s.StoreMessage(ctx, storedText("new1", "555", "c", now))

	deleted, err := s.Cleanup(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	remaining, _ := s.GetMessages(ctx, "555", 0, 0)
	if len(remaining) != 1 || remaining[0].ID != "new1" {
		t.Errorf("unexpected survivors: %+v", remaining)
	}
}
