package storage

import (
	"context"
	"errors"
	"time"

	"github.com/adiouf/wabridge/internal/domain/models"
)

// ErrNotFound is returned when no message matches the requested id.
var ErrNotFound = errors.New("message not found")

// MessageStore is the pluggable persistence interface for sent and received
// messages. Implementations must update records in place: a stored message id
// is stable for the lifetime of the record and updates never create a second
// record.
type MessageStore interface {
	StoreMessage(ctx context.Context, msg models.StoredMessage) error
	GetMessage(ctx context.Context, id string) (models.StoredMessage, error)
	GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.StoredMessage, error)
	UpdateStatus(ctx context.Context, id string, status models.DeliveryStatus) error
	// AttachProviderID records the provider-assigned message id after a
	// successful send, keeping the local id untouched.
	AttachProviderID(ctx context.Context, id, providerMessageID string) error
	// UpdateStatusByProviderID applies a delivery receipt keyed by the
	// provider's message id. Unknown ids are not an error; receipts can
	// arrive for messages sent before this process started.
	UpdateStatusByProviderID(ctx context.Context, providerMessageID string, status models.DeliveryStatus) error
	Search(ctx context.Context, query, conversationID string) ([]models.StoredMessage, error)
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
}
