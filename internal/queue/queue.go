package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adiouf/wabridge/internal/domain/models"
)

const idleSleep = 100 * time.Millisecond

// DeliverFunc attempts to deliver one queued item. A returned error counts as
// a failed attempt and triggers re-enqueueing until attempts run out.
type DeliverFunc func(ctx context.Context, item models.QueueItem) error

// FailureFunc is notified exactly once when an item exhausts its attempts.
type FailureFunc func(item models.QueueItem, err error)

// Queue is a bounded in-memory outbound queue with a single priority level:
// items enqueued with priority > 0 go to the front, everything else is FIFO.
// A background loop delivers one item at a time with bounded retries.
type Queue struct {
	mu          sync.Mutex
	items       []models.QueueItem
	maxSize     int
	maxAttempts int

	deliver   DeliverFunc
	onFailure FailureFunc
	logger    *zap.Logger

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

// New builds a queue with the given capacity and per-item attempt budget.
func New(maxSize, maxAttempts int, deliver DeliverFunc, onFailure FailureFunc, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Queue{
		maxSize:     maxSize,
		maxAttempts: maxAttempts,
		deliver:     deliver,
		onFailure:   onFailure,
		logger:      logger,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Enqueue admits a new item. It returns the item id and true on success, or
// false when the queue is at capacity; backpressure is the caller's to handle.
func (q *Queue) Enqueue(destination, msgType string, payload any, priority int) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		q.logger.Warn("queue full, rejecting item",
			zap.String("destination", destination),
			zap.Int("max_size", q.maxSize))
		return "", false
	}

	item := models.QueueItem{
		ID:          uuid.NewString(),
		Destination: destination,
		Type:        msgType,
		Payload:     payload,
		EnqueuedAt:  time.Now(),
		Priority:    priority,
	}

	if priority > 0 {
		q.items = append([]models.QueueItem{item}, q.items...)
	} else {
		q.items = append(q.items, item)
	}
	return item.ID, true
}

// Len returns the current number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Start launches the delivery loop. It runs until Stop is called or the
// context is cancelled, independently of any single webhook request.
func (q *Queue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	go q.run(ctx)
}

// Stop terminates the delivery loop and waits for it to exit. Safe to call
// even when the loop was never started.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.stop) })
	if q.started.Load() {
		<-q.done
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	q.logger.Info("delivery loop started", zap.Int("max_attempts", q.maxAttempts))

	for {
		select {
		case <-q.stop:
			q.logger.Info("delivery loop stopped")
			return
		case <-ctx.Done():
			q.logger.Info("delivery loop context cancelled")
			return
		default:
		}

		item, ok := q.dequeue()
		if !ok {
			select {
			case <-q.stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}

		q.attempt(ctx, item)
	}
}

func (q *Queue) dequeue() (models.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return models.QueueItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// attempt delivers one item. On failure, attempts increments and the item is
// re-enqueued at the back while attempts remain below the maximum; once the
// budget is spent the item is dropped and the failure callback fires once.
func (q *Queue) attempt(ctx context.Context, item models.QueueItem) {
	err := q.deliver(ctx, item)
	if err == nil {
		q.logger.Debug("item delivered",
			zap.String("item_id", item.ID),
			zap.String("destination", item.Destination))
		return
	}

	item.Attempts++
	if item.Attempts < q.maxAttempts {
		q.logger.Warn("delivery failed, re-enqueueing",
			zap.String("item_id", item.ID),
			zap.Int("attempts", item.Attempts),
			zap.Error(err))
		q.requeue(item)
		return
	}

	q.logger.Error("item permanently failed",
		zap.String("item_id", item.ID),
		zap.String("destination", item.Destination),
		zap.Int("attempts", item.Attempts),
		zap.Error(err))
	if q.onFailure != nil {
		q.onFailure(item, err)
	}
}

// requeue puts a retried item at the back regardless of its original priority;
// priority only governs initial placement.
func (q *Queue) requeue(item models.QueueItem) {
	q.mu.Lock()
	full := len(q.items) >= q.maxSize
	if !full {
		q.items = append(q.items, item)
	}
	q.mu.Unlock()

	if full {
		// Capacity was consumed while the item was in flight; dropping is the
		// only option left. Report it as a permanent failure.
		q.logger.Error("queue full during requeue, dropping item", zap.String("item_id", item.ID))
		if q.onFailure != nil {
			q.onFailure(item, errQueueFull)
		}
	}
}

var errQueueFull = errors.New("queue full")
