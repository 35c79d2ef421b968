package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

// ErrQueueClosed reports a put or poll interrupted by cancellation.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a blocking fixed-capacity FIFO used between stages. A full queue
// suspends producers on Put, which is the backpressure mechanism; consumers
// use the timed Poll so they can periodically re-check shutdown and
// phase-complete state. Safe for many producers and many consumers.
type Queue struct {
	ch chan models.QueueItem
}

// NewQueue creates a bounded queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan models.QueueItem, capacity),
	}
}

// Put blocks until the item is accepted or the context is cancelled.
func (q *Queue) Put(ctx context.Context, item models.QueueItem) error {
	if ctx.Err() != nil {
		return ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ErrQueueClosed
	}
}

// Poll waits up to timeout for an item. Returns ok=false on timeout so the
// caller can re-evaluate termination state; returns an error only on
// cancellation. Cancellation wins over queued backlog: once the context is
// done no further items are delivered, so aborted workers stop instead of
// processing whatever is still queued.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) (models.QueueItem, bool, error) {
	if ctx.Err() != nil {
		return "", false, ErrQueueClosed
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-q.ch:
		return item, true, nil
	case <-timer.C:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ErrQueueClosed
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// DrainTo moves all currently queued items into list and returns the count.
// Used on reset and abort.
func (q *Queue) DrainTo(list *[]models.QueueItem) int {
	count := 0
	for {
		select {
		case item := <-q.ch:
			*list = append(*list, item)
			count++
		default:
			return count
		}
	}
}
