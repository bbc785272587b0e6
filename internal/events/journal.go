// Package events carries trip lifecycle events from the coordinators to the
// message bus. The coordinators append to an in-process journal; a worker
// drains it to NATS with retries, so a bus outage never fails a dispatch.
package events

import (
	"context"
	"sync"

	"github.com/example/alpescab/internal/dispatch/domain"
)

// Journal is the staging buffer between coordinators and the bus. It
// implements domain.EventPublisher on the append side.
type Journal struct {
	mu      sync.Mutex
	nextSeq int64
	pending []domain.DispatchEvent
}

// NewJournal constructs an empty journal.
func NewJournal() *Journal {
	return &Journal{nextSeq: 1}
}

// Publish appends the event to the journal.
func (j *Journal) Publish(_ context.Context, event domain.DispatchEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	event.Seq = j.nextSeq
	j.nextSeq++
	j.pending = append(j.pending, event)
	return nil
}

// Pending returns up to limit undrained events in append order.
func (j *Journal) Pending(limit int) []domain.DispatchEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	if limit <= 0 || limit > len(j.pending) {
		limit = len(j.pending)
	}
	return append([]domain.DispatchEvent(nil), j.pending[:limit]...)
}

// MarkDrained drops every pending event with Seq <= upTo.
func (j *Journal) MarkDrained(upTo int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var keep []domain.DispatchEvent
	for _, event := range j.pending {
		if event.Seq > upTo {
			keep = append(keep, event)
		}
	}
	j.pending = keep
}

// Len reports the number of undrained events.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}
