// Copyright 2025 Certen Protocol
//
// In-memory batch status tracking. The submitter is the only writer;
// status readers (GetBatchStatus, status server) go through the same
// tracker.

package submitter

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tee-oracle/neo-price-feed/pkg/feed"
)

// StatusTracker records the lifecycle of every sub-batch of the current
// process. Terminal states are immutable.
type StatusTracker struct {
	mu       sync.RWMutex
	statuses map[uuid.UUID]feed.BatchStatus
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{statuses: make(map[uuid.UUID]feed.BatchStatus)}
}

// Track registers a new sub-batch in the Pending state.
func (t *StatusTracker) Track(batchID uuid.UUID, totalCount int) feed.BatchStatus {
	status := feed.BatchStatus{
		BatchID:    batchID,
		State:      feed.BatchStatePending,
		TotalCount: totalCount,
		Timestamp:  time.Now().UTC(),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[batchID] = status
	return status
}

// Update transitions a sub-batch. Updates against a terminal state are
// ignored and reported as false.
func (t *StatusTracker) Update(batchID uuid.UUID, mutate func(*feed.BatchStatus)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, ok := t.statuses[batchID]
	if !ok || status.State.Terminal() {
		return false
	}
	mutate(&status)
	status.Timestamp = time.Now().UTC()
	t.statuses[batchID] = status
	return true
}

// Get returns the status of one sub-batch.
func (t *StatusTracker) Get(batchID uuid.UUID) (feed.BatchStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, ok := t.statuses[batchID]
	return status, ok
}

// List returns every tracked status, newest first.
func (t *StatusTracker) List() []feed.BatchStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]feed.BatchStatus, 0, len(t.statuses))
	for _, s := range t.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// Unknown returns the batch IDs currently in the Unknown state.
func (t *StatusTracker) Unknown() []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []uuid.UUID
	for id, s := range t.statuses {
		if s.State == feed.BatchStateUnknown {
			out = append(out, id)
		}
	}
	return out
}
