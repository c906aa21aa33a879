package store

import (
	"context"
	"sort"
	"sync"

	"github.com/artpar/flotilla/internal/core/domain"
)

// =============================================================================
// In-Memory Tracker (for tests and dry-run simulation)
// =============================================================================

// MemoryTracker implements Tracker in memory. Used by tests and as the
// scratch tracker for --dry-run simulation, where records must not persist.
type MemoryTracker struct {
	mu      sync.RWMutex
	records map[string]domain.Record
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		records: make(map[string]domain.Record),
	}
}

// NewMemoryTrackerFrom creates an in-memory tracker primed with copies of the
// given records.
func NewMemoryTrackerFrom(records []domain.Record) *MemoryTracker {
	t := NewMemoryTracker()
	for _, rec := range records {
		t.records[rec.Service] = rec
	}
	return t
}

func (t *MemoryTracker) Get(ctx context.Context, service string) (*domain.Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[service]
	if !ok {
		return nil, NewStoreError("Get", service, "no record for service", ErrNotFound)
	}
	out := rec
	return &out, nil
}

func (t *MemoryTracker) Put(ctx context.Context, record *domain.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records[record.Service] = *record
	return nil
}

func (t *MemoryTracker) List(ctx context.Context) ([]domain.Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := make([]domain.Record, 0, len(t.records))
	for _, rec := range t.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Service < records[j].Service
	})
	return records, nil
}

func (t *MemoryTracker) Close() error {
	return nil
}
