package store

import (
	"context"

	"github.com/artpar/flotilla/internal/core/domain"
)

// =============================================================================
// Tracker Interface
// =============================================================================

// Tracker is the state tracker: it persists per-service deployment records
// between runs so repeated invocations converge instead of duplicating work.
//
// Records are keyed by service name. Within a run, each service's record has
// a single writer (the wave worker responsible for it); implementations only
// need to protect their underlying storage from concurrent mutation.
type Tracker interface {
	// Get returns the record for a service, or ErrNotFound.
	Get(ctx context.Context, service string) (*domain.Record, error)

	// Put inserts or replaces the record for record.Service.
	Put(ctx context.Context, record *domain.Record) error

	// List returns all records ordered by service name.
	List(ctx context.Context) ([]domain.Record, error)

	// Lifecycle
	Close() error
}

// Snapshot loads all records into a map keyed by service name, the shape the
// variable resolver consumes.
func Snapshot(ctx context.Context, t Tracker) (map[string]domain.Record, error) {
	records, err := t.List(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]domain.Record, len(records))
	for _, rec := range records {
		snapshot[rec.Service] = rec
	}
	return snapshot, nil
}
