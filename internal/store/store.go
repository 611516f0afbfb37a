package store

import (
	"context"
	"time"
)

// Record is one persisted service state transition. Detail carries the
// exit error or failure reason when there is one.
type Record struct {
	Service string
	From    string
	To      string
	Detail  string
	At      time.Time
}

// Store persists transition history so the presentation layer can show
// what happened to a service across supervisor restarts.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordTransition(ctx context.Context, rec Record) error
	// History returns the most recent transitions for service, newest
	// first. Empty service means all services.
	History(ctx context.Context, service string, limit int) ([]Record, error)
	Close() error
}
