package participant

import (
	"context"
	"fmt"
)

// Sentinel errors shared by every store implementation.
var ErrNotFound = fmt.Errorf("participant not found")
var ErrDuplicate = fmt.Errorf("participant with this chat ID already exists")

// ErrConflict signals that an optimistic update lost a race with a concurrent
// writer for the same participant. The caller may safely retry the whole
// Update, because mutations are expressed as a function over the fresh record.
var ErrConflict = fmt.Errorf("participant record was modified concurrently")

// Repository defines the operations for persisting and retrieving participant
// records. Update is the single mutating primitive: implementations MUST run
// the read, the mutate callback, and the write-back as one atomic unit per
// chat ID, so that concurrent updates to the same participant serialize.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, chatID string) (*Record, error)
	// Update atomically applies mutate to the current record and persists the
	// result. It returns the record as persisted. An error returned by mutate
	// aborts the update and is returned unchanged.
	Update(ctx context.Context, chatID string, mutate func(*Record) error) (*Record, error)
	// ListEnabled returns all participants with notifications enabled.
	ListEnabled(ctx context.Context) ([]*Record, error)
}
