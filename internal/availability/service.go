// internal/availability/service.go
package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists item surfaces and answers reservation queries. Every
// UpdateSurface call runs fn under an exclusive lock on the item.
//
// CommitHold takes the same lock, then applies Surface.Commit only if the
// request owning hold is still accepted. Any other status yields an
// InvalidState error and leaves the item untouched.
type Store interface {
	GetSurface(ctx context.Context, itemID uuid.UUID) (*Surface, error)
	ReservedRanges(ctx context.Context, itemID uuid.UUID) ([]Range, error)
	UpdateSurface(ctx context.Context, itemID uuid.UUID, fn func(*Surface) error) (*Surface, error)
	CommitHold(ctx context.Context, itemID uuid.UUID, hold Hold) (*Surface, error)
	ExpireHolds(ctx context.Context, now time.Time) (int, error)
}

// Index defines the availability operations used by the booking lifecycle.
type Index interface {
	CheckConflict(ctx context.Context, itemID uuid.UUID, start, end time.Time) (bool, error)
	Commit(ctx context.Context, itemID uuid.UUID, hold Hold) (*Surface, error)
	Release(ctx context.Context, itemID uuid.UUID, requestID uuid.UUID) (*Surface, error)
	Surface(ctx context.Context, itemID uuid.UUID) (*Surface, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}
