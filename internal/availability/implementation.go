// internal/availability/implementation.go
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// index implements the Index interface.
type index struct {
	store  Store
	tracer trace.Tracer
}

// NewIndex creates an availability index over store.
func NewIndex(store Store) Index {
	return &index{
		store:  store,
		tracer: otel.Tracer("rentalhub/availability"),
	}
}

// CheckConflict reports whether [start, end] overlaps a pending or accepted
// request on the item.
func (ix *index) CheckConflict(ctx context.Context, itemID uuid.UUID, start, end time.Time) (bool, error) {
	ctx, span := ix.tracer.Start(ctx, "availability.check_conflict",
		trace.WithAttributes(attribute.String("item.id", itemID.String())),
	)
	defer span.End()

	candidate, err := NewRange(start, end)
	if err != nil {
		return false, err
	}

	reserved, err := ix.store.ReservedRanges(ctx, itemID)
	if err != nil {
		return false, fmt.Errorf("load reserved ranges: %w", err)
	}

	conflict := Conflicts(reserved, candidate)
	span.SetAttributes(attribute.Bool("conflict.detected", conflict))
	return conflict, nil
}

// Commit locks hold into the item's calendar and pauses the item. It fails
// with InvalidState when the owning request left accepted before the item
// lock was taken.
func (ix *index) Commit(ctx context.Context, itemID uuid.UUID, hold Hold) (*Surface, error) {
	ctx, span := ix.tracer.Start(ctx, "availability.commit",
		trace.WithAttributes(
			attribute.String("item.id", itemID.String()),
			attribute.String("request.id", hold.RequestID.String()),
		),
	)
	defer span.End()

	return ix.store.CommitHold(ctx, itemID, hold)
}

// Release removes the hold owned by requestID and resumes the item when it
// has no holds left. Releasing an absent hold is not an error.
func (ix *index) Release(ctx context.Context, itemID uuid.UUID, requestID uuid.UUID) (*Surface, error) {
	ctx, span := ix.tracer.Start(ctx, "availability.release",
		trace.WithAttributes(
			attribute.String("item.id", itemID.String()),
			attribute.String("request.id", requestID.String()),
		),
	)
	defer span.End()

	return ix.store.UpdateSurface(ctx, itemID, func(s *Surface) error {
		removed := s.Release(requestID)
		span.SetAttributes(attribute.Bool("hold.removed", removed))
		return nil
	})
}

func (ix *index) Surface(ctx context.Context, itemID uuid.UUID) (*Surface, error) {
	return ix.store.GetSurface(ctx, itemID)
}

// Sweep resumes items whose pause elapsed before now.
func (ix *index) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := ix.tracer.Start(ctx, "availability.sweep")
	defer span.End()

	n, err := ix.store.ExpireHolds(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire holds: %w", err)
	}
	span.SetAttributes(attribute.Int("items.resumed", n))
	return n, nil
}
