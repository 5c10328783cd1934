// internal/booking/service.go
package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CreateInput is a renter's request for an item.
type CreateInput struct {
	ItemID    uuid.UUID
	StartDate time.Time
	EndDate   time.Time
	Message   string
}

// Service defines the interface for the booking lifecycle.
type Service interface {
	CreateRequest(ctx context.Context, requesterID uuid.UUID, in CreateInput) (*Request, error)
	GetRequest(ctx context.Context, actorID, id uuid.UUID) (*Request, error)
	Accept(ctx context.Context, actorID, id uuid.UUID) (*Request, error)
	Reject(ctx context.Context, actorID, id uuid.UUID, reason string) (*Request, error)
	Cancel(ctx context.Context, actorID, id uuid.UUID) (*Request, error)
	Complete(ctx context.Context, actorID, id uuid.UUID) (*Request, error)
	List(ctx context.Context, f Filter) (*RequestPage, error)
}

// Store persists requests, item listings and owner earnings.
//
// InsertRequest must check for an overlapping pending or accepted request
// on the same item and insert in one atomic step, returning a Conflict
// error when one exists. UpdateStatus is a compare-and-set on status and
// returns *StatusMismatchError when the stored status differs from from.
type Store interface {
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
	InsertRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, rejectionReason string, at time.Time) (*Request, error)
	ListRequests(ctx context.Context, f Filter) ([]*Request, int, error)
	CreditEarnings(ctx context.Context, ownerID uuid.UUID, amount int64) error
	Earnings(ctx context.Context, ownerID uuid.UUID) (int64, error)
}
