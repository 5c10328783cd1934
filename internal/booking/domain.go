// internal/booking/domain.go
package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"rentalhub/internal/availability"
)

// Status is the state of a rental request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusAccepted, StatusRejected, StatusCancelled, StatusCompleted}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

// Reserving reports whether a request in status s holds its dates.
func (s Status) Reserving() bool {
	return s == StatusPending || s == StatusAccepted
}

// Action is an owner or renter decision on an existing request.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

// Actions lists the transitions available on an existing request.
var Actions = []Action{ActionAccept, ActionReject, ActionCancel, ActionComplete}

type transition struct {
	from []Status
	to   Status
}

var transitions = map[Action]transition{
	ActionAccept:   {from: []Status{StatusPending}, to: StatusAccepted},
	ActionReject:   {from: []Status{StatusPending}, to: StatusRejected},
	ActionCancel:   {from: []Status{StatusPending, StatusAccepted}, to: StatusCancelled},
	ActionComplete: {from: []Status{StatusAccepted}, to: StatusCompleted},
}

// Next returns the status reached by applying a to a request in status
// from, and whether the move is legal.
func Next(a Action, from Status) (Status, bool) {
	t, ok := transitions[a]
	if !ok {
		return "", false
	}
	for _, s := range t.from {
		if s == from {
			return t.to, true
		}
	}
	return "", false
}

// Request is a renter's proposal to rent an item for a date range. The cost
// fields are a snapshot taken at creation and never recomputed.
type Request struct {
	ID              uuid.UUID `json:"id"`
	ItemID          uuid.UUID `json:"item"`
	RequesterID     uuid.UUID `json:"requester"`
	OwnerID         uuid.UUID `json:"owner"`
	StartDate       time.Time `json:"startDate"`
	EndDate         time.Time `json:"endDate"`
	Message         string    `json:"message,omitempty"`
	TotalDays       int       `json:"totalDays"`
	TotalCost       int64     `json:"totalCost"`
	Deposit         int64     `json:"deposit"`
	Status          Status    `json:"status"`
	RejectionReason string    `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Range returns the requested period.
func (r *Request) Range() availability.Range {
	return availability.Range{Start: r.StartDate, End: r.EndDate}
}

// Counterpart returns the participant that did not act.
func (r *Request) Counterpart(actorID uuid.UUID) uuid.UUID {
	if actorID == r.RequesterID {
		return r.OwnerID
	}
	return r.RequesterID
}

// Item is the subset of a listing the booking lifecycle reads.
type Item struct {
	ID          uuid.UUID               `json:"id"`
	OwnerID     uuid.UUID               `json:"owner"`
	Title       string                  `json:"title"`
	PricePerDay int64                   `json:"pricePerDay"`
	Deposit     int64                   `json:"deposit"`
	Status      availability.ItemStatus `json:"status"`
	PausedUntil *time.Time              `json:"pausedUntil"`
	BookedDates []availability.Hold     `json:"bookedDates"`
}

// Surface returns the item's availability surface.
func (i *Item) Surface() *availability.Surface {
	return &availability.Surface{
		ItemID:      i.ID,
		Status:      i.Status,
		PausedUntil: i.PausedUntil,
		Holds:       i.BookedDates,
	}
}

// Box selects which side of a request the caller is listing.
type Box string

const (
	BoxReceived Box = "received"
	BoxSent     Box = "sent"
)

// Filter selects a page of one user's requests.
type Filter struct {
	UserID uuid.UUID
	Box    Box
	Status Status
	Page   int
	Limit  int
}

// RequestPage is a page of requests.
type RequestPage struct {
	Requests []*Request `json:"requests"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	Pages    int        `json:"pages"`
}

// StatusMismatchError is returned by a conditional status update when the
// stored status is no longer the expected one.
type StatusMismatchError struct {
	ID      uuid.UUID
	Current Status
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("request %s is %s", e.ID, e.Current)
}
