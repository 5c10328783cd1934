// internal/availability/domain.go
package availability

import (
	"time"

	"github.com/google/uuid"

	"rentalhub/internal/apperr"
)

// ItemStatus is the listing state relevant to booking.
type ItemStatus string

const (
	ItemActive  ItemStatus = "active"
	ItemPaused  ItemStatus = "paused"
	ItemDeleted ItemStatus = "deleted"
)

// Range is a closed day range. Both ends count as booked.
type Range struct {
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

// NewRange truncates both ends to their UTC calendar day and validates that
// the start day precedes the end day.
func NewRange(start, end time.Time) (Range, error) {
	if start.IsZero() || end.IsZero() {
		return Range{}, apperr.Validation("start and end dates are required")
	}
	start, end = truncateDay(start), truncateDay(end)
	if !start.Before(end) {
		return Range{}, apperr.PolicyViolation("end date must be after start date")
	}
	return Range{Start: start, End: end}, nil
}

// Overlaps applies the interval test existing.start <= other.end AND
// existing.end >= other.start.
func (r Range) Overlaps(other Range) bool {
	return !r.Start.After(other.End) && !r.End.Before(other.Start)
}

// Days counts calendar days from the start date to the end date inclusive.
func (r Range) Days() int {
	start := truncateDay(r.Start)
	end := truncateDay(r.End)
	return int(end.Sub(start).Hours()/24) + 1
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Conflicts reports whether candidate overlaps any of the reserved ranges.
func Conflicts(reserved []Range, candidate Range) bool {
	for _, r := range reserved {
		if r.Overlaps(candidate) {
			return true
		}
	}
	return false
}

// Hold is a committed range on an item, owned by one accepted request.
type Hold struct {
	Range
	RequestID uuid.UUID `json:"requestId"`
}

// Surface is the part of an item that bookings mutate.
type Surface struct {
	ItemID      uuid.UUID  `json:"itemId"`
	Status      ItemStatus `json:"status"`
	PausedUntil *time.Time `json:"pausedUntil"`
	Holds       []Hold     `json:"bookedDates"`
}

// Requestable reports whether renters may request the item. Only active
// items take new requests.
func (s *Surface) Requestable() bool {
	return s.Status == ItemActive
}

// Commit adds a hold and pauses the item until the latest held end date.
func (s *Surface) Commit(hold Hold) error {
	for _, h := range s.Holds {
		if h.RequestID == hold.RequestID {
			return apperr.Conflict("dates for request %s are already committed", hold.RequestID)
		}
		if h.Overlaps(hold.Range) {
			return apperr.Conflict("item is already booked for the selected dates")
		}
	}
	s.Holds = append(s.Holds, hold)
	s.settle()
	return nil
}

// Release removes the hold owned by requestID and resumes the item when no
// holds remain. It reports whether a hold was removed.
func (s *Surface) Release(requestID uuid.UUID) bool {
	for i, h := range s.Holds {
		if h.RequestID == requestID {
			s.Holds = append(s.Holds[:i:i], s.Holds[i+1:]...)
			s.settle()
			return true
		}
	}
	return false
}

// Expire drops holds that ended before now and resumes the item once its
// pause has elapsed. It reports whether anything changed.
func (s *Surface) Expire(now time.Time) bool {
	kept := s.Holds[:0:0]
	for _, h := range s.Holds {
		if h.End.Before(now) {
			continue
		}
		kept = append(kept, h)
	}
	changed := len(kept) != len(s.Holds)
	s.Holds = kept
	if s.Status == ItemPaused && s.PausedUntil != nil && s.PausedUntil.Before(now) {
		changed = true
	}
	if changed {
		s.settle()
	}
	return changed
}

func (s *Surface) settle() {
	if s.Status == ItemDeleted {
		return
	}
	if len(s.Holds) == 0 {
		s.Status = ItemActive
		s.PausedUntil = nil
		return
	}
	until := s.Holds[0].End
	for _, h := range s.Holds[1:] {
		if h.End.After(until) {
			until = h.End
		}
	}
	s.Status = ItemPaused
	s.PausedUntil = &until
}
