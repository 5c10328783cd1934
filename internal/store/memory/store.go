// internal/store/memory/store.go
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rentalhub/internal/apperr"
	"rentalhub/internal/availability"
	"rentalhub/internal/booking"
	"rentalhub/internal/notification"
)

var (
	_ booking.Store      = (*Store)(nil)
	_ availability.Store = (*Store)(nil)
	_ notification.Store = (*Store)(nil)
)

// Store is an in-process implementation of the booking, availability and
// notification stores. A single mutex makes every method atomic, which
// gives the same check-and-write guarantees the postgres store gets from
// row locks.
type Store struct {
	mu            sync.Mutex
	items         map[uuid.UUID]*booking.Item
	requests      map[uuid.UUID]*booking.Request
	earnings      map[uuid.UUID]int64
	unread        map[uuid.UUID]int
	notifications map[uuid.UUID]*notification.Notification
}

func New() *Store {
	return &Store{
		items:         make(map[uuid.UUID]*booking.Item),
		requests:      make(map[uuid.UUID]*booking.Request),
		earnings:      make(map[uuid.UUID]int64),
		unread:        make(map[uuid.UUID]int),
		notifications: make(map[uuid.UUID]*notification.Notification),
	}
}

// PutItem inserts or replaces a listing.
func (s *Store) PutItem(item *booking.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = copyItem(item)
}

// LoadItems seeds listings from a JSON array file.
func (s *Store) LoadItems(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var items []*booking.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return 0, fmt.Errorf("decode seed file: %w", err)
	}
	for _, item := range items {
		if item.Status == "" {
			item.Status = availability.ItemActive
		}
		s.PutItem(item)
	}
	return len(items), nil
}

func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*booking.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status == availability.ItemDeleted {
		return nil, apperr.NotFound("item %s not found", id)
	}
	return copyItem(item), nil
}

func (s *Store) InsertRequest(ctx context.Context, req *booking.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[req.ItemID]; !ok {
		return apperr.NotFound("item %s not found", req.ItemID)
	}
	if availability.Conflicts(s.reservedLocked(req.ItemID), req.Range()) {
		return apperr.Conflict("item is already booked for the selected dates")
	}
	r := *req
	s.requests[req.ID] = &r
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id uuid.UUID) (*booking.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, apperr.NotFound("request %s not found", id)
	}
	r := *req
	return &r, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from, to booking.Status, rejectionReason string, at time.Time) (*booking.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, apperr.NotFound("request %s not found", id)
	}
	if req.Status != from {
		return nil, &booking.StatusMismatchError{ID: id, Current: req.Status}
	}
	req.Status = to
	if to == booking.StatusRejected {
		req.RejectionReason = rejectionReason
	}
	req.UpdatedAt = at
	r := *req
	return &r, nil
}

func (s *Store) ListRequests(ctx context.Context, f booking.Filter) ([]*booking.Request, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*booking.Request
	for _, req := range s.requests {
		party := req.RequesterID
		if f.Box == booking.BoxReceived {
			party = req.OwnerID
		}
		if party != f.UserID {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		r := *req
		matched = append(matched, &r)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return paginate(matched, f.Page, f.Limit), len(matched), nil
}

func (s *Store) CreditEarnings(ctx context.Context, ownerID uuid.UUID, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.earnings[ownerID] += amount
	return nil
}

func (s *Store) Earnings(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.earnings[ownerID], nil
}

func (s *Store) GetSurface(ctx context.Context, itemID uuid.UUID) (*availability.Surface, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return item.Surface(), nil
}

func (s *Store) ReservedRanges(ctx context.Context, itemID uuid.UUID) ([]availability.Range, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservedLocked(itemID), nil
}

func (s *Store) reservedLocked(itemID uuid.UUID) []availability.Range {
	var ranges []availability.Range
	for _, req := range s.requests {
		if req.ItemID == itemID && req.Status.Reserving() {
			ranges = append(ranges, req.Range())
		}
	}
	return ranges
}

func (s *Store) UpdateSurface(ctx context.Context, itemID uuid.UUID, fn func(*availability.Surface) error) (*availability.Surface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSurfaceLocked(itemID, fn)
}

func (s *Store) CommitHold(ctx context.Context, itemID uuid.UUID, hold availability.Hold) (*availability.Surface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[hold.RequestID]
	if !ok {
		return nil, apperr.NotFound("request %s not found", hold.RequestID)
	}
	if req.Status != booking.StatusAccepted {
		return nil, apperr.InvalidState("request %s is %s, not accepted", req.ID, req.Status)
	}
	return s.updateSurfaceLocked(itemID, func(sf *availability.Surface) error {
		return sf.Commit(hold)
	})
}

func (s *Store) updateSurfaceLocked(itemID uuid.UUID, fn func(*availability.Surface) error) (*availability.Surface, error) {
	item, ok := s.items[itemID]
	if !ok {
		return nil, apperr.NotFound("item %s not found", itemID)
	}
	surface := copyItem(item).Surface()
	if err := fn(surface); err != nil {
		return nil, err
	}
	item.Status = surface.Status
	item.PausedUntil = surface.PausedUntil
	item.BookedDates = surface.Holds
	return copyItem(item).Surface(), nil
}

func (s *Store) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, item := range s.items {
		surface := copyItem(item).Surface()
		if !surface.Expire(now) {
			continue
		}
		item.Status = surface.Status
		item.PausedUntil = surface.PausedUntil
		item.BookedDates = surface.Holds
		changed++
	}
	return changed, nil
}

func (s *Store) InsertNotification(ctx context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *n
	s.notifications[n.ID] = &c
	if !n.IsRead {
		s.unread[n.UserID]++
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, q notification.Query) ([]*notification.Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*notification.Notification
	for _, n := range s.notifications {
		if n.UserID != userID || (q.UnreadOnly && n.IsRead) {
			continue
		}
		c := *n
		matched = append(matched, &c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return paginate(matched, q.Page, q.Limit), len(matched), nil
}

func (s *Store) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[userID], nil
}

func (s *Store) MarkRead(ctx context.Context, userID, id uuid.UUID) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return nil, notification.ErrNotFound(id)
	}
	if !n.IsRead {
		n.IsRead = true
		s.unread[userID]--
	}
	c := *n
	return &c, nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			changed++
		}
	}
	s.unread[userID] = 0
	return changed, nil
}

func (s *Store) DeleteNotification(ctx context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return notification.ErrNotFound(id)
	}
	if !n.IsRead {
		s.unread[userID]--
	}
	delete(s.notifications, id)
	return nil
}

func (s *Store) DeleteAllNotifications(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, n := range s.notifications {
		if n.UserID == userID {
			delete(s.notifications, id)
			deleted++
		}
	}
	s.unread[userID] = 0
	return deleted, nil
}

func copyItem(item *booking.Item) *booking.Item {
	c := *item
	if item.PausedUntil != nil {
		t := *item.PausedUntil
		c.PausedUntil = &t
	}
	c.BookedDates = append([]availability.Hold(nil), item.BookedDates...)
	return &c
}

func paginate[T any](all []T, page, limit int) []T {
	if limit < 1 {
		return all
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(all) {
		return nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
