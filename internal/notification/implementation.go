// internal/notification/implementation.go
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"rentalhub/internal/apperr"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// ErrNoPusher is reported internally when no realtime gateway is attached.
var ErrNoPusher = errors.New("realtime gateway not initialized")

// service implements the Service interface.
type service struct {
	store  Store
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	dispatched metric.Int64Counter
	pushFailed metric.Int64Counter

	mu     sync.RWMutex
	pusher Pusher
}

// NewService creates a new notification service. pusher may be nil and
// attached later with SetPusher.
func NewService(store Store, pusher Pusher, logger *slog.Logger) Service {
	meter := otel.Meter("rentalhub/notification")
	dispatched, _ := meter.Int64Counter("notification.dispatched")
	pushFailed, _ := meter.Int64Counter("notification.push_failed")
	return &service{
		store:      store,
		logger:     logger,
		tracer:     otel.Tracer("rentalhub/notification"),
		now:        time.Now,
		dispatched: dispatched,
		pushFailed: pushFailed,
		pusher:     pusher,
	}
}

// SetPusher attaches the realtime gateway once it is running.
func (s *service) SetPusher(p Pusher) {
	s.mu.Lock()
	s.pusher = p
	s.mu.Unlock()
}

// Dispatch persists the notification, then attempts a live push. Push
// failures are logged and swallowed; the stored row is what clients
// reconcile against.
func (s *service) Dispatch(ctx context.Context, userID uuid.UUID, typ Type, title, message, link string, related Related) (*Notification, error) {
	ctx, span := s.tracer.Start(ctx, "notification.dispatch",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.String("notification.type", string(typ)),
		),
	)
	defer span.End()

	if !typ.Valid() {
		return nil, fmt.Errorf("unknown notification type %q", typ)
	}

	n := &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Link:      link,
		CreatedAt: s.now().UTC(),
	}
	if related.RequestID != uuid.Nil {
		id := related.RequestID
		n.RelatedRequest = &id
	}
	if related.ItemID != uuid.Nil {
		id := related.ItemID
		n.RelatedItem = &id
	}

	if err := s.store.InsertNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}
	s.dispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(typ))))

	if err := s.push(n); err != nil {
		s.pushFailed.Add(ctx, 1)
		span.SetAttributes(attribute.Bool("push.delivered", false))
		s.logger.Debug("notification push skipped", "user_id", userID, "notification_id", n.ID, "error", err)
	} else {
		span.SetAttributes(attribute.Bool("push.delivered", true))
	}

	return n, nil
}

func (s *service) push(n *Notification) (err error) {
	s.mu.RLock()
	p := s.pusher
	s.mu.RUnlock()
	if p == nil {
		return ErrNoPusher
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("push panicked: %v", r)
		}
	}()
	return p.EmitToUser(n.UserID, Event, n)
}

// List returns one page of the recipient's notifications.
func (s *service) List(ctx context.Context, userID uuid.UUID, q Query) (*Page, error) {
	q = normalize(q)

	items, total, err := s.store.ListNotifications(ctx, userID, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	unread, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	if items == nil {
		items = []*Notification{}
	}

	return &Page{
		Notifications: items,
		Total:         total,
		UnreadCount:   unread,
		Page:          q.Page,
		Pages:         (total + q.Limit - 1) / q.Limit,
	}, nil
}

func (s *service) MarkRead(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	n, err := s.store.MarkRead(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.MarkAllRead(ctx, userID)
}

func (s *service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.store.DeleteNotification(ctx, userID, id)
}

func (s *service) DeleteAll(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.DeleteAllNotifications(ctx, userID)
}

func normalize(q Query) Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return q
}

// ErrNotFound is returned by stores for a missing or foreign notification.
func ErrNotFound(id uuid.UUID) error {
	return apperr.NotFound("notification %s not found", id)
}
