// internal/notification/service.go
package notification

import (
	"context"

	"github.com/google/uuid"
)

// Dispatcher persists a notification and pushes it to the recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID uuid.UUID, typ Type, title, message, link string, related Related) (*Notification, error)
}

// Service defines the interface for the notification service.
type Service interface {
	Dispatcher
	List(ctx context.Context, userID uuid.UUID, q Query) (*Page, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) (*Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	DeleteAll(ctx context.Context, userID uuid.UUID) (int, error)
	SetPusher(p Pusher)
}

// Store persists notifications and the per-recipient unread counter. Insert
// increments the counter; MarkRead decrements it only when the row flips.
type Store interface {
	InsertNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, q Query) ([]*Notification, int, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) (*Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteNotification(ctx context.Context, userID, id uuid.UUID) error
	DeleteAllNotifications(ctx context.Context, userID uuid.UUID) (int, error)
}

// Pusher delivers an event to every live connection of a user.
type Pusher interface {
	EmitToUser(userID uuid.UUID, event string, payload interface{}) error
}
