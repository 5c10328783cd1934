// internal/notification/domain.go
package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of notification kinds clients know how to render.
type Type string

const (
	TypeRequestReceived  Type = "request_received"
	TypeRequestAccepted  Type = "request_accepted"
	TypeRequestRejected  Type = "request_rejected"
	TypeRequestCancelled Type = "request_cancelled"
	TypeNewMessage       Type = "new_message"
	TypeNewReview        Type = "new_review"
	TypeReviewReminder   Type = "review_reminder"
	TypeSystem           Type = "system"
)

// Valid reports whether t is one of the declared types.
func (t Type) Valid() bool {
	switch t {
	case TypeRequestReceived, TypeRequestAccepted, TypeRequestRejected, TypeRequestCancelled,
		TypeNewMessage, TypeNewReview, TypeReviewReminder, TypeSystem:
		return true
	}
	return false
}

// Notification is one durable, user-addressed record of an event.
type Notification struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user"`
	Type           Type       `json:"type"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	Link           string     `json:"link"`
	IsRead         bool       `json:"isRead"`
	RelatedRequest *uuid.UUID `json:"relatedRequest,omitempty"`
	RelatedItem    *uuid.UUID `json:"relatedItem,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Related carries optional back-references. Zero IDs are omitted.
type Related struct {
	RequestID uuid.UUID
	ItemID    uuid.UUID
}

// Query selects one page of a recipient's notifications, newest first.
type Query struct {
	Page       int
	Limit      int
	UnreadOnly bool
}

// Page is the listing returned to clients.
type Page struct {
	Notifications []*Notification `json:"notifications"`
	Total         int             `json:"total"`
	UnreadCount   int             `json:"unreadCount"`
	Page          int             `json:"page"`
	Pages         int             `json:"pages"`
}

// Event is the realtime event name used for pushed notifications.
const Event = "notification"
