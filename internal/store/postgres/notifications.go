// internal/store/postgres/notifications.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentalhub/internal/notification"
)

type notificationRow struct {
	ID             uuid.UUID  `db:"id"`
	UserID         uuid.UUID  `db:"user_id"`
	Type           string     `db:"type"`
	Title          string     `db:"title"`
	Message        string     `db:"message"`
	Link           string     `db:"link"`
	IsRead         bool       `db:"is_read"`
	RelatedRequest *uuid.UUID `db:"related_request"`
	RelatedItem    *uuid.UUID `db:"related_item"`
	CreatedAt      time.Time  `db:"created_at"`
}

const notificationColumns = `id, user_id, type, title, message, link, is_read,
	related_request, related_item, created_at`

func (r notificationRow) toDomain() *notification.Notification {
	return &notification.Notification{
		ID:             r.ID,
		UserID:         r.UserID,
		Type:           notification.Type(r.Type),
		Title:          r.Title,
		Message:        r.Message,
		Link:           r.Link,
		IsRead:         r.IsRead,
		RelatedRequest: r.RelatedRequest,
		RelatedItem:    r.RelatedItem,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

// adjustUnread moves the recipient's counter by delta, never below zero.
func adjustUnread(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, delta int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, unread_notifications)
		VALUES ($1, GREATEST($2::int, 0))
		ON CONFLICT (id) DO UPDATE
		SET unread_notifications = GREATEST(accounts.unread_notifications + $2::int, 0),
		    updated_at = NOW()
	`, userID, delta)
	if err != nil {
		return fmt.Errorf("update unread counter: %w", err)
	}
	return nil
}

func resetUnread(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE accounts SET unread_notifications = 0, updated_at = NOW() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("reset unread counter: %w", err)
	}
	return nil
}

func (s *Store) InsertNotification(ctx context.Context, n *notification.Notification) error {
	ctx, span := s.tracer.Start(ctx, "postgres.insert_notification",
		trace.WithAttributes(
			attribute.String("user.id", n.UserID.String()),
			attribute.String("notification.type", string(n.Type)),
		),
	)
	defer span.End()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (`+notificationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.Link, n.IsRead,
			n.RelatedRequest, n.RelatedItem, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		if n.IsRead {
			return nil
		}
		return adjustUnread(ctx, tx, n.UserID, 1)
	})
}

func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, q notification.Query) ([]*notification.Notification, int, error) {
	where := ` WHERE user_id = $1 AND (NOT $2 OR NOT is_read)`

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications`+where, userID, q.UnreadOnly); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+notificationColumns+` FROM notifications`+where+`
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`, userID, q.UnreadOnly, q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	out := make([]*notification.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, total, nil
}

func (s *Store) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT unread_notifications FROM accounts WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query unread counter: %w", err)
	}
	return count, nil
}

// MarkRead flips is_read and decrements the counter only when the row was
// actually unread.
func (s *Store) MarkRead(ctx context.Context, userID, id uuid.UUID) (*notification.Notification, error) {
	var out *notification.Notification
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row notificationRow
		err := tx.GetContext(ctx, &row, `
			SELECT `+notificationColumns+` FROM notifications
			WHERE id = $1 AND user_id = $2
			FOR UPDATE
		`, id, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return notification.ErrNotFound(id)
		}
		if err != nil {
			return fmt.Errorf("query notification: %w", err)
		}
		if !row.IsRead {
			if _, err := tx.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id); err != nil {
				return fmt.Errorf("mark notification read: %w", err)
			}
			if err := adjustUnread(ctx, tx, userID, -1); err != nil {
				return err
			}
			row.IsRead = true
		}
		out = row.toDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	var changed int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read
		`, userID)
		if err != nil {
			return fmt.Errorf("mark notifications read: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		changed = int(n)
		return resetUnread(ctx, tx, userID)
	})
	return changed, err
}

func (s *Store) DeleteNotification(ctx context.Context, userID, id uuid.UUID) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var isRead bool
		err := tx.GetContext(ctx, &isRead, `
			DELETE FROM notifications WHERE id = $1 AND user_id = $2
			RETURNING is_read
		`, id, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return notification.ErrNotFound(id)
		}
		if err != nil {
			return fmt.Errorf("delete notification: %w", err)
		}
		if isRead {
			return nil
		}
		return adjustUnread(ctx, tx, userID, -1)
	})
}

func (s *Store) DeleteAllNotifications(ctx context.Context, userID uuid.UUID) (int, error) {
	var deleted int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
		if err != nil {
			return fmt.Errorf("delete notifications: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		deleted = int(n)
		return resetUnread(ctx, tx, userID)
	})
	return deleted, err
}
