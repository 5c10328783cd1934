// internal/store/postgres/surface.go
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

	"rentalhub/internal/apperr"
	"rentalhub/internal/availability"
)

func loadHolds(ctx context.Context, q sqlx.QueryerContext, itemID uuid.UUID) ([]availability.Hold, error) {
	var rows []holdRow
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT request_id, start_date, end_date
		FROM item_holds
		WHERE item_id = $1
		ORDER BY start_date
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query holds: %w", err)
	}
	holds := make([]availability.Hold, 0, len(rows))
	for _, r := range rows {
		holds = append(holds, availability.Hold{
			Range:     availability.Range{Start: r.StartDate.UTC(), End: r.EndDate.UTC()},
			RequestID: r.RequestID,
		})
	}
	return holds, nil
}

func (s *Store) GetSurface(ctx context.Context, itemID uuid.UUID) (*availability.Surface, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return item.Surface(), nil
}

func (s *Store) ReservedRanges(ctx context.Context, itemID uuid.UUID) ([]availability.Range, error) {
	var rows []holdRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id AS request_id, start_date, end_date
		FROM requests
		WHERE item_id = $1 AND status IN ('pending', 'accepted')
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query reserved ranges: %w", err)
	}
	ranges := make([]availability.Range, 0, len(rows))
	for _, r := range rows {
		ranges = append(ranges, availability.Range{Start: r.StartDate.UTC(), End: r.EndDate.UTC()})
	}
	return ranges, nil
}

// UpdateSurface loads the item under a row lock, applies fn, and writes the
// result back in the same transaction.
func (s *Store) UpdateSurface(ctx context.Context, itemID uuid.UUID, fn func(*availability.Surface) error) (*availability.Surface, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.update_surface",
		trace.WithAttributes(attribute.String("item.id", itemID.String())),
	)
	defer span.End()

	var surface *availability.Surface
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		surface, err = lockSurface(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if err := fn(surface); err != nil {
			return err
		}
		return saveSurface(ctx, tx, surface)
	})
	if err != nil {
		return nil, err
	}
	return surface, nil
}

// CommitHold locks the item row, then share-locks the owning request so a
// concurrent status change waits until the hold is written.
func (s *Store) CommitHold(ctx context.Context, itemID uuid.UUID, hold availability.Hold) (*availability.Surface, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.commit_hold",
		trace.WithAttributes(
			attribute.String("item.id", itemID.String()),
			attribute.String("request.id", hold.RequestID.String()),
		),
	)
	defer span.End()

	var surface *availability.Surface
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		surface, err = lockSurface(ctx, tx, itemID)
		if err != nil {
			return err
		}
		var status string
		err = tx.GetContext(ctx, &status, `SELECT status FROM requests WHERE id = $1 FOR SHARE`, hold.RequestID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("request %s not found", hold.RequestID)
		}
		if err != nil {
			return fmt.Errorf("lock request: %w", err)
		}
		if status != "accepted" {
			return apperr.InvalidState("request %s is %s, not accepted", hold.RequestID, status)
		}
		if err := surface.Commit(hold); err != nil {
			return err
		}
		return saveSurface(ctx, tx, surface)
	})
	if err != nil {
		return nil, err
	}
	return surface, nil
}

// ExpireHolds resumes paused items whose holds have all ended.
func (s *Store) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.expire_holds")
	defer span.End()

	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT i.id
		FROM items i
		LEFT JOIN item_holds h ON h.item_id = i.id
		WHERE (i.status = 'paused' AND i.paused_until < $1)
		   OR h.end_date < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("query expired holds: %w", err)
	}

	changed := 0
	for _, id := range ids {
		var expired bool
		err := s.withTx(ctx, func(tx *sqlx.Tx) error {
			surface, err := lockSurface(ctx, tx, id)
			if err != nil {
				return err
			}
			if expired = surface.Expire(now); !expired {
				return nil
			}
			return saveSurface(ctx, tx, surface)
		})
		if err != nil {
			return changed, err
		}
		if expired {
			changed++
		}
	}
	span.SetAttributes(attribute.Int("items.resumed", changed))
	return changed, nil
}

func lockSurface(ctx context.Context, tx *sqlx.Tx, itemID uuid.UUID) (*availability.Surface, error) {
	var row itemRow
	err := tx.GetContext(ctx, &row, `
		SELECT id, owner_id, title, price_per_day, deposit, status, paused_until
		FROM items
		WHERE id = $1
		FOR UPDATE
	`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("item %s not found", itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock item: %w", err)
	}
	holds, err := loadHolds(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	return &availability.Surface{
		ItemID:      row.ID,
		Status:      availability.ItemStatus(row.Status),
		PausedUntil: row.PausedUntil,
		Holds:       holds,
	}, nil
}

func saveSurface(ctx context.Context, tx *sqlx.Tx, surface *availability.Surface) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE items SET status = $2, paused_until = $3, updated_at = NOW()
		WHERE id = $1
	`, surface.ItemID, string(surface.Status), surface.PausedUntil)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_holds WHERE item_id = $1`, surface.ItemID); err != nil {
		return fmt.Errorf("clear holds: %w", err)
	}
	for _, h := range surface.Holds {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO item_holds (item_id, request_id, start_date, end_date)
			VALUES ($1, $2, $3, $4)
		`, surface.ItemID, h.RequestID, h.Start, h.End)
		if err != nil {
			return fmt.Errorf("insert hold: %w", err)
		}
	}
	return nil
}
