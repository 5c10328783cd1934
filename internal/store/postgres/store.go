// internal/store/postgres/store.go
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentalhub/internal/apperr"
	"rentalhub/internal/availability"
	"rentalhub/internal/booking"
	"rentalhub/internal/notification"
)

//go:embed schema.sql
var schema string

var (
	_ booking.Store      = (*Store)(nil)
	_ availability.Store = (*Store)(nil)
	_ notification.Store = (*Store)(nil)
)

// Store implements the booking, availability and notification stores on
// PostgreSQL. Request creation and surface updates lock the item row so a
// conflict check and the write that depends on it commit together.
type Store struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// Open connects with the lib/pq driver.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db), nil
}

func New(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("rentalhub/postgres"),
	}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type itemRow struct {
	ID          uuid.UUID  `db:"id"`
	OwnerID     uuid.UUID  `db:"owner_id"`
	Title       string     `db:"title"`
	PricePerDay int64      `db:"price_per_day"`
	Deposit     int64      `db:"deposit"`
	Status      string     `db:"status"`
	PausedUntil *time.Time `db:"paused_until"`
}

type holdRow struct {
	RequestID uuid.UUID `db:"request_id"`
	StartDate time.Time `db:"start_date"`
	EndDate   time.Time `db:"end_date"`
}

type requestRow struct {
	ID              uuid.UUID `db:"id"`
	ItemID          uuid.UUID `db:"item_id"`
	RequesterID     uuid.UUID `db:"requester_id"`
	OwnerID         uuid.UUID `db:"owner_id"`
	StartDate       time.Time `db:"start_date"`
	EndDate         time.Time `db:"end_date"`
	Message         string    `db:"message"`
	TotalDays       int       `db:"total_days"`
	TotalCost       int64     `db:"total_cost"`
	Deposit         int64     `db:"deposit"`
	Status          string    `db:"status"`
	RejectionReason string    `db:"rejection_reason"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

const requestColumns = `id, item_id, requester_id, owner_id, start_date, end_date, message,
	total_days, total_cost, deposit, status, rejection_reason, created_at, updated_at`

func (r requestRow) toDomain() *booking.Request {
	return &booking.Request{
		ID:              r.ID,
		ItemID:          r.ItemID,
		RequesterID:     r.RequesterID,
		OwnerID:         r.OwnerID,
		StartDate:       r.StartDate.UTC(),
		EndDate:         r.EndDate.UTC(),
		Message:         r.Message,
		TotalDays:       r.TotalDays,
		TotalCost:       r.TotalCost,
		Deposit:         r.Deposit,
		Status:          booking.Status(r.Status),
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

// PutItem upserts a listing. The listing service owns these rows; this is
// used for seeding and tests.
func (s *Store) PutItem(ctx context.Context, item *booking.Item) error {
	status := item.Status
	if status == "" {
		status = availability.ItemActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, owner_id, title, price_per_day, deposit, status, paused_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
		    title = EXCLUDED.title,
		    price_per_day = EXCLUDED.price_per_day,
		    deposit = EXCLUDED.deposit,
		    status = EXCLUDED.status,
		    paused_until = EXCLUDED.paused_until,
		    updated_at = NOW()
	`, item.ID, item.OwnerID, item.Title, item.PricePerDay, item.Deposit, string(status), item.PausedUntil)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*booking.Item, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.get_item",
		trace.WithAttributes(attribute.String("item.id", id.String())),
	)
	defer span.End()

	var row itemRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, owner_id, title, price_per_day, deposit, status, paused_until
		FROM items
		WHERE id = $1 AND status <> 'deleted'
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("item %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}

	holds, err := loadHolds(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	return &booking.Item{
		ID:          row.ID,
		OwnerID:     row.OwnerID,
		Title:       row.Title,
		PricePerDay: row.PricePerDay,
		Deposit:     row.Deposit,
		Status:      availability.ItemStatus(row.Status),
		PausedUntil: row.PausedUntil,
		BookedDates: holds,
	}, nil
}

// InsertRequest locks the item, rejects an overlapping pending or accepted
// request, and inserts, all in one transaction.
func (s *Store) InsertRequest(ctx context.Context, req *booking.Request) error {
	ctx, span := s.tracer.Start(ctx, "postgres.insert_request",
		trace.WithAttributes(
			attribute.String("request.id", req.ID.String()),
			attribute.String("item.id", req.ItemID.String()),
		),
	)
	defer span.End()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var locked uuid.UUID
		err := tx.GetContext(ctx, &locked, `SELECT id FROM items WHERE id = $1 FOR UPDATE`, req.ItemID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("item %s not found", req.ItemID)
		}
		if err != nil {
			return fmt.Errorf("lock item: %w", err)
		}

		var conflict bool
		err = tx.GetContext(ctx, &conflict, `
			SELECT EXISTS (
				SELECT 1 FROM requests
				WHERE item_id = $1
				AND status IN ('pending', 'accepted')
				AND start_date <= $3
				AND end_date >= $2
			)
		`, req.ItemID, req.StartDate, req.EndDate)
		if err != nil {
			return fmt.Errorf("check conflict: %w", err)
		}
		if conflict {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return apperr.Conflict("item is already booked for the selected dates")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO requests (`+requestColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, req.ID, req.ItemID, req.RequesterID, req.OwnerID, req.StartDate, req.EndDate, req.Message,
			req.TotalDays, req.TotalCost, req.Deposit, string(req.Status), req.RejectionReason, req.CreatedAt, req.UpdatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return apperr.Conflict("request %s already exists", req.ID)
			}
			return fmt.Errorf("insert request: %w", err)
		}
		return nil
	})
}

func (s *Store) GetRequest(ctx context.Context, id uuid.UUID) (*booking.Request, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.get_request",
		trace.WithAttributes(attribute.String("request.id", id.String())),
	)
	defer span.End()

	var row requestRow
	err := s.db.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("request %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateStatus is a conditional update: it only applies while the stored
// status still equals from.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from, to booking.Status, rejectionReason string, at time.Time) (*booking.Request, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.update_status",
		trace.WithAttributes(
			attribute.String("request.id", id.String()),
			attribute.String("status.from", string(from)),
			attribute.String("status.to", string(to)),
		),
	)
	defer span.End()

	var row requestRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE requests
		SET status = $3::text,
		    rejection_reason = CASE WHEN $3::text = 'rejected' THEN $4 ELSE rejection_reason END,
		    updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+requestColumns, id, string(from), string(to), rejectionReason, at)
	if err == nil {
		return row.toDomain(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update status: %w", err)
	}

	var current string
	err = s.db.GetContext(ctx, &current, `SELECT status FROM requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("request %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	span.SetAttributes(attribute.Bool("conflict.detected", true))
	return nil, &booking.StatusMismatchError{ID: id, Current: booking.Status(current)}
}

func (s *Store) ListRequests(ctx context.Context, f booking.Filter) ([]*booking.Request, int, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.list_requests",
		trace.WithAttributes(
			attribute.String("user.id", f.UserID.String()),
			attribute.String("box", string(f.Box)),
		),
	)
	defer span.End()

	party := "requester_id"
	if f.Box == booking.BoxReceived {
		party = "owner_id"
	}
	where := ` WHERE ` + party + ` = $1 AND ($2::text = '' OR status = $2::text)`

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM requests`+where, f.UserID, string(f.Status)); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+requestColumns+` FROM requests`+where+`
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`, f.UserID, string(f.Status), f.Limit, (f.Page-1)*f.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}

	requests := make([]*booking.Request, 0, len(rows))
	for _, r := range rows {
		requests = append(requests, r.toDomain())
	}
	span.SetAttributes(attribute.Int("requests.loaded", len(requests)))
	return requests, total, nil
}

// CreditEarnings increments the owner's counter in place.
func (s *Store) CreditEarnings(ctx context.Context, ownerID uuid.UUID, amount int64) error {
	ctx, span := s.tracer.Start(ctx, "postgres.credit_earnings",
		trace.WithAttributes(
			attribute.String("owner.id", ownerID.String()),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, earnings)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET earnings = accounts.earnings + EXCLUDED.earnings,
		    updated_at = NOW()
	`, ownerID, amount)
	if err != nil {
		return fmt.Errorf("credit earnings: %w", err)
	}
	return nil
}

func (s *Store) Earnings(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	var earnings int64
	err := s.db.GetContext(ctx, &earnings, `SELECT earnings FROM accounts WHERE id = $1`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query earnings: %w", err)
	}
	return earnings, nil
}
