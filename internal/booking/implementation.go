// internal/booking/implementation.go
package booking

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
	"golang.org/x/time/rate"

	"rentalhub/internal/apperr"
	"rentalhub/internal/availability"
	"rentalhub/internal/notification"
)

const (
	// DefaultCancelWindow is the minimum notice before the start date for a
	// cancellation.
	DefaultCancelWindow = 48 * time.Hour

	defaultCreatesPerMinute = 10
	defaultLimit            = 10
	maxLimit                = 100

	// limiterSweepAt is the limiter count that triggers the first eviction
	// pass.
	limiterSweepAt = 1024
)

// Config tunes the lifecycle. Zero values select defaults.
type Config struct {
	CancelWindow     time.Duration
	CreatesPerMinute int
	Now              func() time.Time
}

// service implements the Service interface.
type service struct {
	store    Store
	index    availability.Index
	notifier notification.Dispatcher
	logger   *slog.Logger
	tracer   trace.Tracer

	transitions metric.Int64Counter

	cancelWindow     time.Duration
	createsPerMinute int
	now              func() time.Time

	limitersMu     sync.Mutex
	limiters       map[uuid.UUID]*rate.Limiter
	limiterSweepAt int
}

// NewService creates a new booking service instance.
func NewService(store Store, index availability.Index, notifier notification.Dispatcher, logger *slog.Logger, cfg Config) Service {
	if cfg.CancelWindow <= 0 {
		cfg.CancelWindow = DefaultCancelWindow
	}
	if cfg.CreatesPerMinute <= 0 {
		cfg.CreatesPerMinute = defaultCreatesPerMinute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	counter, _ := otel.Meter("rentalhub/booking").Int64Counter("booking.transitions")
	return &service{
		store:            store,
		index:            index,
		notifier:         notifier,
		logger:           logger,
		tracer:           otel.Tracer("rentalhub/booking"),
		transitions:      counter,
		cancelWindow:     cfg.CancelWindow,
		createsPerMinute: cfg.CreatesPerMinute,
		now:              cfg.Now,
		limiters:         make(map[uuid.UUID]*rate.Limiter),
		limiterSweepAt:   limiterSweepAt,
	}
}

func (s *service) allow(requesterID uuid.UUID) bool {
	now := s.now()
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	l, ok := s.limiters[requesterID]
	if !ok {
		if len(s.limiters) >= s.limiterSweepAt {
			s.evictIdleLimiters(now)
		}
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.createsPerMinute)), s.createsPerMinute)
		s.limiters[requesterID] = l
	}
	return l.AllowN(now, 1)
}

// evictIdleLimiters drops limiters whose bucket has refilled. A full bucket
// behaves exactly like a new limiter, so nothing is forgotten. The next pass
// waits until the map doubles again.
func (s *service) evictIdleLimiters(now time.Time) {
	burst := float64(s.createsPerMinute)
	for id, l := range s.limiters {
		if l.TokensAt(now) >= burst {
			delete(s.limiters, id)
		}
	}
	s.limiterSweepAt = max(limiterSweepAt, 2*len(s.limiters))
}

// CreateRequest validates the item and dates, snapshots the cost, and
// stores a pending request that reserves the range.
func (s *service) CreateRequest(ctx context.Context, requesterID uuid.UUID, in CreateInput) (*Request, error) {
	ctx, span := s.tracer.Start(ctx, "booking.create",
		trace.WithAttributes(
			attribute.String("item.id", in.ItemID.String()),
			attribute.String("requester.id", requesterID.String()),
		),
	)
	defer span.End()

	if !s.allow(requesterID) {
		return nil, apperr.New(apperr.KindRateLimited, "too many requests, try again later")
	}

	// Step 1: The item must exist and belong to someone else
	item, err := s.store.GetItem(ctx, in.ItemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID == requesterID {
		return nil, apperr.PolicyViolation("you cannot request your own item")
	}

	// Step 2: Validate the period
	period, err := availability.NewRange(in.StartDate, in.EndDate)
	if err != nil {
		return nil, err
	}

	// Step 3: Only active items take requests. Dates that collide with a
	// booking on a paused item still report the conflict.
	if !item.Surface().Requestable() {
		conflict, err := s.index.CheckConflict(ctx, item.ID, period.Start, period.End)
		if err != nil {
			return nil, fmt.Errorf("failed to check conflicts: %w", err)
		}
		if conflict {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return nil, apperr.Conflict("item is already booked for the selected dates")
		}
		return nil, apperr.NotFound("item is not available for rent")
	}

	// Step 4: Snapshot the cost
	now := s.now().UTC()
	days := period.Days()
	req := &Request{
		ID:          uuid.New(),
		ItemID:      item.ID,
		RequesterID: requesterID,
		OwnerID:     item.OwnerID,
		StartDate:   period.Start,
		EndDate:     period.End,
		Message:     in.Message,
		TotalDays:   days,
		TotalCost:   int64(days) * item.PricePerDay,
		Deposit:     item.Deposit,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Step 5: Conflict check and insert as one unit
	if err := s.store.InsertRequest(ctx, req); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
		}
		return nil, err
	}
	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "create")))

	// Step 6: Tell the owner
	s.notify(ctx, req.OwnerID, notification.TypeRequestReceived,
		"New rental request",
		fmt.Sprintf("You have a new request for %s from %s to %s (%d days).",
			item.Title, formatDay(req.StartDate), formatDay(req.EndDate), req.TotalDays),
		"/requests/received",
		req,
	)

	return req, nil
}

// GetRequest returns a request to one of its participants.
func (s *service) GetRequest(ctx context.Context, actorID, id uuid.UUID) (*Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorID != req.RequesterID && actorID != req.OwnerID {
		return nil, apperr.Unauthorized("not authorized to view this request")
	}
	return req, nil
}

// Accept moves a pending request to accepted, commits its dates, and
// credits the owner with the snapshot cost.
func (s *service) Accept(ctx context.Context, actorID, id uuid.UUID) (*Request, error) {
	ctx, span := s.tracer.Start(ctx, "booking.accept",
		trace.WithAttributes(attribute.String("request.id", id.String())),
	)
	defer span.End()

	// Step 1: Conditional status write
	_, req, err := s.transition(ctx, actorID, id, ActionAccept, "")
	if err != nil {
		return nil, err
	}

	compensate := func(cause error) {
		s.revert(ctx, id, StatusAccepted, StatusPending, cause)
	}

	// Step 2: Commit the dates while the request is still accepted
	if _, err := s.index.Commit(ctx, req.ItemID, availability.Hold{Range: req.Range(), RequestID: req.ID}); err != nil {
		if apperr.Is(err, apperr.KindInvalidState) {
			span.SetAttributes(attribute.Bool("superseded", true))
			return nil, apperr.Conflict("request %s changed while it was being accepted", id)
		}
		compensate(err)
		return nil, fmt.Errorf("failed to commit dates: %w", err)
	}

	// Step 3: Credit earnings (deposit excluded)
	if err := s.store.CreditEarnings(ctx, req.OwnerID, req.TotalCost); err != nil {
		if _, rerr := s.index.Release(ctx, req.ItemID, req.ID); rerr != nil {
			s.logger.Error("failed to release dates", "request_id", id, "error", rerr)
		}
		compensate(err)
		return nil, fmt.Errorf("failed to credit earnings: %w", err)
	}

	// Step 4: Tell the renter
	s.notify(ctx, req.RequesterID, notification.TypeRequestAccepted,
		"Request accepted",
		fmt.Sprintf("Your request for %s to %s was accepted.", formatDay(req.StartDate), formatDay(req.EndDate)),
		"/requests/sent",
		req,
	)

	return req, nil
}

// Reject declines a pending request.
func (s *service) Reject(ctx context.Context, actorID, id uuid.UUID, reason string) (*Request, error) {
	ctx, span := s.tracer.Start(ctx, "booking.reject",
		trace.WithAttributes(attribute.String("request.id", id.String())),
	)
	defer span.End()

	_, req, err := s.transition(ctx, actorID, id, ActionReject, reason)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Your request for %s to %s was declined.", formatDay(req.StartDate), formatDay(req.EndDate))
	if reason != "" {
		message += " Reason: " + reason
	}
	s.notify(ctx, req.RequesterID, notification.TypeRequestRejected, "Request declined", message, "/requests/sent", req)

	return req, nil
}

// Cancel withdraws a pending or accepted request. Earnings credited on
// acceptance are provisional and are not reversed here.
func (s *service) Cancel(ctx context.Context, actorID, id uuid.UUID) (*Request, error) {
	ctx, span := s.tracer.Start(ctx, "booking.cancel",
		trace.WithAttributes(attribute.String("request.id", id.String())),
	)
	defer span.End()

	prev, req, err := s.transition(ctx, actorID, id, ActionCancel, "")
	if err != nil {
		return nil, err
	}

	if prev.Status == StatusAccepted {
		if _, err := s.index.Release(ctx, req.ItemID, req.ID); err != nil {
			s.revert(ctx, id, StatusCancelled, StatusAccepted, err)
			return nil, fmt.Errorf("failed to release dates: %w", err)
		}
	}

	who := "the renter"
	link := "/requests/received"
	if actorID == req.OwnerID {
		who = "the owner"
		link = "/requests/sent"
	}
	s.notify(ctx, req.Counterpart(actorID), notification.TypeRequestCancelled,
		"Request cancelled",
		fmt.Sprintf("The booking for %s to %s was cancelled by %s.", formatDay(req.StartDate), formatDay(req.EndDate), who),
		link,
		req,
	)

	return req, nil
}

// Complete closes an accepted booking, resumes the item, and prompts the
// renter for a review.
func (s *service) Complete(ctx context.Context, actorID, id uuid.UUID) (*Request, error) {
	ctx, span := s.tracer.Start(ctx, "booking.complete",
		trace.WithAttributes(attribute.String("request.id", id.String())),
	)
	defer span.End()

	_, req, err := s.transition(ctx, actorID, id, ActionComplete, "")
	if err != nil {
		return nil, err
	}

	if _, err := s.index.Release(ctx, req.ItemID, req.ID); err != nil {
		s.revert(ctx, id, StatusCompleted, StatusAccepted, err)
		return nil, fmt.Errorf("failed to resume item: %w", err)
	}

	s.notify(ctx, req.RequesterID, notification.TypeReviewReminder,
		"How was your rental?",
		"Your rental is complete. Leave a review for the owner and the item.",
		fmt.Sprintf("/items/%s/review?request=%s", req.ItemID, req.ID),
		req,
	)

	return req, nil
}

// List returns one page of the caller's received or sent requests.
func (s *service) List(ctx context.Context, f Filter) (*RequestPage, error) {
	if f.Box != BoxReceived && f.Box != BoxSent {
		return nil, apperr.Validation("unknown request box %q", f.Box)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", f.Status)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}

	requests, total, err := s.store.ListRequests(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	if requests == nil {
		requests = []*Request{}
	}
	return &RequestPage{
		Requests: requests,
		Total:    total,
		Page:     f.Page,
		Pages:    (total + f.Limit - 1) / f.Limit,
	}, nil
}

// transition authorizes actor, checks legality, and applies the status
// change as a compare-and-set. A lost race re-reads once so the caller sees
// an error describing the status that won.
func (s *service) transition(ctx context.Context, actorID, id uuid.UUID, action Action, reason string) (*Request, *Request, error) {
	for attempt := 0; attempt < 2; attempt++ {
		req, err := s.store.GetRequest(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if err := authorize(action, req, actorID); err != nil {
			return nil, nil, err
		}
		to, ok := Next(action, req.Status)
		if !ok {
			return nil, nil, apperr.InvalidState("cannot %s a %s request", action, req.Status)
		}
		now := s.now().UTC()
		if action == ActionCancel && req.StartDate.Sub(now) < s.cancelWindow {
			return nil, nil, apperr.PolicyViolation("cannot cancel less than %d hours before the start date", int(s.cancelWindow.Hours()))
		}

		updated, err := s.store.UpdateStatus(ctx, id, req.Status, to, reason, now)
		var mismatch *StatusMismatchError
		if errors.As(err, &mismatch) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(action))))
		return req, updated, nil
	}
	return nil, nil, apperr.Conflict("request %s changed while processing, retry", id)
}

// revert undoes a status write whose side effects failed. It is a
// compare-and-set from the status the failed step wrote.
func (s *service) revert(ctx context.Context, id uuid.UUID, from, to Status, cause error) {
	s.logger.Warn("reverting request status", "request_id", id, "from", from, "to", to, "error", cause)
	if _, err := s.store.UpdateStatus(ctx, id, from, to, "", s.now().UTC()); err != nil {
		s.logger.Error("failed to revert request status", "request_id", id, "error", err)
	}
}

func authorize(action Action, req *Request, actorID uuid.UUID) error {
	switch action {
	case ActionCancel:
		if actorID == req.RequesterID || actorID == req.OwnerID {
			return nil
		}
	default:
		if actorID == req.OwnerID {
			return nil
		}
	}
	return apperr.Unauthorized("not authorized to %s this request", action)
}

// notify dispatches after the transition is durable. Failures never undo
// the transition.
func (s *service) notify(ctx context.Context, userID uuid.UUID, typ notification.Type, title, message, link string, req *Request) {
	if s.notifier == nil {
		return
	}
	_, err := s.notifier.Dispatch(ctx, userID, typ, title, message, link, notification.Related{
		RequestID: req.ID,
		ItemID:    req.ItemID,
	})
	if err != nil {
		s.logger.Error("failed to dispatch notification", "request_id", req.ID, "type", typ, "error", err)
	}
}

func formatDay(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
