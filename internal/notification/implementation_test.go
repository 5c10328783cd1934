package notification_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentalhub/internal/apperr"
	"rentalhub/internal/notification"
	"rentalhub/internal/store/memory"
)

type recordingPusher struct {
	mu     sync.Mutex
	pushed []uuid.UUID
	err    error
	panics bool
}

func (p *recordingPusher) EmitToUser(userID uuid.UUID, event string, payload interface{}) error {
	if p.panics {
		panic("socket torn down")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if event == notification.Event {
		p.pushed = append(p.pushed, userID)
	}
	return nil
}

func newService(p notification.Pusher) (notification.Service, *memory.Store) {
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return notification.NewService(store, p, logger), store
}

func dispatch(t *testing.T, svc notification.Service, user uuid.UUID) *notification.Notification {
	t.Helper()
	n, err := svc.Dispatch(context.Background(), user, notification.TypeSystem, "Title", "Body", "/x", notification.Related{})
	require.NoError(t, err)
	return n
}

func TestDispatchPersistsWithoutPusher(t *testing.T) {
	svc, _ := newService(nil)
	user := uuid.New()

	n := dispatch(t, svc, user)
	assert.False(t, n.IsRead)
	assert.Nil(t, n.RelatedRequest)

	page, err := svc.List(context.Background(), user, notification.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.UnreadCount)
}

func TestDispatchSwallowsPushFailures(t *testing.T) {
	for name, p := range map[string]*recordingPusher{
		"error": {err: errors.New("gateway down")},
		"panic": {panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			svc, _ := newService(p)
			user := uuid.New()
			dispatch(t, svc, user)

			page, err := svc.List(context.Background(), user, notification.Query{})
			require.NoError(t, err)
			assert.Equal(t, 1, page.Total)
		})
	}
}

func TestDispatchPushesToRecipient(t *testing.T) {
	p := &recordingPusher{}
	svc, _ := newService(nil)
	svc.SetPusher(p)
	user := uuid.New()

	related := notification.Related{RequestID: uuid.New(), ItemID: uuid.New()}
	n, err := svc.Dispatch(context.Background(), user, notification.TypeRequestAccepted, "Accepted", "ok", "/requests/sent", related)
	require.NoError(t, err)
	require.NotNil(t, n.RelatedRequest)
	assert.Equal(t, related.RequestID, *n.RelatedRequest)
	assert.Equal(t, []uuid.UUID{user}, p.pushed)
}

func TestDispatchRejectsUnknownType(t *testing.T) {
	svc, _ := newService(nil)
	_, err := svc.Dispatch(context.Background(), uuid.New(), notification.Type("party"), "t", "m", "", notification.Related{})
	assert.Error(t, err)
}

func TestUnreadCounter(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(nil)
	user, other := uuid.New(), uuid.New()

	first := dispatch(t, svc, user)
	second := dispatch(t, svc, user)
	dispatch(t, svc, user)
	dispatch(t, svc, other)

	_, err := svc.MarkRead(ctx, user, first.ID)
	require.NoError(t, err)
	_, err = svc.MarkRead(ctx, user, first.ID)
	require.NoError(t, err)

	page, err := svc.List(ctx, user, notification.Query{UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, page.UnreadCount)
	assert.Equal(t, 2, page.Total)

	_, err = svc.MarkRead(ctx, other, second.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	require.NoError(t, svc.Delete(ctx, user, second.ID))
	page, err = svc.List(ctx, user, notification.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.UnreadCount)
	assert.Equal(t, 2, page.Total)

	updated, err := svc.MarkAllRead(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	deleted, err := svc.DeleteAll(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	page, err = svc.List(ctx, other, notification.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.UnreadCount, "other recipients are untouched")
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(nil)
	user := uuid.New()
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		require.NoError(t, store.InsertNotification(ctx, &notification.Notification{
			ID:        uuid.New(),
			UserID:    user,
			Type:      notification.TypeSystem,
			Title:     "n",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := svc.List(ctx, user, notification.Query{Page: 2, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 3, page.Pages)
	require.Len(t, page.Notifications, 10)
	assert.True(t, page.Notifications[0].CreatedAt.Equal(base.Add(14*time.Minute)), "newest first")

	page, err = svc.List(ctx, user, notification.Query{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Notifications)
	assert.NotNil(t, page.Notifications)
	assert.Equal(t, 2, page.Pages)
}
