package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentalhub/internal/auth"
	"rentalhub/internal/availability"
	"rentalhub/internal/booking"
	"rentalhub/internal/config"
	"rentalhub/internal/notification"
	"rentalhub/internal/store/memory"
)

const testSecret = "integration-secret"

type testSuite struct {
	server   *httptest.Server
	store    *memory.Store
	verifier *auth.Verifier
}

func setupTestSuite(t *testing.T) *testSuite {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:        testSecret,
		CancelWindow:     48 * time.Hour,
		CreatesPerMinute: 10,
	}
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(newApp(cfg, store, logger).router)
	t.Cleanup(srv.Close)
	return &testSuite{server: srv, store: store, verifier: auth.NewVerifier(testSecret)}
}

func (ts *testSuite) do(t *testing.T, user uuid.UUID, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	token, err := ts.verifier.Sign(auth.Identity{ID: user}, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestBookingFlow(t *testing.T) {
	ts := setupTestSuite(t)
	owner, renterA, renterB := uuid.New(), uuid.New(), uuid.New()
	item := &booking.Item{ID: uuid.New(), OwnerID: owner, Title: "Kayak", PricePerDay: 100, Deposit: 50, Status: availability.ItemActive}
	ts.store.PutItem(item)

	// Renter A requests days 10 to 12
	resp := ts.do(t, renterA, http.MethodPost, "/requests", map[string]string{
		"itemId": item.ID.String(), "startDate": "2030-03-10", "endDate": "2030-03-12", "message": "weekend trip",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[booking.Request](t, resp)
	assert.Equal(t, 3, created.TotalDays)
	assert.Equal(t, int64(300), created.TotalCost)
	assert.Equal(t, booking.StatusPending, created.Status)

	// Owner accepts
	resp = ts.do(t, owner, http.MethodPatch, fmt.Sprintf("/requests/%s/accept", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	earnings, err := ts.store.Earnings(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(300), earnings)

	resp = ts.do(t, renterB, http.MethodGet, fmt.Sprintf("/items/%s/availability", item.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	surface := decode[availability.Surface](t, resp)
	assert.Equal(t, availability.ItemPaused, surface.Status)
	require.NotNil(t, surface.PausedUntil)
	assert.Equal(t, "2030-03-12", surface.PausedUntil.Format(time.DateOnly))

	// Renter B overlaps on days 11 to 13
	resp = ts.do(t, renterB, http.MethodPost, "/requests", map[string]string{
		"itemId": item.ID.String(), "startDate": "2030-03-11", "endDate": "2030-03-13",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Owner completes
	resp = ts.do(t, owner, http.MethodPatch, fmt.Sprintf("/requests/%s/complete", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, renterB, http.MethodGet, fmt.Sprintf("/items/%s/availability", item.ID), nil)
	surface = decode[availability.Surface](t, resp)
	assert.Equal(t, availability.ItemActive, surface.Status)
	assert.Empty(t, surface.Holds)

	resp = ts.do(t, renterA, http.MethodGet, "/notifications?unreadOnly=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[notification.Page](t, resp)
	types := make([]notification.Type, 0, len(page.Notifications))
	for _, n := range page.Notifications {
		types = append(types, n.Type)
	}
	assert.Contains(t, types, notification.TypeReviewReminder)
	assert.Contains(t, types, notification.TypeRequestAccepted)
	assert.Equal(t, 2, page.UnreadCount)

	resp = ts.do(t, owner, http.MethodGet, "/requests/received?status=completed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	received := decode[booking.RequestPage](t, resp)
	assert.Equal(t, 1, received.Total)
}

func TestConcurrentRequestsPreventDoubleBooking(t *testing.T) {
	ts := setupTestSuite(t)
	item := &booking.Item{ID: uuid.New(), OwnerID: uuid.New(), Title: "Drill", PricePerDay: 20, Status: availability.ItemActive}
	ts.store.PutItem(item)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(renter uuid.UUID) {
			defer wg.Done()
			resp := ts.do(t, renter, http.MethodPost, "/requests", map[string]string{
				"itemId": item.ID.String(), "startDate": "2030-05-01", "endDate": "2030-05-03",
			})
			if resp.StatusCode == http.StatusCreated {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}(uuid.New())
	}
	wg.Wait()

	assert.Equal(t, 1, successCount, "Only one overlapping request should succeed")
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	ts := setupTestSuite(t)

	resp, err := http.Get(ts.server.URL + "/requests/sent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(ts.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
