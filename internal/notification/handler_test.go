package notification_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentalhub/internal/auth"
	"rentalhub/internal/notification"
)

func TestHandlerRoutes(t *testing.T) {
	svc, _ := newService(nil)
	user := uuid.New()
	first := dispatch(t, svc, user)
	dispatch(t, svc, user)

	r := chi.NewRouter()
	r.Route("/notifications", notification.NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes)

	serve := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{ID: user}))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(http.MethodPatch, "/notifications/"+first.ID.String()+"/read")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(http.MethodGet, "/notifications?unreadOnly=true&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var page notification.Page
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.UnreadCount)

	rec = serve(http.MethodPatch, "/notifications/read-all")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":1}`, rec.Body.String())

	rec = serve(http.MethodDelete, "/notifications/"+first.ID.String())
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(http.MethodDelete, "/notifications/"+first.ID.String())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(http.MethodDelete, "/notifications")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())

	rec = serve(http.MethodPatch, "/notifications/nope/read")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
