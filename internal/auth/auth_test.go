package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	v := NewVerifier("test-secret")
	want := Identity{ID: uuid.New(), Role: "renter"}

	token, err := v.Sign(want, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	token, err := NewVerifier("a").Sign(Identity{ID: uuid.New()}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("b").Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier("s")
	token, err := v.Sign(Identity{ID: uuid.New()}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("s")
	id := Identity{ID: uuid.New(), Role: "owner"}
	token, err := v.Sign(id, time.Hour)
	require.NoError(t, err)

	var seen Identity
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, seen)

	req = httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
