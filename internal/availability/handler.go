// internal/availability/handler.go
package availability

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"rentalhub/internal/apperr"
)

type Handler struct {
	index  Index
	logger *slog.Logger
}

func NewHandler(index Index, logger *slog.Logger) *Handler {
	return &Handler{index: index, logger: logger}
}

// Routes mounts under /items.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/{id}/availability", h.HandleAvailability)
}

func (h *Handler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apperr.WriteError(w, h.logger, apperr.Validation("invalid item ID"))
		return
	}

	surface, err := h.index.Surface(r.Context(), itemID)
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	resp := struct {
		*Surface
		Conflict *bool `json:"conflict,omitempty"`
	}{Surface: surface}

	q := r.URL.Query()
	if q.Get("start") != "" || q.Get("end") != "" {
		start, err := ParseDate(q.Get("start"))
		if err != nil {
			apperr.WriteError(w, h.logger, err)
			return
		}
		end, err := ParseDate(q.Get("end"))
		if err != nil {
			apperr.WriteError(w, h.logger, err)
			return
		}
		conflict, err := h.index.CheckConflict(r.Context(), itemID, start, end)
		if err != nil {
			apperr.WriteError(w, h.logger, err)
			return
		}
		resp.Conflict = &conflict
	}

	apperr.WriteJSON(w, http.StatusOK, resp)
}

// ParseDate accepts RFC 3339 timestamps and bare YYYY-MM-DD dates (UTC).
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, apperr.Validation("date is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid date %q", s)
	}
	return t, nil
}
