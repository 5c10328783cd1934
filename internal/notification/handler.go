// internal/notification/handler.go
package notification

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"rentalhub/internal/apperr"
	"rentalhub/internal/auth"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts under /notifications. read-all is registered ahead of the
// {id} routes so chi does not treat it as an id.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Patch("/read-all", h.HandleMarkAllRead)
	r.Patch("/{id}/read", h.HandleMarkRead)
	r.Delete("/", h.HandleDeleteAll)
	r.Delete("/{id}", h.HandleDelete)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	unreadOnly, _ := strconv.ParseBool(q.Get("unreadOnly"))

	result, err := h.service.List(r.Context(), caller.ID, Query{
		Page:       page,
		Limit:      limit,
		UnreadOnly: unreadOnly,
	})
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	apperr.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}

	n, err := h.service.MarkRead(r.Context(), caller.ID, id)
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	apperr.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	updated, err := h.service.MarkAllRead(r.Context(), caller.ID)
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	apperr.WriteJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), caller.ID, id); err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleDeleteAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	deleted, err := h.service.DeleteAll(r.Context(), caller.ID)
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	apperr.WriteJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (auth.Identity, uuid.UUID, bool) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return auth.Identity{}, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apperr.WriteError(w, h.logger, apperr.Validation("invalid notification ID"))
		return auth.Identity{}, uuid.Nil, false
	}
	return caller, id, true
}
