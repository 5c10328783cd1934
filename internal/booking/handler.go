// internal/booking/handler.go
package booking

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"rentalhub/internal/apperr"
	"rentalhub/internal/auth"
	"rentalhub/internal/availability"
)

type Handler struct {
	service  Service
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

// Routes mounts under /requests.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.HandleCreate)
	r.Get("/received", h.handleList(BoxReceived))
	r.Get("/sent", h.handleList(BoxSent))
	r.Get("/{id}", h.HandleGet)
	r.Patch("/{id}/accept", h.HandleAccept)
	r.Patch("/{id}/reject", h.HandleReject)
	r.Patch("/{id}/cancel", h.HandleCancel)
	r.Patch("/{id}/complete", h.HandleComplete)
}

type createRequestBody struct {
	ItemID    string `json:"itemId" validate:"required,uuid"`
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
	Message   string `json:"message" validate:"max=1000"`
}

type rejectRequestBody struct {
	RejectionReason string `json:"rejectionReason" validate:"max=500"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var body createRequestBody
	if err := h.decode(r, &body); err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	start, err := availability.ParseDate(body.StartDate)
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}
	end, err := availability.ParseDate(body.EndDate)
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	req, err := h.service.CreateRequest(r.Context(), caller.ID, CreateInput{
		ItemID:    uuid.MustParse(body.ItemID),
		StartDate: start,
		EndDate:   end,
		Message:   body.Message,
	})
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	apperr.WriteJSON(w, http.StatusCreated, req)
}

func (h *Handler) handleList(box Box) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		limit, _ := strconv.Atoi(q.Get("limit"))

		result, err := h.service.List(r.Context(), Filter{
			UserID: caller.ID,
			Box:    box,
			Status: Status(q.Get("status")),
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			apperr.WriteError(w, h.logger, err)
			return
		}

		apperr.WriteJSON(w, http.StatusOK, result)
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.withRequest(w, r, func(caller auth.Identity, id uuid.UUID) (*Request, error) {
		return h.service.GetRequest(r.Context(), caller.ID, id)
	})
}

func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	h.withRequest(w, r, func(caller auth.Identity, id uuid.UUID) (*Request, error) {
		return h.service.Accept(r.Context(), caller.ID, id)
	})
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.withRequest(w, r, func(caller auth.Identity, id uuid.UUID) (*Request, error) {
		var body rejectRequestBody
		if err := h.decode(r, &body); err != nil {
			return nil, err
		}
		return h.service.Reject(r.Context(), caller.ID, id, body.RejectionReason)
	})
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.withRequest(w, r, func(caller auth.Identity, id uuid.UUID) (*Request, error) {
		return h.service.Cancel(r.Context(), caller.ID, id)
	})
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	h.withRequest(w, r, func(caller auth.Identity, id uuid.UUID) (*Request, error) {
		return h.service.Complete(r.Context(), caller.ID, id)
	})
}

func (h *Handler) withRequest(w http.ResponseWriter, r *http.Request, fn func(auth.Identity, uuid.UUID) (*Request, error)) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apperr.WriteError(w, h.logger, apperr.Validation("invalid request ID"))
		return
	}

	req, err := fn(caller, id)
	if err != nil {
		apperr.WriteError(w, h.logger, err)
		return
	}

	apperr.WriteJSON(w, http.StatusOK, req)
}

// decode reads an optional JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid request body")
	}
	var ve validator.ValidationErrors
	if err := h.validate.Struct(dst); err != nil {
		if errors.As(err, &ve) && len(ve) > 0 {
			return apperr.Validation("invalid field %s: %s", ve[0].Field(), ve[0].Tag())
		}
		return apperr.Validation("invalid request body")
	}
	return nil
}
