// internal/realtime/handler.go
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"rentalhub/internal/apperr"
	"rentalhub/internal/auth"
)

type Handler struct {
	gateway  *Gateway
	verifier *auth.Verifier
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler builds the websocket endpoint. Connections authenticate with a
// bearer token, so the origin check is left to the token.
func NewHandler(gateway *Gateway, verifier *auth.Verifier, logger *slog.Logger) *Handler {
	return &Handler{
		gateway:  gateway,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeWS authenticates, upgrades, and runs the connection until it closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		apperr.WriteJSON(w, http.StatusUnauthorized, map[string]string{"message": err.Error()})
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", identity.ID, "error", err)
		return
	}

	c := newClient(ws, identity.ID)
	h.gateway.Attach(c)
	h.logger.Debug("realtime connection opened", "user_id", identity.ID)

	go c.writePump()
	c.readPump(func(env Envelope) { h.gateway.Handle(c, env) })

	c.Close()
	h.gateway.Detach(c)
	h.logger.Debug("realtime connection closed", "user_id", identity.ID)
}

// RelayRoutes mounts under /conversations.
func (h *Handler) RelayRoutes(r chi.Router) {
	r.Post("/{id}/relay", h.HandleRelay)
}

// HandleRelay pushes an already persisted message to the conversation room.
func (h *Handler) HandleRelay(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.FromContext(r.Context()); !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	room := chi.URLParam(r, "id")
	var message json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&message); err != nil || len(message) == 0 {
		apperr.WriteError(w, h.logger, apperr.Validation("message body must be JSON"))
		return
	}

	delivered := h.gateway.RelayMessage(room, message)
	apperr.WriteJSON(w, http.StatusAccepted, map[string]int{"delivered": delivered})
}
