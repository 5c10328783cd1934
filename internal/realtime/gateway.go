// internal/realtime/gateway.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"rentalhub/internal/notification"
)

var _ notification.Pusher = (*Gateway)(nil)

// Gateway routes events between connections: personal channels through
// Presence, conversation channels through rooms, and global broadcasts to
// every attached connection.
type Gateway struct {
	presence *Presence
	logger   *slog.Logger

	mu         sync.Mutex
	attached   map[Conn]struct{}
	registered map[Conn]struct{}
	rooms      map[string]map[Conn]struct{}
	memberOf   map[Conn]map[string]struct{}

	connections metric.Int64UpDownCounter
}

func NewGateway(presence *Presence, logger *slog.Logger) *Gateway {
	connections, _ := otel.Meter("rentalhub/realtime").Int64UpDownCounter("realtime.connections")
	return &Gateway{
		presence:    presence,
		logger:      logger,
		attached:    make(map[Conn]struct{}),
		registered:  make(map[Conn]struct{}),
		rooms:       make(map[string]map[Conn]struct{}),
		memberOf:    make(map[Conn]map[string]struct{}),
		connections: connections,
	}
}

func (g *Gateway) Presence() *Presence { return g.presence }

// Attach starts tracking c for global broadcasts.
func (g *Gateway) Attach(c Conn) {
	g.mu.Lock()
	g.attached[c] = struct{}{}
	g.mu.Unlock()
	g.connections.Add(context.Background(), 1)
}

// Detach drops c from every room and from presence. The user_offline
// broadcast fires only when this was the user's last connection.
func (g *Gateway) Detach(c Conn) {
	g.mu.Lock()
	if _, ok := g.attached[c]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.attached, c)
	_, wasRegistered := g.registered[c]
	delete(g.registered, c)
	for room := range g.memberOf[c] {
		g.leaveLocked(room, c)
	}
	delete(g.memberOf, c)
	g.mu.Unlock()
	g.connections.Add(context.Background(), -1)

	if wasRegistered && g.presence.Unregister(c.UserID(), c) {
		g.Broadcast(EventUserOffline, userPayload{UserID: c.UserID()})
	}
}

// Register marks c as a presence handle for its user. The first handle of a
// user triggers user_online; c always receives the current online set.
func (g *Gateway) Register(c Conn) {
	g.mu.Lock()
	if _, ok := g.attached[c]; !ok {
		g.mu.Unlock()
		return
	}
	g.registered[c] = struct{}{}
	g.mu.Unlock()

	if g.presence.Register(c.UserID(), c) {
		g.Broadcast(EventUserOnline, userPayload{UserID: c.UserID()})
	}
	g.SendOnlineUsers(c)
}

func (g *Gateway) SendOnlineUsers(c Conn) {
	g.send(c, EventOnlineUsers, onlineUsersPayload{UserIDs: g.presence.Online()})
}

func (g *Gateway) Join(room string, c Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.attached[c]; !ok {
		return
	}
	members, ok := g.rooms[room]
	if !ok {
		members = make(map[Conn]struct{})
		g.rooms[room] = members
	}
	members[c] = struct{}{}
	rooms, ok := g.memberOf[c]
	if !ok {
		rooms = make(map[string]struct{})
		g.memberOf[c] = rooms
	}
	rooms[room] = struct{}{}
}

func (g *Gateway) Leave(room string, c Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveLocked(room, c)
	if rooms, ok := g.memberOf[c]; ok {
		delete(rooms, room)
	}
}

func (g *Gateway) leaveLocked(room string, c Conn) {
	members, ok := g.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(g.rooms, room)
	}
}

// Typing notifies the room's other connections that c's user is typing.
// Connections that have not joined the room are ignored.
func (g *Gateway) Typing(room string, c Conn) {
	g.toRoom(room, c, EventUserTyping, typingPayload{RoomID: room, UserID: c.UserID()})
}

func (g *Gateway) StopTyping(room string, c Conn) {
	g.toRoom(room, c, EventUserStopTyping, typingPayload{RoomID: room, UserID: c.UserID()})
}

// RelayMessage delivers a persisted chat message to every connection in the
// room, the sender's included. It returns the number of connections reached.
func (g *Gateway) RelayMessage(room string, message json.RawMessage) int {
	return g.toRoom(room, nil, EventReceiveMessage, message)
}

// EmitToUser pushes event to every connection of userID. An offline user is
// not an error.
func (g *Gateway) EmitToUser(userID uuid.UUID, event string, payload interface{}) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range g.presence.Conns(userID) {
		if err := c.Send(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broadcast sends event to every attached connection.
func (g *Gateway) Broadcast(event string, payload interface{}) {
	frame, err := Encode(event, payload)
	if err != nil {
		g.logger.Error("failed to encode broadcast", "event", event, "error", err)
		return
	}
	g.mu.Lock()
	targets := make([]Conn, 0, len(g.attached))
	for c := range g.attached {
		targets = append(targets, c)
	}
	g.mu.Unlock()

	for _, c := range targets {
		g.deliver(c, event, frame)
	}
}

// toRoom delivers to the members of room. A non-nil from must itself be a
// member and is left out of the delivery.
func (g *Gateway) toRoom(room string, from Conn, event string, payload interface{}) int {
	frame, err := Encode(event, payload)
	if err != nil {
		g.logger.Error("failed to encode room event", "event", event, "room", room, "error", err)
		return 0
	}
	g.mu.Lock()
	members := g.rooms[room]
	if from != nil {
		if _, ok := members[from]; !ok {
			g.mu.Unlock()
			g.logger.Debug("dropping room event from non-member", "event", event, "room", room, "user_id", from.UserID())
			return 0
		}
	}
	targets := make([]Conn, 0, len(members))
	for c := range members {
		if c != from {
			targets = append(targets, c)
		}
	}
	g.mu.Unlock()

	delivered := 0
	for _, c := range targets {
		if g.deliver(c, event, frame) {
			delivered++
		}
	}
	return delivered
}

func (g *Gateway) send(c Conn, event string, payload interface{}) {
	frame, err := Encode(event, payload)
	if err != nil {
		g.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	g.deliver(c, event, frame)
}

func (g *Gateway) sendError(c Conn, message string) {
	g.send(c, EventError, errorPayload{Message: message})
}

func (g *Gateway) deliver(c Conn, event string, frame []byte) bool {
	if err := c.Send(frame); err != nil {
		g.logger.Debug("dropping realtime event", "event", event, "user_id", c.UserID(), "error", err)
		return false
	}
	return true
}

// Handle dispatches one inbound client frame.
func (g *Gateway) Handle(c Conn, env Envelope) {
	switch env.Event {
	case EventRegisterUser:
		id, err := userID(env.Data)
		if err != nil {
			g.sendError(c, err.Error())
			return
		}
		if id != c.UserID() {
			g.sendError(c, "cannot register as another user")
			return
		}
		g.Register(c)

	case EventGetOnlineUsers:
		g.SendOnlineUsers(c)

	case EventJoinRoom, EventLeaveRoom, EventTyping, EventStopTyping:
		room, err := roomID(env.Data)
		if err != nil {
			g.sendError(c, err.Error())
			return
		}
		switch env.Event {
		case EventJoinRoom:
			g.Join(room, c)
		case EventLeaveRoom:
			g.Leave(room, c)
		case EventTyping:
			g.Typing(room, c)
		case EventStopTyping:
			g.StopTyping(room, c)
		}

	case "":
		g.sendError(c, "malformed frame")

	default:
		g.sendError(c, "unknown event "+env.Event)
	}
}
