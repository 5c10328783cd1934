// internal/realtime/domain.go
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Client to server events.
const (
	EventRegisterUser   = "register_user"
	EventGetOnlineUsers = "get_online_users"
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventTyping         = "typing"
	EventStopTyping     = "stop_typing"
)

// Server to client events.
const (
	EventOnlineUsers    = "online_users"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventReceiveMessage = "receive_message"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventError          = "error"
)

var (
	ErrSlowConsumer = errors.New("connection send queue is full")
	ErrClosed       = errors.New("connection closed")
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one live client connection. Send must not block.
type Conn interface {
	UserID() uuid.UUID
	Send(frame []byte) error
	Close() error
}

// Encode builds a frame for event with payload as data.
func Encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

type userPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type onlineUsersPayload struct {
	UserIDs []uuid.UUID `json:"userIds"`
}

type typingPayload struct {
	RoomID string    `json:"roomId"`
	UserID uuid.UUID `json:"userId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// roomID accepts either a bare JSON string or an object with a roomId field.
func roomID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var obj struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", errors.New("room id must be a string or {roomId}")
		}
		id = obj.RoomID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("room id is required")
	}
	return id, nil
}

// userID accepts either a bare JSON string or an object with a userId field.
func userID(data json.RawMessage) (uuid.UUID, error) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var obj struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return uuid.Nil, errors.New("user id must be a string or {userId}")
		}
		raw = obj.UserID
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid user id")
	}
	return id, nil
}
