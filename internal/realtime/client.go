// internal/realtime/client.go
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

// client is a Conn backed by a websocket. Writes go through a buffered
// queue drained by writePump; a full queue closes the connection.
type client struct {
	ws     *websocket.Conn
	userID uuid.UUID
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newClient(ws *websocket.Conn, userID uuid.UUID) *client {
	return &client{
		ws:     ws,
		userID: userID,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *client) UserID() uuid.UUID { return c.userID }

func (c *client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.Close()
		return ErrSlowConsumer
	}
}

func (c *client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// readPump feeds inbound frames to handle until the socket fails or the
// client is closed.
func (c *client) readPump(handle func(Envelope)) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			env = Envelope{}
		}
		handle(env)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
