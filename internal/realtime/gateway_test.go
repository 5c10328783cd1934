package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"rentalhub/internal/auth"
)

type fakeConn struct {
	user   uuid.UUID
	mu     sync.Mutex
	frames []Envelope
	full   bool
}

func newFakeConn(user uuid.UUID) *fakeConn { return &fakeConn{user: user} }

func (f *fakeConn) UserID() uuid.UUID { return f.user }

func (f *fakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return ErrSlowConsumer
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) events(name string) []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Envelope
	for _, e := range f.frames {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connect(g *Gateway, user uuid.UUID) *fakeConn {
	c := newFakeConn(user)
	g.Attach(c)
	g.Register(c)
	return c
}

func TestPresenceTwoConnections(t *testing.T) {
	g := NewGateway(NewPresence(), testLogger())
	observer := connect(g, uuid.New())

	user := uuid.New()
	first := connect(g, user)
	second := connect(g, user)
	assert.True(t, g.Presence().IsOnline(user))
	assert.Len(t, observer.events(EventUserOnline), 2, "observer sees its own and the user's online event")

	g.Detach(first)
	assert.True(t, g.Presence().IsOnline(user))
	assert.Empty(t, observer.events(EventUserOffline))

	g.Detach(second)
	g.Detach(second)
	assert.False(t, g.Presence().IsOnline(user))
	assert.Len(t, observer.events(EventUserOffline), 1)
}

func TestOnlineUsersSentOnlyToNewConnection(t *testing.T) {
	g := NewGateway(NewPresence(), testLogger())
	a := connect(g, uuid.New())
	b := connect(g, uuid.New())

	assert.Len(t, a.events(EventOnlineUsers), 1)
	require.Len(t, b.events(EventOnlineUsers), 1)

	var payload onlineUsersPayload
	require.NoError(t, json.Unmarshal(b.events(EventOnlineUsers)[0].Data, &payload))
	assert.ElementsMatch(t, []uuid.UUID{a.UserID(), b.UserID()}, payload.UserIDs)
}

func TestRegisterAsAnotherUserFails(t *testing.T) {
	g := NewGateway(NewPresence(), testLogger())
	c := newFakeConn(uuid.New())
	g.Attach(c)

	data, _ := json.Marshal(uuid.New().String())
	g.Handle(c, Envelope{Event: EventRegisterUser, Data: data})

	assert.Len(t, c.events(EventError), 1)
	assert.False(t, g.Presence().IsOnline(c.UserID()))

	data, _ = json.Marshal(map[string]string{"userId": c.UserID().String()})
	g.Handle(c, Envelope{Event: EventRegisterUser, Data: data})
	assert.True(t, g.Presence().IsOnline(c.UserID()))
}

func TestTypingExcludesSender(t *testing.T) {
	g := NewGateway(NewPresence(), testLogger())
	sender := connect(g, uuid.New())
	other := connect(g, uuid.New())
	outsider := connect(g, uuid.New())

	room, _ := json.Marshal("conv-1")
	g.Handle(sender, Envelope{Event: EventJoinRoom, Data: room})
	g.Handle(other, Envelope{Event: EventJoinRoom, Data: room})

	typing, _ := json.Marshal(map[string]string{"roomId": "conv-1", "userId": sender.UserID().String()})
	g.Handle(sender, Envelope{Event: EventTyping, Data: typing})
	g.Handle(sender, Envelope{Event: EventStopTyping, Data: typing})

	assert.Empty(t, sender.events(EventUserTyping))
	assert.Empty(t, outsider.events(EventUserTyping))
	require.Len(t, other.events(EventUserTyping), 1)
	assert.Len(t, other.events(EventUserStopTyping), 1)

	var payload typingPayload
	require.NoError(t, json.Unmarshal(other.events(EventUserTyping)[0].Data, &payload))
	assert.Equal(t, "conv-1", payload.RoomID)
	assert.Equal(t, sender.UserID(), payload.UserID)
}

func TestTypingFromNonMemberDropped(t *testing.T) {
	g := NewGateway(NewPresence(), testLogger())
	member := connect(g, uuid.New())
	outsider := connect(g, uuid.New())
	g.Join("conv-3", member)

	typing, _ := json.Marshal("conv-3")
	g.Handle(outsider, Envelope{Event: EventTyping, Data: typing})
	g.Handle(outsider, Envelope{Event: EventStopTyping, Data: typing})
	assert.Empty(t, member.events(EventUserTyping))
	assert.Empty(t, member.events(EventUserStopTyping))

	g.Handle(outsider, Envelope{Event: EventJoinRoom, Data: typing})
	g.Handle(outsider, Envelope{Event: EventTyping, Data: typing})
	assert.Len(t, member.events(EventUserTyping), 1)

	g.Handle(outsider, Envelope{Event: EventLeaveRoom, Data: typing})
	g.Handle(outsider, Envelope{Event: EventTyping, Data: typing})
	assert.Len(t, member.events(EventUserTyping), 1)
}

func TestRelayMessageIncludesSender(t *testing.T) {
	g := NewGateway(NewPresence(), testLogger())
	sender := connect(g, uuid.New())
	other := connect(g, uuid.New())
	g.Join("conv-2", sender)
	g.Join("conv-2", other)

	delivered := g.RelayMessage("conv-2", json.RawMessage(`{"text":"hi"}`))
	assert.Equal(t, 2, delivered)
	assert.Len(t, sender.events(EventReceiveMessage), 1)
	assert.Len(t, other.events(EventReceiveMessage), 1)

	g.Leave("conv-2", other)
	assert.Equal(t, 1, g.RelayMessage("conv-2", json.RawMessage(`{"text":"again"}`)))
}

func TestEmitToUser(t *testing.T) {
	g := NewGateway(NewPresence(), testLogger())
	user := uuid.New()
	phone := connect(g, user)
	laptop := connect(g, user)
	stranger := connect(g, uuid.New())

	require.NoError(t, g.EmitToUser(user, "notification", map[string]string{"title": "hello"}))
	assert.Len(t, phone.events("notification"), 1)
	assert.Len(t, laptop.events("notification"), 1)
	assert.Empty(t, stranger.events("notification"))

	assert.NoError(t, g.EmitToUser(uuid.New(), "notification", nil), "offline user is not an error")

	laptop.mu.Lock()
	laptop.full = true
	laptop.mu.Unlock()
	assert.ErrorIs(t, g.EmitToUser(user, "notification", nil), ErrSlowConsumer)
}

func TestUnknownEvent(t *testing.T) {
	g := NewGateway(NewPresence(), testLogger())
	c := connect(g, uuid.New())
	g.Handle(c, Envelope{Event: "dance"})
	g.Handle(c, Envelope{})
	assert.Len(t, c.events(EventError), 2)
}

func TestPresenceProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := NewPresence()
		users := []uuid.UUID{uuid.New(), uuid.New()}
		conns := make([]*fakeConn, 4)
		for i := range conns {
			conns[i] = newFakeConn(users[i%2])
		}
		live := map[*fakeConn]bool{}
		offline := map[uuid.UUID]int{}
		online := map[uuid.UUID]int{}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			c := conns[rapid.IntRange(0, len(conns)-1).Draw(t, "conn")]
			if rapid.Bool().Draw(t, "register") {
				if p.Register(c.user, c) {
					online[c.user]++
				}
				live[c] = true
			} else {
				if p.Unregister(c.user, c) {
					offline[c.user]++
				}
				delete(live, c)
			}

			for _, u := range users {
				expected := false
				for lc := range live {
					if lc.user == u {
						expected = true
					}
				}
				if p.IsOnline(u) != expected {
					t.Fatalf("user %s online=%v, expected %v", u, p.IsOnline(u), expected)
				}
				// every offline transition follows exactly one online transition
				diff := online[u] - offline[u]
				if expected && diff != 1 || !expected && diff != 0 {
					t.Fatalf("user %s online=%d offline=%d transitions", u, online[u], offline[u])
				}
			}
		}
	})
}

func TestServeWSRoundTrip(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")
	g := NewGateway(NewPresence(), testLogger())
	h := NewHandler(g, verifier, testLogger())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	user := uuid.New()
	token, err := verifier.Sign(auth.Identity{ID: user}, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"event": EventRegisterUser, "data": user.String()}))

	seen := map[string]bool{}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !seen[EventOnlineUsers] {
		var env Envelope
		require.NoError(t, ws.ReadJSON(&env))
		seen[env.Event] = true
	}
	assert.True(t, seen[EventUserOnline])
	assert.True(t, g.Presence().IsOnline(user))

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
