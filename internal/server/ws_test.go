package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtime-chat/internal/chat"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/storage"
)

type testFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
	Error *frameError     `json:"error"`
}

func dial(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event, id string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": event, "id": id, "data": data}))
}

func read(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f testFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// roundTrip sends a frame and waits for its reply, the reply also proves the connection is registered
func roundTrip(t *testing.T, conn *websocket.Conn, event, id string, data interface{}) testFrame {
	t.Helper()
	send(t, conn, event, id, data)
	return read(t, conn)
}

func TestWebsocketUnauthorized(t *testing.T) {
	e := bootstrap(t)
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Equal(t, websocket.ErrBadHandshake, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebsocketFanOut(t *testing.T) {
	e := bootstrap(t)
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()
	a, b := e.users[0], e.users[1]

	alice := dial(t, ts, e.token(t, a))
	phone := dial(t, ts, e.token(t, b))
	laptop := dial(t, ts, e.token(t, b))

	reply := roundTrip(t, alice, "initiateChat", "1", map[string]interface{}{"user": b})
	require.Equal(t, "initiateChat:ack", reply.Event)
	require.Equal(t, "1", reply.ID)
	var initiated initiateChatResponse
	require.NoError(t, json.Unmarshal(reply.Data, &initiated))
	chatID := initiated.Chat.ID

	for _, c := range []*websocket.Conn{phone, laptop} {
		reply = roundTrip(t, c, "listConversations", "2", nil)
		require.Equal(t, "listConversations:ack", reply.Event)
	}

	reply = roundTrip(t, alice, "sendMessage", "3", map[string]interface{}{"chat": chatID, "text": "hello"})
	require.Equal(t, "sendMessage:ack", reply.Event)
	var sent storage.Message
	require.NoError(t, json.Unmarshal(reply.Data, &sent))
	require.Equal(t, a, sent.Sender)

	for _, c := range []*websocket.Conn{phone, laptop} {
		f := read(t, c)
		require.Equal(t, chat.EventNewMessage, f.Event)
		var got storage.Message
		require.NoError(t, json.Unmarshal(f.Data, &got))
		require.Equal(t, sent.ID, got.ID)
		require.Equal(t, "hello", *got.Body)
	}

	// the requester's own connection is told about the deletion too, ahead of the ack
	send(t, alice, "deleteMessage", "4", map[string]interface{}{"chat": chatID, "message": sent.ID})
	events := []string{read(t, alice).Event, read(t, alice).Event}
	require.ElementsMatch(t, []string{chat.EventMessageDeleted, "deleteMessage:ack"}, events)

	for _, c := range []*websocket.Conn{phone, laptop} {
		f := read(t, c)
		require.Equal(t, chat.EventMessageDeleted, f.Event)
		var got chat.MessageDeleted
		require.NoError(t, json.Unmarshal(f.Data, &got))
		require.Equal(t, chat.MessageDeleted{MessageID: sent.ID, ChatID: chatID, DeletedBy: a}, got)
	}
}

func TestWebsocketJoinAndErrors(t *testing.T) {
	e := bootstrap(t)
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()
	a, b, c := e.users[0], e.users[1], e.users[2]

	alice := dial(t, ts, e.token(t, a))
	carol := dial(t, ts, e.token(t, c))

	reply := roundTrip(t, alice, "initiateChat", "1", map[string]interface{}{"user": b, "text": "first"})
	require.Equal(t, "initiateChat:ack", reply.Event)
	var initiated initiateChatResponse
	require.NoError(t, json.Unmarshal(reply.Data, &initiated))
	require.NotNil(t, initiated.Message)

	reply = roundTrip(t, alice, "joinChat", "2", map[string]interface{}{"chat": initiated.Chat.ID})
	require.Equal(t, "joinChat:ack", reply.Event)
	var history []storage.Message
	require.NoError(t, json.Unmarshal(reply.Data, &history))
	require.Len(t, history, 1)

	reply = roundTrip(t, carol, "joinChat", "3", map[string]interface{}{"chat": initiated.Chat.ID})
	require.Equal(t, "error", reply.Event)
	require.Equal(t, "3", reply.ID)
	require.Equal(t, "Forbidden", reply.Error.Kind)

	reply = roundTrip(t, carol, "sendMessage", "4", map[string]interface{}{"chat": initiated.Chat.ID + 100, "text": "x"})
	require.Equal(t, "NotFound", reply.Error.Kind)

	reply = roundTrip(t, carol, "initiateChat", "5", map[string]interface{}{"user": c})
	require.Equal(t, "InvalidOperation", reply.Error.Kind)

	reply = roundTrip(t, carol, "dance", "6", nil)
	require.Equal(t, "InvalidOperation", reply.Error.Kind)
	require.Equal(t, `Unknown event "dance"`, reply.Error.Message)

	reply = roundTrip(t, carol, "sendMessage", "7", map[string]interface{}{"text": "x"})
	require.Equal(t, `Missing Field "chat"`, reply.Error.Message)

	require.NoError(t, carol.WriteMessage(websocket.TextMessage, []byte(`{"event":`)))
	reply = read(t, carol)
	require.Equal(t, "Malformed JSON", reply.Error.Message)

	reply = roundTrip(t, alice, "leaveChat", "8", nil)
	require.Equal(t, "leaveChat:ack", reply.Event)
	require.False(t, e.registry.IsOnline(a))
}

func TestWebsocketDisconnectUnregisters(t *testing.T) {
	e := bootstrap(t)
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()
	b := e.users[1]

	bob := dial(t, ts, e.token(t, b))
	roundTrip(t, bob, "listConversations", "1", nil)
	require.True(t, e.registry.IsOnline(b))

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool { return !e.registry.IsOnline(b) }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return e.srv.ws.hub.len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestClientDeliverQueue(t *testing.T) {
	c := newClient(nil, 1, zap.NewNop().Sugar())

	for i := 0; i < sendQueueSize; i++ {
		require.NoError(t, c.Deliver(presence.Event{Name: chat.EventNewMessage, Data: i}))
	}
	require.Equal(t, ErrQueueFull, c.Deliver(presence.Event{Name: chat.EventNewMessage}))

	data := <-c.send
	require.Equal(t, `{"event":"newMessage","data":0}`, string(data))

	c.close()
	c.close()
	require.Equal(t, ErrClosed, c.Deliver(presence.Event{Name: chat.EventNewMessage}))
}

func TestShutdownClosesConnections(t *testing.T) {
	e := bootstrap(t)
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()

	closed := false
	e.srv.afterShutdown = append(e.srv.afterShutdown, func() { closed = true })

	conn := dial(t, ts, e.token(t, e.users[0]))
	roundTrip(t, conn, "listConversations", "1", nil)

	e.srv.Shutdown()
	require.True(t, closed)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), strconv.Quote(err.Error()))
}
