package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"realtime-chat/internal/chat"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/storage"
	"realtime-chat/internal/storage/zapadapter"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendQueueSize  = 64
)

var (
	ErrQueueFull = errors.New("send queue is full")
	ErrClosed    = errors.New("connection is closed")
)

type frameError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// frame is the envelope of every websocket message in both directions
type frame struct {
	Event string      `json:"event"`
	ID    string      `json:"id,omitempty"`
	Data  interface{} `json:"data,omitempty"`
	Error *frameError `json:"error,omitempty"`
}

// client is a live websocket connection of an authenticated user
type client struct {
	id     string
	user   int64
	conn   *websocket.Conn
	logger *zap.SugaredLogger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, user int64, logger *zap.SugaredLogger) *client {
	id := xid.New().String()
	return &client{
		id:     id,
		user:   user,
		conn:   conn,
		logger: logger.With("conn_id", id, "user", user),
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *client) ID() string { return c.id }

// Deliver queues the event without blocking, a slow client loses events instead of stalling senders
func (c *client) Deliver(e presence.Event) error {
	data, err := json.Marshal(frame{Event: e.Name, Data: e.Data})
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *client) reply(f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Errorf("Cannot marshal %s reply: %v", f.Event, err)
		return
	}
	if err := c.enqueue(data); err != nil {
		c.logger.Warnf("Reply %s dropped: %v", f.Event, err)
	}
}

func (c *client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debugf("Write failed: %v", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debugf("Ping failed: %v", err)
				c.close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// readPump dispatches incoming frames until the connection fails, then drops the presence entry
func (c *client) readPump(h *wsHandler) {
	defer func() {
		h.service.OnDisconnect(c.id)
		h.hub.remove(c)
		c.close()
		c.conn.Close()
		c.logger.Info("Websocket connection closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnf("Unexpected close: %v", err)
			}
			return
		}
		h.dispatch(c, data)
	}
}

// hub tracks open clients so shutdown can close hijacked connections
type hub struct {
	mu      sync.Mutex
	clients map[string]*client
}

func newHub() *hub {
	return &hub{clients: make(map[string]*client)}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

type wsHandler struct {
	logger       *zap.SugaredLogger
	service      *chat.Service
	auth         Authenticator
	upgrader     websocket.Upgrader
	hub          *hub
	frameTimeout time.Duration
	framePool    fastjson.ParserPool
}

// serveWS handles websocket upgrades on "/ws" endpoint
func (h *wsHandler) serveWS(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r)
	if err != nil {
		zapadapter.With(r.Context(), h.logger).Debugf("Authentication failed: %v", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already replied with an error
		zapadapter.With(r.Context(), h.logger).Debugf("Websocket upgrade failed: %v", err)
		return
	}

	c := newClient(conn, user, h.logger)
	h.hub.add(c)
	h.service.OnConnect(c, user)
	c.logger.Info("Websocket connection opened")

	go c.writePump()
	go c.readPump(h)
}

func errorFrame(id string, err error) frame {
	if isFieldError(err) {
		return frame{Event: "error", ID: id, Error: &frameError{Kind: chat.InvalidOperation.String(), Message: err.Error()}}
	}
	return frame{Event: "error", ID: id, Error: &frameError{Kind: chat.KindOf(err).String(), Message: publicMessage(err)}}
}

// dispatch handles one incoming frame and queues its reply
func (h *wsHandler) dispatch(c *client, data []byte) {
	parser := h.framePool.Get()
	defer h.framePool.Put(parser)

	v, err := parser.ParseBytes(data)
	if err != nil {
		c.reply(errorFrame("", fieldError("Malformed JSON")))
		return
	}

	event := string(v.GetStringBytes("event"))
	id := string(v.GetStringBytes("id"))
	payload := v.Get("data")
	if payload == nil || payload.Type() == fastjson.TypeNull {
		payload = fastjson.MustParse(`{}`)
	}

	ctx := zapadapter.NewContextWithConnID(context.Background(), c.id)
	ctx = zapadapter.NewContextWithID(ctx, xid.New().String())
	if h.frameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.frameTimeout)
		defer cancel()
	}

	result, err := h.handle(ctx, c, event, payload)
	if err != nil {
		if chat.KindOf(err) == chat.Unavailable && !isFieldError(err) {
			zapadapter.With(ctx, h.logger).Errorw("Frame failed", "event", event, "error", err)
		}
		c.reply(errorFrame(id, err))
		return
	}

	c.reply(frame{Event: event + ":ack", ID: id, Data: result})
}

func (h *wsHandler) handle(ctx context.Context, c *client, event string, v *fastjson.Value) (interface{}, error) {
	switch event {
	case "initiateChat":
		target, err := requiredID(v, "user")
		if err != nil {
			return nil, err
		}
		var initial *storage.NewMessage
		if hasMessage(v) {
			m, err := parseMessage(v)
			if err != nil {
				return nil, err
			}
			initial = &m
		}
		ch, msg, err := h.service.InitiateChat(ctx, c.user, target, initial)
		if err != nil {
			return nil, err
		}
		return initiateChatResponse{Chat: ch, Message: msg}, nil

	case "sendMessage":
		chatID, err := requiredID(v, "chat")
		if err != nil {
			return nil, err
		}
		m, err := parseMessage(v)
		if err != nil {
			return nil, err
		}
		return h.service.SendMessage(ctx, c.user, chatID, m)

	case "joinChat":
		chatID, err := requiredID(v, "chat")
		if err != nil {
			return nil, err
		}
		return h.service.JoinChat(ctx, c, c.user, chatID)

	case "leaveChat":
		h.service.LeaveChat(c.id)
		return struct{}{}, nil

	case "listConversations":
		return h.service.ListConversations(ctx, c.user)

	case "deleteMessage":
		chatID, err := requiredID(v, "chat")
		if err != nil {
			return nil, err
		}
		messageID, err := requiredID(v, "message")
		if err != nil {
			return nil, err
		}
		if _, err := h.service.DeleteMessage(ctx, c.user, chatID, messageID); err != nil {
			return nil, err
		}
		return chat.MessageDeleted{MessageID: messageID, ChatID: chatID, DeletedBy: c.user}, nil

	default:
		return nil, fieldError("Unknown event \"" + event + "\"")
	}
}
