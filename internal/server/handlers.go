package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"realtime-chat/internal/chat"
	"realtime-chat/internal/storage"
	"realtime-chat/internal/storage/zapadapter"
)

type parsers struct {
	initiateChatPool  fastjson.ParserPool
	createGroupPool   fastjson.ParserPool
	getChatPool       fastjson.ParserPool
	createMessagePool fastjson.ParserPool
	getMessagesPool   fastjson.ParserPool
	deleteMessagePool fastjson.ParserPool
}

type handler struct {
	logger  *zap.SugaredLogger
	service *chat.Service
	parsers parsers
}

// statusOf maps chat error kinds to HTTP status codes
func statusOf(err error) int {
	switch chat.KindOf(err) {
	case chat.NotFound:
		return http.StatusNotFound
	case chat.Forbidden:
		return http.StatusForbidden
	case chat.InvalidOperation:
		return http.StatusBadRequest
	case chat.Conflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// publicMessage is the client facing text of err, causes from lower layers are not exposed
func publicMessage(err error) string {
	var e *chat.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return http.StatusText(statusOf(err))
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if isFieldError(err) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status := statusOf(err)
	if status == http.StatusServiceUnavailable {
		zapadapter.With(r.Context(), h.logger).Error(err)
	}
	http.Error(w, publicMessage(err), status)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// parse reads the already validated body with a parser from pool, fn runs before the parser is returned
func parse(r *http.Request, pool *fastjson.ParserPool, fn func(v *fastjson.Value) error) error {
	body, _ := io.ReadAll(r.Body)

	parser := pool.Get()
	defer pool.Put(parser)
	v, err := parser.ParseBytes(body)
	if err != nil {
		return fieldError("Malformed JSON")
	}

	return fn(v)
}

func requestUser(r *http.Request) int64 {
	user, _ := userFromContext(r.Context())
	return user
}

type initiateChatResponse struct {
	Chat    storage.Chat     `json:"chat"`
	Message *storage.Message `json:"message"`
}

// initiateChat handles HTTP requests on "/chats/initiate" endpoint
func (h *handler) initiateChat(w http.ResponseWriter, r *http.Request) {
	var (
		target  int64
		initial *storage.NewMessage
	)
	err := parse(r, &h.parsers.initiateChatPool, func(v *fastjson.Value) error {
		var err error
		if target, err = requiredID(v, "user"); err != nil {
			return err
		}
		if hasMessage(v) {
			m, err := parseMessage(v)
			if err != nil {
				return err
			}
			initial = &m
		}
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	c, msg, err := h.service.InitiateChat(r.Context(), requestUser(r), target, initial)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, initiateChatResponse{Chat: c, Message: msg})
}

// createGroup handles HTTP requests on "/chats/group" endpoint
func (h *handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var (
		name  *string
		users []int64
	)
	err := parse(r, &h.parsers.createGroupPool, func(v *fastjson.Value) error {
		var err error
		if name, err = optionalString(v, "name"); err != nil {
			return err
		}
		users, err = requiredIDs(v, "users")
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.service.InitiateGroup(r.Context(), requestUser(r), name, users)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, c)
}

// getChat handles HTTP requests on "/chats/get" endpoint
func (h *handler) getChat(w http.ResponseWriter, r *http.Request) {
	var chatID int64
	err := parse(r, &h.parsers.getChatPool, func(v *fastjson.Value) error {
		var err error
		chatID, err = requiredID(v, "chat")
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.service.GetChat(r.Context(), requestUser(r), chatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

// listConversations handles HTTP requests on "/chats/list" endpoint
func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	chats, err := h.service.ListConversations(r.Context(), requestUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, chats)
}

// createMessage handles HTTP requests on "/messages/add" endpoint
func (h *handler) createMessage(w http.ResponseWriter, r *http.Request) {
	var (
		chatID int64
		m      storage.NewMessage
	)
	err := parse(r, &h.parsers.createMessagePool, func(v *fastjson.Value) error {
		var err error
		if chatID, err = requiredID(v, "chat"); err != nil {
			return err
		}
		m, err = parseMessage(v)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg, err := h.service.SendMessage(r.Context(), requestUser(r), chatID, m)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, msg)
}

// getMessages handles HTTP requests on "/messages/get" endpoint
func (h *handler) getMessages(w http.ResponseWriter, r *http.Request) {
	var chatID int64
	err := parse(r, &h.parsers.getMessagesPool, func(v *fastjson.Value) error {
		var err error
		chatID, err = requiredID(v, "chat")
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	messages, err := h.service.GetMessages(r.Context(), requestUser(r), chatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, messages)
}

// deleteMessage handles HTTP requests on "/messages/delete" endpoint
func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	var chatID, messageID int64
	err := parse(r, &h.parsers.deleteMessagePool, func(v *fastjson.Value) error {
		var err error
		if chatID, err = requiredID(v, "chat"); err != nil {
			return err
		}
		messageID, err = requiredID(v, "message")
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_, err = h.service.DeleteMessage(r.Context(), requestUser(r), chatID, messageID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	payload := []byte(`{"id":` + strconv.FormatInt(messageID, 10) + `}`)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// health handles HTTP requests on "/health" endpoint
func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
