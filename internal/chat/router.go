package chat

import (
	"context"

	"go.uber.org/zap"

	"realtime-chat/internal/presence"
	"realtime-chat/internal/storage"
	"realtime-chat/internal/storage/zapadapter"
)

// Router persists messages and pushes them to every live connection of the other participants
type Router struct {
	logger   *zap.SugaredLogger
	store    Store
	presence Presence
	notifier Notifier
}

// NewRouter returns a Router, notifier may be nil when offline recipients need no notification
func NewRouter(logger *zap.SugaredLogger, store Store, registry Presence, notifier Notifier) *Router {
	return &Router{
		logger:   logger,
		store:    store,
		presence: registry,
		notifier: notifier,
	}
}

// Send stores the message from sender in the chat and fans it out.
// Delivery failures are logged and never fail the call once the message is stored.
func (r *Router) Send(ctx context.Context, sender, chatID int64, m storage.NewMessage) (storage.Message, error) {
	chat, err := r.store.ChatByID(ctx, chatID)
	if err != nil {
		return storage.Message{}, fromStore(err)
	}
	if !chat.HasParticipant(sender) {
		return storage.Message{}, newError(Forbidden, "User (%d) is not a participant of chat (%d)", sender, chatID)
	}

	m.Sender = sender
	return r.send(ctx, chat, m)
}

func (r *Router) send(ctx context.Context, chat storage.Chat, m storage.NewMessage) (storage.Message, error) {
	m.Chat = chat.ID
	if err := normalizeMessage(&m); err != nil {
		return storage.Message{}, err
	}

	msg, err := r.store.CreateMessage(ctx, m)
	if err != nil {
		return storage.Message{}, fromStore(err)
	}

	r.fanOut(ctx, chat, msg)
	return msg, nil
}

// fanOut delivers msg to all connections of all participants except the sender
func (r *Router) fanOut(ctx context.Context, chat storage.Chat, msg storage.Message) {
	logger := zapadapter.With(ctx, r.logger)
	event := presence.Event{Name: EventNewMessage, Data: msg}

	var offline []int64
	delivered := 0
	for _, p := range chat.Participants {
		if p.User == msg.Sender {
			continue
		}

		conns := r.presence.ConnectionsFor(p.User)
		if len(conns) == 0 {
			offline = append(offline, p.User)
			continue
		}
		for _, c := range conns {
			if err := c.Deliver(event); err != nil {
				logger.Warnw("Message delivery failed",
					"message", msg.ID,
					"user", p.User,
					"conn", c.ID(),
					"error", err,
				)
				continue
			}
			delivered++
		}
	}

	logger.Debugf("Message (%d) of chat (%d) delivered to %d connections, %d participants offline",
		msg.ID, chat.ID, delivered, len(offline))

	if len(offline) == 0 || r.notifier == nil {
		return
	}
	// the message is committed, a caller going away must not cancel the hand-off
	if err := r.notifier.MessageCreated(context.WithoutCancel(ctx), msg, offline); err != nil {
		logger.Warnw("Offline notification failed", "message", msg.ID, "users", offline, "error", err)
	}
}
