package chat

import (
	"context"

	"go.uber.org/zap"

	"realtime-chat/internal/presence"
	"realtime-chat/internal/storage"
	"realtime-chat/internal/storage/zapadapter"
)

// Deletion soft-deletes messages on behalf of their senders
type Deletion struct {
	logger   *zap.SugaredLogger
	store    Store
	presence Presence
}

func NewDeletion(logger *zap.SugaredLogger, store Store, registry Presence) *Deletion {
	return &Deletion{
		logger:   logger,
		store:    store,
		presence: registry,
	}
}

// Delete marks the message deleted when it belongs to the chat and was sent by requester,
// then tells every live connection of the chat participants. Notification is best effort.
func (d *Deletion) Delete(ctx context.Context, requester, chatID, messageID int64) (storage.Message, error) {
	if messageID <= 0 || chatID <= 0 {
		return storage.Message{}, newError(InvalidOperation, "Ids must be greater than zero")
	}

	msg, err := d.store.SoftDeleteMessage(ctx, messageID, chatID, requester)
	if err != nil {
		return storage.Message{}, fromStore(err)
	}

	logger := zapadapter.With(ctx, d.logger)
	logger.Infof("Message (%d) of chat (%d) deleted by user (%d)", messageID, chatID, requester)

	chat, err := d.store.ChatByID(ctx, chatID)
	if err != nil {
		logger.Warnw("Deletion notification skipped", "message", messageID, "error", err)
		return msg, nil
	}

	event := presence.Event{
		Name: EventMessageDeleted,
		Data: MessageDeleted{MessageID: messageID, ChatID: chatID, DeletedBy: requester},
	}
	for _, p := range chat.Participants {
		for _, c := range d.presence.ConnectionsFor(p.User) {
			if err := c.Deliver(event); err != nil {
				logger.Warnw("Deletion delivery failed",
					"message", messageID,
					"user", p.User,
					"conn", c.ID(),
					"error", err,
				)
			}
		}
	}

	return msg, nil
}
