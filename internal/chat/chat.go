// Package chat implements private chat initiation, message routing to live connections,
// conversation listing and message deletion on top of a conversation store.
package chat

import (
	"context"

	"realtime-chat/internal/presence"
	"realtime-chat/internal/storage"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks realtime-chat/internal/chat BlockRegistry,Notifier

// Names of events pushed to live connections
const (
	EventNewMessage     = "newMessage"
	EventMessageDeleted = "messageDeleted"
)

// Store is the conversation store the chat components persist through
type Store interface {
	FindPrivateChat(ctx context.Context, a, b int64) (storage.Chat, error)
	CreatePrivateChat(ctx context.Context, creator, peer int64, initial *storage.NewMessage) (storage.Chat, *storage.Message, error)
	CreateGroupChat(ctx context.Context, creator int64, name *string, members []int64) (storage.Chat, error)
	ChatByID(ctx context.Context, id int64) (storage.Chat, error)
	CreateMessage(ctx context.Context, m storage.NewMessage) (storage.Message, error)
	MessagesByChatID(ctx context.Context, chat int64, excludeDeleted bool) ([]storage.Message, error)
	SoftDeleteMessage(ctx context.Context, id, chat, sender int64) (storage.Message, error)
	ChatsByUserID(ctx context.Context, user int64) ([]storage.ChatSummary, error)
}

// BlockRegistry answers whether two users blocked each other in either direction
type BlockRegistry interface {
	IsBlocked(ctx context.Context, a, b int64) (bool, error)
}

// Notifier hands messages for recipients without a live connection to the notification subsystem
type Notifier interface {
	MessageCreated(ctx context.Context, msg storage.Message, offline []int64) error
}

// Presence is the part of presence.Registry the chat components use
type Presence interface {
	Register(conn presence.Conn, userID int64)
	Unregister(connID string)
	ConnectionsFor(userID int64) []presence.Conn
}

// MessageDeleted is the payload of EventMessageDeleted
type MessageDeleted struct {
	MessageID int64 `json:"messageId"`
	ChatID    int64 `json:"chatId"`
	DeletedBy int64 `json:"deletedBy"`
}
