package chat

import (
	"context"

	"go.uber.org/zap"

	"realtime-chat/internal/presence"
	"realtime-chat/internal/storage"
)

// Service is the entry point transports call for every chat operation
type Service struct {
	presence Presence

	Sessions *Sessions
	Router   *Router
	Listing  *Listing
	Deletion *Deletion
}

// NewService wires the chat components around one store and one presence registry
func NewService(logger *zap.SugaredLogger, store Store, blocks BlockRegistry, registry Presence, notifier Notifier) *Service {
	router := NewRouter(logger, store, registry, notifier)
	return &Service{
		presence: registry,
		Sessions: NewSessions(logger, store, blocks, router),
		Router:   router,
		Listing:  NewListing(store),
		Deletion: NewDeletion(logger, store, registry),
	}
}

// OnConnect registers the authenticated connection so it starts receiving events
func (s *Service) OnConnect(conn presence.Conn, user int64) {
	s.presence.Register(conn, user)
}

func (s *Service) OnDisconnect(connID string) {
	s.presence.Unregister(connID)
}

func (s *Service) InitiateChat(ctx context.Context, user, target int64, initial *storage.NewMessage) (storage.Chat, *storage.Message, error) {
	return s.Sessions.InitiatePrivate(ctx, user, target, initial)
}

func (s *Service) InitiateGroup(ctx context.Context, user int64, name *string, members []int64) (storage.Chat, error) {
	return s.Sessions.InitiateGroup(ctx, user, name, members)
}

func (s *Service) SendMessage(ctx context.Context, user, chatID int64, m storage.NewMessage) (storage.Message, error) {
	return s.Router.Send(ctx, user, chatID, m)
}

// JoinChat returns the chat history and registers conn for the user when the user may read it
func (s *Service) JoinChat(ctx context.Context, conn presence.Conn, user, chatID int64) ([]storage.Message, error) {
	msgs, err := s.Listing.GetMessages(ctx, user, chatID)
	if err != nil {
		return nil, err
	}
	s.presence.Register(conn, user)
	return msgs, nil
}

// LeaveChat drops the presence entry of the connection
func (s *Service) LeaveChat(connID string) {
	s.presence.Unregister(connID)
}

func (s *Service) ListConversations(ctx context.Context, user int64) ([]storage.ChatSummary, error) {
	return s.Listing.ListConversations(ctx, user)
}

func (s *Service) GetMessages(ctx context.Context, user, chatID int64) ([]storage.Message, error) {
	return s.Listing.GetMessages(ctx, user, chatID)
}

func (s *Service) DeleteMessage(ctx context.Context, user, chatID, messageID int64) (storage.Message, error) {
	return s.Deletion.Delete(ctx, user, chatID, messageID)
}

// GetChat returns the chat when the user participates in it
func (s *Service) GetChat(ctx context.Context, user, chatID int64) (storage.Chat, error) {
	chat, err := s.Sessions.FindByID(ctx, chatID)
	if err != nil {
		return storage.Chat{}, err
	}
	if !chat.HasParticipant(user) {
		return storage.Chat{}, newError(Forbidden, "User (%d) is not a participant of chat (%d)", user, chatID)
	}
	return chat, nil
}
