package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"realtime-chat/internal/storage"
	"realtime-chat/internal/storage/zapadapter"
)

// Sessions creates and looks up chats. At most one live private chat exists per unordered user pair.
type Sessions struct {
	logger *zap.SugaredLogger
	store  Store
	blocks BlockRegistry
	router *Router
	locks  *pairLocks
}

func NewSessions(logger *zap.SugaredLogger, store Store, blocks BlockRegistry, router *Router) *Sessions {
	return &Sessions{
		logger: logger,
		store:  store,
		blocks: blocks,
		router: router,
		locks:  newPairLocks(),
	}
}

// InitiatePrivate returns the private chat between requester and target, creating it when absent.
// The initial message, if any, is stored in the same transaction as a new chat or sent
// as a regular message into an existing one. The returned message is nil without initial.
func (s *Sessions) InitiatePrivate(ctx context.Context, requester, target int64, initial *storage.NewMessage) (storage.Chat, *storage.Message, error) {
	if requester <= 0 || target <= 0 {
		return storage.Chat{}, nil, newError(InvalidOperation, "User ids must be greater than zero")
	}
	if requester == target {
		return storage.Chat{}, nil, newError(InvalidOperation, "Cannot start a chat with yourself")
	}

	var first *storage.NewMessage
	if initial != nil {
		m := *initial
		m.Sender = requester
		if err := normalizeMessage(&m); err != nil {
			return storage.Chat{}, nil, err
		}
		first = &m
	}

	blocked, err := s.blocks.IsBlocked(ctx, requester, target)
	if err != nil {
		return storage.Chat{}, nil, &Error{Kind: Unavailable, Message: "Block registry is unavailable", Err: err}
	}
	if blocked {
		return storage.Chat{}, nil, newError(Forbidden, "Users (%d, %d) are blocked", requester, target)
	}

	chat, msg, created, err := s.resolvePrivate(ctx, requester, target, first)
	if err != nil {
		return storage.Chat{}, nil, err
	}

	logger := zapadapter.With(ctx, s.logger)
	switch {
	case created && msg != nil:
		s.router.fanOut(ctx, chat, *msg)
	case !created && first != nil:
		sent, err := s.router.send(ctx, chat, *first)
		if err != nil {
			return storage.Chat{}, nil, err
		}
		msg = &sent
	}

	if created {
		logger.Infof("Private chat (%d) created between users (%d, %d)", chat.ID, requester, target)
	} else {
		logger.Debugf("Private chat (%d) between users (%d, %d) already exists", chat.ID, requester, target)
	}

	return chat, msg, nil
}

// resolvePrivate finds or creates the pair's chat while holding the pair lock.
// A unique violation means another process won the race, its chat is read back.
func (s *Sessions) resolvePrivate(ctx context.Context, a, b int64, initial *storage.NewMessage) (storage.Chat, *storage.Message, bool, error) {
	unlock := s.locks.lock(a, b)
	defer unlock()

	chat, err := s.store.FindPrivateChat(ctx, a, b)
	if err == nil {
		return chat, nil, false, nil
	}
	if !errors.Is(err, storage.ErrChatNotExist) {
		return storage.Chat{}, nil, false, fromStore(err)
	}

	chat, msg, err := s.store.CreatePrivateChat(ctx, a, b, initial)
	switch {
	case err == nil:
		return chat, msg, true, nil
	case errors.Is(err, storage.ErrChatExists):
		chat, err = s.store.FindPrivateChat(ctx, a, b)
		if err != nil {
			return storage.Chat{}, nil, false, &Error{Kind: Conflict, Message: "Concurrent chat creation could not be resolved", Err: err}
		}
		return chat, nil, false, nil
	default:
		return storage.Chat{}, nil, false, fromStore(err)
	}
}

// InitiateGroup creates a group chat of the creator and members, duplicates are dropped
func (s *Sessions) InitiateGroup(ctx context.Context, creator int64, name *string, members []int64) (storage.Chat, error) {
	if creator <= 0 {
		return storage.Chat{}, newError(InvalidOperation, "User ids must be greater than zero")
	}

	users := []int64{creator}
	seen := map[int64]bool{creator: true}
	for _, m := range members {
		if m <= 0 {
			return storage.Chat{}, newError(InvalidOperation, "User ids must be greater than zero")
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		users = append(users, m)
	}
	if len(users) < 2 {
		return storage.Chat{}, newError(InvalidOperation, "Group chat needs at least one member besides creator")
	}

	for _, m := range users[1:] {
		blocked, err := s.blocks.IsBlocked(ctx, creator, m)
		if err != nil {
			return storage.Chat{}, &Error{Kind: Unavailable, Message: "Block registry is unavailable", Err: err}
		}
		if blocked {
			return storage.Chat{}, newError(Forbidden, "Users (%d, %d) are blocked", creator, m)
		}
	}

	chat, err := s.store.CreateGroupChat(ctx, creator, name, users)
	if err != nil {
		return storage.Chat{}, fromStore(err)
	}

	zapadapter.With(ctx, s.logger).Infof("Group chat (%d) created by user (%d) with %d participants", chat.ID, creator, len(users))
	return chat, nil
}

// FindByID returns the live chat with its participants
func (s *Sessions) FindByID(ctx context.Context, id int64) (storage.Chat, error) {
	chat, err := s.store.ChatByID(ctx, id)
	if err != nil {
		return storage.Chat{}, fromStore(err)
	}
	return chat, nil
}
