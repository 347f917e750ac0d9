package chat

import (
	"context"
	"sort"

	"realtime-chat/internal/storage"
)

// Listing builds conversation lists and message histories
type Listing struct {
	store Store
}

func NewListing(store Store) *Listing {
	return &Listing{store: store}
}

// ListConversations returns every live chat the user participates in with its peers
// and its newest live message, most recently active first
func (l *Listing) ListConversations(ctx context.Context, user int64) ([]storage.ChatSummary, error) {
	chats, err := l.store.ChatsByUserID(ctx, user)
	if err != nil {
		return nil, fromStore(err)
	}
	if chats == nil {
		chats = []storage.ChatSummary{}
	}

	SortByRecency(chats)
	return chats, nil
}

// SortByRecency orders chats by their newest message time descending, chats without
// messages go last, ties are broken by higher chat id first
func SortByRecency(chats []storage.ChatSummary) {
	sort.SliceStable(chats, func(i, j int) bool {
		ti, tj := chats[i].Recent.Time, chats[j].Recent.Time
		switch {
		case ti != nil && tj != nil && !ti.Equal(*tj):
			return ti.After(*tj)
		case ti != nil && tj == nil:
			return true
		case ti == nil && tj != nil:
			return false
		}
		return chats[i].ID > chats[j].ID
	})
}

// GetMessages returns live messages of the chat newest first, the user has to be a participant
func (l *Listing) GetMessages(ctx context.Context, user, chatID int64) ([]storage.Message, error) {
	chat, err := l.store.ChatByID(ctx, chatID)
	if err != nil {
		return nil, fromStore(err)
	}
	if !chat.HasParticipant(user) {
		return nil, newError(Forbidden, "User (%d) is not a participant of chat (%d)", user, chatID)
	}

	msgs, err := l.store.MessagesByChatID(ctx, chatID, true)
	if err != nil {
		return nil, fromStore(err)
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	return msgs, nil
}
