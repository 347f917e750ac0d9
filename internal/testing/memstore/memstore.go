// Package memstore is an in-memory conversation store with the semantics of storage.Store,
// used by tests of packages above storage.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"realtime-chat/internal/storage"
)

type pairKey [2]int64

func pair(a, b int64) pairKey {
	if a < b {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}

// Store keeps users, blocks, chats and messages in maps guarded by a single mutex
type Store struct {
	mu sync.Mutex

	clock time.Time
	seq   int64

	users    map[int64]storage.User
	blocks   map[pairKey]struct{}
	chats    map[int64]storage.Chat
	private  map[pairKey]int64
	messages []storage.Message
}

func New() *Store {
	return &Store{
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		users:   make(map[int64]storage.User),
		blocks:  make(map[pairKey]struct{}),
		chats:   make(map[int64]storage.Chat),
		private: make(map[pairKey]int64),
	}
}

// next returns a fresh id and a timestamp strictly later than every previous one
func (s *Store) next() (int64, time.Time) {
	s.seq++
	s.clock = s.clock.Add(time.Millisecond)
	return s.seq, s.clock
}

func (s *Store) CreateUser(_ context.Context, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return 0, storage.ErrUserExists
		}
	}
	id, now := s.next()
	s.users[id] = storage.User{ID: id, Username: username, CreatedAt: now}
	return id, nil
}

func (s *Store) CreateBlock(_ context.Context, blocker, blocked int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[pair(blocker, blocked)] = struct{}{}
	return nil
}

func (s *Store) IsBlocked(_ context.Context, a, b int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.blocks[pair(a, b)]
	return ok, nil
}

func (s *Store) FindPrivateChat(_ context.Context, a, b int64) (storage.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.private[pair(a, b)]
	if !ok {
		return storage.Chat{}, storage.ErrChatNotExist
	}
	return s.chatLocked(id)
}

func (s *Store) CreatePrivateChat(_ context.Context, creator, peer int64, initial *storage.NewMessage) (storage.Chat, *storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair(creator, peer)
	if _, ok := s.private[key]; ok {
		return storage.Chat{}, nil, storage.ErrChatExists
	}
	if creator == peer {
		return storage.Chat{}, nil, storage.ErrChatBadUsers
	}

	chat, err := s.createChatLocked(storage.ChatPrivate, nil, creator, []int64{creator, peer})
	if err != nil {
		return storage.Chat{}, nil, err
	}

	var first *storage.Message
	if initial != nil {
		m := *initial
		m.Chat = chat.ID
		msg, err := s.insertMessageLocked(m)
		if err != nil {
			delete(s.chats, chat.ID)
			return storage.Chat{}, nil, err
		}
		first = &msg
	}

	s.private[key] = chat.ID
	return chat, first, nil
}

func (s *Store) CreateGroupChat(_ context.Context, creator int64, name *string, members []int64) (storage.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createChatLocked(storage.ChatGroup, name, creator, members)
}

func (s *Store) createChatLocked(kind storage.ChatKind, name *string, creator int64, members []int64) (storage.Chat, error) {
	if _, ok := s.users[creator]; !ok {
		return storage.Chat{}, storage.ErrUserNotExist
	}
	seen := make(map[int64]bool, len(members))
	for _, m := range members {
		if _, ok := s.users[m]; !ok || seen[m] {
			return storage.Chat{}, storage.ErrChatBadUsers
		}
		seen[m] = true
	}

	id, now := s.next()
	chat := storage.Chat{ID: id, Kind: kind, Name: name, Creator: creator, CreatedAt: now}
	for _, m := range members {
		chat.Participants = append(chat.Participants, storage.Participant{Chat: id, User: m, JoinedAt: now})
	}
	s.chats[id] = chat
	return copyChat(chat), nil
}

func copyChat(c storage.Chat) storage.Chat {
	c.Participants = append([]storage.Participant(nil), c.Participants...)
	return c
}

func (s *Store) chatLocked(id int64) (storage.Chat, error) {
	c, ok := s.chats[id]
	if !ok || c.DeletedAt != nil {
		return storage.Chat{}, storage.ErrChatNotExist
	}
	return copyChat(c), nil
}

func (s *Store) ChatByID(_ context.Context, id int64) (storage.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chatLocked(id)
}

func (s *Store) insertMessageLocked(m storage.NewMessage) (storage.Message, error) {
	chat, err := s.chatLocked(m.Chat)
	if err != nil {
		return storage.Message{}, storage.ErrUserNotChatMember
	}
	if !chat.HasParticipant(m.Sender) {
		return storage.Message{}, storage.ErrUserNotChatMember
	}
	if m.SharedUser != nil {
		if _, ok := s.users[*m.SharedUser]; !ok {
			return storage.Message{}, storage.ErrUserNotExist
		}
	}

	id, now := s.next()
	msg := storage.Message{
		ID:          id,
		Chat:        m.Chat,
		Sender:      m.Sender,
		Body:        m.Body,
		Kinds:       append([]storage.MessageKind(nil), m.Kinds...),
		SharedPost:  m.SharedPost,
		SharedStory: m.SharedStory,
		SharedReel:  m.SharedReel,
		SharedUser:  m.SharedUser,
		Media:       m.Media,
		CreatedAt:   now,
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *Store) CreateMessage(_ context.Context, m storage.NewMessage) (storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertMessageLocked(m)
}

func (s *Store) summary(id int64) *storage.UserSummary {
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	return &storage.UserSummary{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}

// newestFirst orders messages by creation time then id, both descending
func newestFirst(msgs []storage.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
}

func (s *Store) MessagesByChatID(_ context.Context, chat int64, excludeDeleted bool) ([]storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.chatLocked(chat); err != nil {
		return nil, err
	}

	out := make([]storage.Message, 0)
	for _, m := range s.messages {
		if m.Chat != chat || (excludeDeleted && m.DeletedAt != nil) {
			continue
		}
		m.SenderInfo = s.summary(m.Sender)
		if m.SharedUser != nil {
			m.User = s.summary(*m.SharedUser)
		}
		out = append(out, m)
	}
	newestFirst(out)
	return out, nil
}

func (s *Store) SoftDeleteMessage(_ context.Context, id, chat, sender int64) (storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.messages {
		if m.ID != id || m.Chat != chat || m.DeletedAt != nil {
			continue
		}
		if m.Sender != sender {
			return storage.Message{}, storage.ErrMessageNotOwned
		}
		_, now := s.next()
		s.messages[i].DeletedAt = &now
		return s.messages[i], nil
	}
	return storage.Message{}, storage.ErrMessageNotExist
}

func (s *Store) ChatsByUserID(_ context.Context, user int64) ([]storage.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user]; !ok {
		return nil, storage.ErrUserNotExist
	}

	recent := make(map[int64]storage.Message)
	for _, m := range s.messages {
		if m.DeletedAt != nil {
			continue
		}
		r, ok := recent[m.Chat]
		if !ok || m.CreatedAt.After(r.CreatedAt) || (m.CreatedAt.Equal(r.CreatedAt) && m.ID > r.ID) {
			recent[m.Chat] = m
		}
	}

	out := make([]storage.ChatSummary, 0)
	for _, c := range s.chats {
		if c.DeletedAt != nil || !c.HasParticipant(user) {
			continue
		}
		cs := storage.ChatSummary{ID: c.ID, Kind: c.Kind, Name: c.Name, Peers: make([]storage.UserSummary, 0)}
		for _, p := range c.Participants {
			if p.User == user {
				continue
			}
			if u := s.summary(p.User); u != nil {
				cs.Peers = append(cs.Peers, *u)
			}
		}
		if m, ok := recent[c.ID]; ok {
			at := m.CreatedAt
			cs.Recent = storage.RecentMessage{Text: m.Body, Time: &at}
		}
		out = append(out, cs)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Recent.Time, out[j].Recent.Time
		switch {
		case ti != nil && tj != nil && !ti.Equal(*tj):
			return ti.After(*tj)
		case ti != nil && tj == nil:
			return true
		case ti == nil && tj != nil:
			return false
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// DeleteChat soft-deletes a chat, private pairs become free for a new chat
func (s *Store) DeleteChat(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return
	}
	_, now := s.next()
	c.DeletedAt = &now
	s.chats[id] = c
	for k, v := range s.private {
		if v == id {
			delete(s.private, k)
		}
	}
}
