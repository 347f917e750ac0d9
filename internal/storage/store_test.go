package storage

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/caarlos0/env/v6"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mytesting "realtime-chat/internal/testing"
)

// bootstrap connects to the database described by DB_* variables,
// tests are skipped unless TEST_DATABASE is set
func bootstrap(t *testing.T) *Store {
	if os.Getenv("TEST_DATABASE") == "" {
		t.Skip("TEST_DATABASE is not set")
	}

	var cfg Config
	require.NoError(t, env.Parse(&cfg))

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	s, err := New(context.Background(), logger.Sugar(), cfg)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(s.Close)

	return s
}

func createUsers(t *testing.T, s *Store, n int) []int64 {
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.CreateUser(context.Background(), mytesting.RandString())
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func text(s string) *string { return &s }

func TestCreateUserExists(t *testing.T) {
	s := bootstrap(t)

	username := mytesting.RandString()
	_, err := s.CreateUser(context.Background(), username)
	require.NoError(t, err)
	_, err = s.CreateUser(context.Background(), username)
	require.Equal(t, ErrUserExists, err)
}

func TestIsBlocked(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	users := createUsers(t, s, 2)

	blocked, err := s.IsBlocked(ctx, users[0], users[1])
	require.NoError(t, err)
	require.False(t, blocked)

	require.NoError(t, s.CreateBlock(ctx, users[1], users[0]))
	require.NoError(t, s.CreateBlock(ctx, users[1], users[0]))

	for _, p := range [][]int64{users, mytesting.ReverseIDs(users)} {
		blocked, err = s.IsBlocked(ctx, p[0], p[1])
		require.NoError(t, err)
		require.True(t, blocked)
	}
}

func TestCreatePrivateChatExists(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	users := createUsers(t, s, 2)

	chat, first, err := s.CreatePrivateChat(ctx, users[0], users[1], nil)
	require.NoError(t, err)
	require.Nil(t, first)
	require.Equal(t, ChatPrivate, chat.Kind)
	require.Len(t, chat.Participants, 2)

	_, _, err = s.CreatePrivateChat(ctx, users[1], users[0], nil)
	require.Equal(t, ErrChatExists, err)

	found, err := s.FindPrivateChat(ctx, users[1], users[0])
	require.NoError(t, err)
	require.Equal(t, chat.ID, found.ID)
	require.Equal(t, users[0], found.Creator)
}

func TestCreatePrivateChatConcurrent(t *testing.T) {
	s := bootstrap(t)
	users := createUsers(t, s, 2)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := users[0], users[1]
			if i%2 == 1 {
				a, b = b, a
			}
			_, _, err := s.CreatePrivateChat(context.Background(), a, b, nil)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		require.Equal(t, ErrChatExists, err)
	}
	require.Equal(t, 1, created)
}

func TestCreatePrivateChatWithInitialMessage(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	users := createUsers(t, s, 2)

	chat, first, err := s.CreatePrivateChat(ctx, users[0], users[1], &NewMessage{
		Sender: users[0],
		Body:   text("hello"),
		Kinds:  []MessageKind{KindText},
	})
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, chat.ID, first.Chat)

	messages, err := s.MessagesByChatID(ctx, chat.ID, true)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "hello", *messages[0].Body)
	require.Equal(t, []MessageKind{KindText}, messages[0].Kinds)
	require.NotNil(t, messages[0].SenderInfo)
}

func TestCreateGroupChatBadUsers(t *testing.T) {
	s := bootstrap(t)
	users := createUsers(t, s, 1)

	_, err := s.CreateGroupChat(context.Background(), users[0], text("g"), []int64{users[0], -1})
	require.Equal(t, ErrChatBadUsers, err)
}

func TestCreateMessageNotMember(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	users := createUsers(t, s, 3)

	chat, _, err := s.CreatePrivateChat(ctx, users[0], users[1], nil)
	require.NoError(t, err)

	_, err = s.CreateMessage(ctx, NewMessage{Chat: chat.ID, Sender: users[2], Body: text("hi"), Kinds: []MessageKind{KindText}})
	require.Equal(t, ErrUserNotChatMember, err)
}

func TestMessagesOrderAndSoftDelete(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	users := createUsers(t, s, 2)

	chat, _, err := s.CreatePrivateChat(ctx, users[0], users[1], nil)
	require.NoError(t, err)

	m1, err := s.CreateMessage(ctx, NewMessage{Chat: chat.ID, Sender: users[0], Body: text("one"), Kinds: []MessageKind{KindText}})
	require.NoError(t, err)
	m2, err := s.CreateMessage(ctx, NewMessage{Chat: chat.ID, Sender: users[1], Body: text("two"), Kinds: []MessageKind{KindText}})
	require.NoError(t, err)

	messages, err := s.MessagesByChatID(ctx, chat.ID, true)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, m2.ID, messages[0].ID)
	require.Equal(t, m1.ID, messages[1].ID)

	_, err = s.SoftDeleteMessage(ctx, m1.ID, chat.ID, users[1])
	require.Equal(t, ErrMessageNotOwned, err)

	_, err = s.SoftDeleteMessage(ctx, m1.ID, chat.ID+1, users[0])
	require.Equal(t, ErrMessageNotExist, err)

	deleted, err := s.SoftDeleteMessage(ctx, m1.ID, chat.ID, users[0])
	require.NoError(t, err)
	require.Equal(t, m1.ID, deleted.ID)
	require.NotNil(t, deleted.DeletedAt)

	_, err = s.SoftDeleteMessage(ctx, m1.ID, chat.ID, users[0])
	require.Equal(t, ErrMessageNotExist, err)

	messages, err = s.MessagesByChatID(ctx, chat.ID, true)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, m2.ID, messages[0].ID)

	all, err := s.MessagesByChatID(ctx, chat.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestChatsByUserID(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	users := createUsers(t, s, 4)

	quiet, _, err := s.CreatePrivateChat(ctx, users[0], users[1], nil)
	require.NoError(t, err)
	busy, _, err := s.CreatePrivateChat(ctx, users[0], users[2], nil)
	require.NoError(t, err)
	_, _, err = s.CreatePrivateChat(ctx, users[1], users[3], nil)
	require.NoError(t, err)

	_, err = s.CreateMessage(ctx, NewMessage{Chat: busy.ID, Sender: users[2], Body: text("first"), Kinds: []MessageKind{KindText}})
	require.NoError(t, err)
	last, err := s.CreateMessage(ctx, NewMessage{Chat: busy.ID, Sender: users[0], Body: text("last"), Kinds: []MessageKind{KindText}})
	require.NoError(t, err)
	_, err = s.SoftDeleteMessage(ctx, last.ID, busy.ID, users[0])
	require.NoError(t, err)

	chats, err := s.ChatsByUserID(ctx, users[0])
	require.NoError(t, err)
	require.Len(t, chats, 2)

	require.Equal(t, busy.ID, chats[0].ID)
	require.Equal(t, "first", *chats[0].Recent.Text)
	require.Len(t, chats[0].Peers, 1)
	require.Equal(t, users[2], chats[0].Peers[0].ID)

	require.Equal(t, quiet.ID, chats[1].ID)
	require.Nil(t, chats[1].Recent.Text)
	require.Nil(t, chats[1].Recent.Time)

	_, err = s.ChatsByUserID(ctx, -1)
	require.Equal(t, ErrUserNotExist, err)
}
