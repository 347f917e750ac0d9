package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"realtime-chat/internal/chat/mocks"
	"realtime-chat/internal/storage"
)

func TestSendFanOutToAllConnections(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	a, b := f.users[0], f.users[1]

	chat, _, err := f.service.InitiateChat(ctx, a, b, nil)
	require.NoError(t, err)

	alice := f.connect("alice-laptop", a)
	phone := f.connect("bob-phone", b)
	laptop := f.connect("bob-laptop", b)

	msg, err := f.service.SendMessage(ctx, a, chat.ID, text("hello"))
	require.NoError(t, err)
	require.Equal(t, a, msg.Sender)

	for _, c := range []*recordingConn{phone, laptop} {
		events := c.Events()
		require.Len(t, events, 1)
		require.Equal(t, EventNewMessage, events[0].Name)
		require.Equal(t, msg.ID, events[0].Data.(storage.Message).ID)
	}
	require.Empty(t, alice.Events())
}

func TestSendOfflineRecipient(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	f := newFixture(t, nil, notifier)
	ctx := context.Background()
	a, b := f.users[0], f.users[1]

	chat, _, err := f.service.InitiateChat(ctx, a, b, nil)
	require.NoError(t, err)

	notifier.EXPECT().MessageCreated(gomock.Any(), gomock.Any(), []int64{b}).Return(errors.New("nats: connection closed"))

	msg, err := f.service.SendMessage(ctx, a, chat.ID, text("are you there"))
	require.NoError(t, err)

	msgs, err := f.service.GetMessages(ctx, b, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, msg.ID, msgs[0].ID)
}

func TestSendOnlineRecipientSkipsNotifier(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	f := newFixture(t, nil, notifier)
	ctx := context.Background()
	a, b := f.users[0], f.users[1]

	chat, _, err := f.service.InitiateChat(ctx, a, b, nil)
	require.NoError(t, err)
	f.connect("bob-phone", b)

	notifier.EXPECT().MessageCreated(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err = f.service.SendMessage(ctx, a, chat.ID, text("hi"))
	require.NoError(t, err)
}

func TestSendDeliveryFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	a, b := f.users[0], f.users[1]

	chat, _, err := f.service.InitiateChat(ctx, a, b, nil)
	require.NoError(t, err)

	broken := &recordingConn{id: "bob-broken", fail: errors.New("send queue is full")}
	f.service.OnConnect(broken, b)
	healthy := f.connect("bob-healthy", b)

	msg, err := f.service.SendMessage(ctx, a, chat.ID, text("hello"))
	require.NoError(t, err)
	require.NotZero(t, msg.ID)
	require.Len(t, healthy.Events(), 1)
}

func TestSendAfterDisconnect(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	a, b := f.users[0], f.users[1]

	chat, _, err := f.service.InitiateChat(ctx, a, b, nil)
	require.NoError(t, err)

	bob := f.connect("bob-phone", b)
	f.service.OnDisconnect(bob.ID())

	_, err = f.service.SendMessage(ctx, a, chat.ID, text("hello"))
	require.NoError(t, err)
	require.Empty(t, bob.Events())
}

func TestSendGroupSkipsSender(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	a, b, c := f.users[0], f.users[1], f.users[2]

	chat, err := f.service.InitiateGroup(ctx, a, nil, []int64{b, c})
	require.NoError(t, err)

	alice := f.connect("alice", a)
	bob := f.connect("bob", b)
	carol := f.connect("carol", c)

	_, err = f.service.SendMessage(ctx, b, chat.ID, text("hey all"))
	require.NoError(t, err)

	require.Len(t, alice.Events(), 1)
	require.Empty(t, bob.Events())
	require.Len(t, carol.Events(), 1)
}

func TestSendAuthorization(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	a, b, c := f.users[0], f.users[1], f.users[2]

	chat, _, err := f.service.InitiateChat(ctx, a, b, nil)
	require.NoError(t, err)

	_, err = f.service.SendMessage(ctx, c, chat.ID, text("intruder"))
	require.True(t, errors.Is(err, ErrForbidden))

	_, err = f.service.SendMessage(ctx, a, chat.ID+100, text("nowhere"))
	require.True(t, errors.Is(err, ErrNotFound))

	_, err = f.service.SendMessage(ctx, a, chat.ID, storage.NewMessage{})
	require.True(t, errors.Is(err, ErrInvalidOperation))

	msgs, err := f.service.GetMessages(ctx, a, chat.ID)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestSendSharedUser(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	a, b, c := f.users[0], f.users[1], f.users[2]

	chat, _, err := f.service.InitiateChat(ctx, a, b, nil)
	require.NoError(t, err)

	msg, err := f.service.SendMessage(ctx, a, chat.ID, storage.NewMessage{SharedUser: &c})
	require.NoError(t, err)
	require.Equal(t, []storage.MessageKind{storage.KindSharedUser}, msg.Kinds)

	msgs, err := f.service.GetMessages(ctx, b, chat.ID)
	require.NoError(t, err)
	require.Equal(t, "carol", msgs[0].User.Username)
}
