package presence

import (
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testConn struct {
	id string
}

func (c testConn) ID() string          { return c.id }
func (c testConn) Deliver(Event) error { return nil }

func ids(conns []Conn) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	sort.Strings(out)
	return out
}

func newRegistry() *Registry {
	return NewRegistry(zap.NewNop().Sugar())
}

func TestRegisterMultipleConnections(t *testing.T) {
	r := newRegistry()

	r.Register(testConn{"c1"}, 2)
	r.Register(testConn{"c2"}, 2)
	r.Register(testConn{"c3"}, 3)

	require.Equal(t, []string{"c1", "c2"}, ids(r.ConnectionsFor(2)))
	require.Equal(t, []string{"c3"}, ids(r.ConnectionsFor(3)))
	require.Empty(t, r.ConnectionsFor(4))
	require.True(t, r.IsOnline(2))
	require.False(t, r.IsOnline(4))
	require.Equal(t, []int64{2, 3}, r.OnlineUsers())
	require.Equal(t, 3, r.Len())
}

func TestRegisterIdempotent(t *testing.T) {
	r := newRegistry()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return start }

	r.Register(testConn{"c1"}, 2)
	r.now = func() time.Time { return start.Add(time.Hour) }
	r.Register(testConn{"c1"}, 2)

	require.Equal(t, []string{"c1"}, ids(r.ConnectionsFor(2)))
	require.Equal(t, 1, r.Len())
	joined, ok := r.JoinedAt("c1")
	require.True(t, ok)
	require.Equal(t, start, joined)
}

func TestRegisterOverwritesUser(t *testing.T) {
	r := newRegistry()

	r.Register(testConn{"c1"}, 2)
	r.Register(testConn{"c1"}, 5)

	require.False(t, r.IsOnline(2))
	require.Equal(t, []string{"c1"}, ids(r.ConnectionsFor(5)))
	user, ok := r.UserOf("c1")
	require.True(t, ok)
	require.Equal(t, int64(5), user)
}

func TestUnregister(t *testing.T) {
	r := newRegistry()

	r.Register(testConn{"c1"}, 2)
	r.Register(testConn{"c2"}, 2)

	r.Unregister("c1")
	require.Equal(t, []string{"c2"}, ids(r.ConnectionsFor(2)))

	r.Unregister("c2")
	require.False(t, r.IsOnline(2))
	require.Empty(t, r.OnlineUsers())

	// unknown handle
	r.Unregister("c2")
	r.Unregister("nope")
	require.Equal(t, 0, r.Len())
}

func TestConnectionsForReturnsCopy(t *testing.T) {
	r := newRegistry()
	r.Register(testConn{"c1"}, 2)

	conns := r.ConnectionsFor(2)
	r.Unregister("c1")

	require.Len(t, conns, 1)
	require.Empty(t, r.ConnectionsFor(2))
}

func TestClose(t *testing.T) {
	r := newRegistry()
	r.Register(testConn{"c1"}, 2)

	r.Close()
	require.Equal(t, 0, r.Len())
	require.False(t, r.IsOnline(2))

	r.Register(testConn{"c2"}, 2)
	require.Equal(t, 0, r.Len())
}

func TestConcurrentAccess(t *testing.T) {
	r := newRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "c" + strconv.Itoa(i)
			user := int64(i % 5)
			r.Register(testConn{id}, user)
			_ = r.ConnectionsFor(user)
			_ = r.IsOnline(user)
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 25, r.Len())
	total := 0
	for _, u := range r.OnlineUsers() {
		total += len(r.ConnectionsFor(u))
	}
	require.Equal(t, 25, total)
}
