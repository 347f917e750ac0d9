// Package presence keeps track of which live connections represent which users in this process.
package presence

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is an outbound notification pushed to a live connection
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

// Conn is a live connection handle able to receive events
type Conn interface {
	ID() string
	Deliver(Event) error
}

type entry struct {
	conn     Conn
	userID   int64
	joinedAt time.Time
}

// Registry maps users to the set of their live connections.
// A user may own any number of connections at once (one per device or tab).
type Registry struct {
	logger *zap.SugaredLogger
	now    func() time.Time

	mu     sync.RWMutex
	byConn map[string]entry
	byUser map[int64]map[string]Conn
	closed bool
}

// NewRegistry returns an empty registry, it is meant to be created once per process
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		logger: logger,
		now:    time.Now,
		byConn: make(map[string]entry),
		byUser: make(map[int64]map[string]Conn),
	}
}

// Register records that conn now represents userID.
// Registering the same handle again overwrites its previous mapping.
func (r *Registry) Register(conn Conn, userID int64) {
	id := conn.ID()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debugf("Registry is closed, connection (%s) of user (%d) is not registered", id, userID)
		return
	}

	if old, ok := r.byConn[id]; ok && old.userID != userID {
		r.removeLocked(id, old.userID)
	}

	joinedAt := r.now()
	if old, ok := r.byConn[id]; ok {
		joinedAt = old.joinedAt
	}
	r.byConn[id] = entry{conn: conn, userID: userID, joinedAt: joinedAt}

	conns := r.byUser[userID]
	if conns == nil {
		conns = make(map[string]Conn)
		r.byUser[userID] = conns
	}
	conns[id] = conn
	n := len(conns)
	r.mu.Unlock()

	r.logger.Debugf("Connection (%s) registered for user (%d), live connections: %d", id, userID, n)
}

// Unregister drops the mapping of the connection, it is a no-op for unknown handles
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	e, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.removeLocked(connID, e.userID)
	n := len(r.byUser[e.userID])
	r.mu.Unlock()

	r.logger.Debugf("Connection (%s) unregistered for user (%d), live connections: %d", connID, e.userID, n)
}

func (r *Registry) removeLocked(connID string, userID int64) {
	delete(r.byConn, connID)
	if conns := r.byUser[userID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// ConnectionsFor returns every live connection of the user, possibly none
func (r *Registry) ConnectionsFor(userID int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser[userID]) > 0
}

// UserOf returns the user a connection is registered for
func (r *Registry) UserOf(connID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byConn[connID]
	return e.userID, ok
}

// JoinedAt returns when the connection was first registered
func (r *Registry) JoinedAt(connID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byConn[connID]
	return e.joinedAt, ok
}

// OnlineUsers returns ids of users with at least one live connection in ascending order
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	users := make([]int64, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byConn)
}

// Close clears all entries, later registrations are ignored
func (r *Registry) Close() {
	r.mu.Lock()
	n := len(r.byConn)
	r.byConn = make(map[string]entry)
	r.byUser = make(map[int64]map[string]Conn)
	r.closed = true
	r.mu.Unlock()

	r.logger.Infof("Presence registry closed, %d connections dropped", n)
}
