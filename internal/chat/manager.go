package chat

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat/internal/metrics"
	"github.com/pelusa-v/pelusa-chat/internal/models"
)

// Manager is the presence and group registry. All state is owned by the Run
// goroutine; every public method is executed there in call order, which makes
// group mutation a single critical section and fixes emission order per group.
type Manager struct {
	ops     chan func()
	stopped chan struct{}

	log     *zap.Logger
	metrics *metrics.Metrics

	clients map[*Client]struct{}
	users   map[string]map[*Client]struct{} // user id -> live connections
	groups  *groups
}

func NewManager(log *zap.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		ops:     make(chan func()),
		stopped: make(chan struct{}),
		log:     log,
		metrics: m,
		clients: map[*Client]struct{}{},
		users:   map[string]map[*Client]struct{}{},
		groups:  newGroups(),
	}
}

// Run serves registry operations until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.stopped)
	for {
		select {
		case op := <-m.ops:
			op()
		case <-ctx.Done():
			return
		}
	}
}

// exec runs fn on the Run goroutine and waits for it. It returns false once
// the manager has stopped.
func (m *Manager) exec(fn func()) bool {
	done := make(chan struct{})
	select {
	case m.ops <- func() { fn(); close(done) }:
	case <-m.stopped:
		return false
	}
	<-done
	return true
}

// queue never blocks the manager; a full send buffer drops the frame.
func (m *Manager) queue(c *Client, frame []byte) bool {
	select {
	case c.Send <- frame:
		m.metrics.Queued(true)
		return true
	default:
		m.metrics.Queued(false)
		m.log.Debug("send_queue_full", zap.String("conn", c.ID), zap.String("user", c.User.ID))
		return false
	}
}

// Register adds c and joins it to its personal group. first is true when c
// is the user's only live connection.
func (m *Manager) Register(c *Client) (first bool) {
	m.exec(func() {
		if _, ok := m.clients[c]; ok {
			return
		}
		m.clients[c] = struct{}{}
		if _, ok := m.users[c.User.ID]; !ok {
			m.users[c.User.ID] = map[*Client]struct{}{}
		}
		m.users[c.User.ID][c] = struct{}{}
		first = len(m.users[c.User.ID]) == 1
		m.groups.join(c, c.User.ID)
		m.metrics.ConnOpened()
	})
	return first
}

// Unregister drops c from every group and closes its send queue. When c was
// the user's last connection a single offline status is broadcast to every
// remaining connection and last is true. Unregistering twice is a no-op.
func (m *Manager) Unregister(c *Client) (last bool) {
	m.exec(func() {
		if _, ok := m.clients[c]; !ok {
			return
		}
		delete(m.clients, c)
		m.groups.leaveAll(c)
		close(c.Send)
		m.metrics.ConnClosed()

		conns := m.users[c.User.ID]
		delete(conns, c)
		if len(conns) > 0 {
			return
		}
		delete(m.users, c.User.ID)
		last = true

		frame := encode(EventUserStatusUpdate, UserStatus{UserID: c.User.ID, Status: models.StatusOffline})
		for other := range m.clients {
			m.queue(other, frame)
		}
	})
	return last
}

// Join is idempotent; it fails only for unregistered connections.
func (m *Manager) Join(c *Client, group string) bool {
	group = normalizeGroup(group)
	ok := false
	m.exec(func() {
		if _, registered := m.clients[c]; !registered || group == "" {
			return
		}
		m.groups.join(c, group)
		ok = true
	})
	return ok
}

// Leave is idempotent. A connection cannot leave its personal group.
func (m *Manager) Leave(c *Client, group string) {
	group = normalizeGroup(group)
	m.exec(func() {
		if group == c.User.ID {
			return
		}
		m.groups.leave(c, group)
	})
}

func (m *Manager) InGroup(c *Client, group string) bool {
	group = normalizeGroup(group)
	var ok bool
	m.exec(func() { ok = m.groups.has(c, group) })
	return ok
}

// Groups lists the groups c belongs to, sorted.
func (m *Manager) Groups(c *Client) []string {
	var out []string
	m.exec(func() { out = m.groups.of(c) })
	sort.Strings(out)
	return out
}

func (m *Manager) GroupSize(group string) int {
	group = normalizeGroup(group)
	var n int
	m.exec(func() { n = m.groups.size(group) })
	return n
}

// Relay delivers frame to every connection in group except sender. It
// refuses (false) when sender has not joined group.
func (m *Manager) Relay(sender *Client, group string, frame []byte) bool {
	group = normalizeGroup(group)
	ok := false
	m.exec(func() {
		if !m.groups.has(sender, group) {
			return
		}
		ok = true
		for c := range m.groups.members[group] {
			if c != sender {
				m.queue(c, frame)
			}
		}
	})
	return ok
}

// EmitUser delivers frame to every connection of userID and returns how many there were.
func (m *Manager) EmitUser(userID string, frame []byte) int {
	n := 0
	m.exec(func() {
		for c := range m.users[userID] {
			m.queue(c, frame)
			n++
		}
	})
	return n
}

// Broadcast delivers frame to every connection except sender (which may be nil).
func (m *Manager) Broadcast(sender *Client, frame []byte) {
	m.exec(func() {
		for c := range m.clients {
			if c != sender {
				m.queue(c, frame)
			}
		}
	})
}

func (m *Manager) Online(userID string) bool {
	var ok bool
	m.exec(func() { ok = len(m.users[userID]) > 0 })
	return ok
}

// OnlineUser is one entry of OnlineUsers.
type OnlineUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Connections int    `json:"connections"`
}

// OnlineUsers lists connected users sorted by username, skipping exclude (id or username).
func (m *Manager) OnlineUsers(exclude string) []OnlineUser {
	var out []OnlineUser
	m.exec(func() {
		out = make([]OnlineUser, 0, len(m.users))
		for id, conns := range m.users {
			var name string
			for c := range conns {
				name = c.User.Username
				break
			}
			if exclude != "" && (exclude == id || exclude == name) {
				continue
			}
			out = append(out, OnlineUser{ID: id, Username: name, Connections: len(conns)})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
