package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat/internal/auth"
	"github.com/pelusa-v/pelusa-chat/internal/models"
	"github.com/pelusa-v/pelusa-chat/internal/presence"
	"github.com/pelusa-v/pelusa-chat/internal/store"
)

type fakeChats struct {
	mu    sync.Mutex
	chats map[string]*models.Chat
}

func (f *fakeChats) put(c *models.Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[c.ID] = c
}

func (f *fakeChats) GetChat(_ context.Context, id string) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat: %w", store.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChats) IsParticipant(_ context.Context, chatID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	return ok && c.IsParticipant(userID), nil
}

type fakeDirectory struct{}

func (fakeDirectory) GetUsers(_ context.Context, ids []string) (map[string]*models.User, error) {
	out := map[string]*models.User{}
	for _, id := range ids {
		out[id] = &models.User{ID: id, Username: id, FirstName: id, IsActive: true}
	}
	return out, nil
}

func newChat(id string, typ models.ChatType, users ...string) *models.Chat {
	c := models.Chat{ID: id, Type: typ, IsActive: true, Settings: models.DefaultSettings()}
	for i, u := range users {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleOwner
		}
		c, _ = c.AddParticipant(u, role, t0)
	}
	return &c
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	mgr      *Manager
	router   *Router
	relay    *CallRelay
	chats    *fakeChats
	presence *presence.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := zap.NewNop()
	mgr := NewManager(log, nil)
	go mgr.Run(ctx)

	chats := &fakeChats{chats: map[string]*models.Chat{}}
	ps := presence.NewMemoryStore()
	relay := NewCallRelay(mgr, chats, fakeDirectory{}, ps, log, nil)
	return &harness{
		t:        t,
		ctx:      context.Background(),
		mgr:      mgr,
		router:   NewRouter(mgr, chats, ps, relay, log, nil),
		relay:    relay,
		chats:    chats,
		presence: ps,
	}
}

func (h *harness) connect(userID string) *Client {
	c := NewClient(auth.Identity{ID: userID, Username: userID, Name: userID, Avatar: userID + ".png"}, nil, 32)
	h.router.Connect(h.ctx, c)
	return c
}

func (h *harness) send(c *Client, event string, data any) {
	h.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(h.t, err)
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	require.NoError(h.t, err)
	h.router.Dispatch(h.ctx, c, frame)
}

func (h *harness) join(c *Client, chatID string) {
	h.t.Helper()
	h.send(c, EventJoinChat, chatID)
	require.True(h.t, h.mgr.InGroup(c, chatID), "join %s", chatID)
}

// drain returns every frame queued for c so far. Manager calls are
// synchronous, so anything emitted before the call is already queued.
func drain(c *Client) []Envelope {
	var out []Envelope
	for {
		select {
		case b, ok := <-c.Send:
			if !ok {
				return out
			}
			var env Envelope
			if err := json.Unmarshal(b, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func events(envs []Envelope, name string) []Envelope {
	var out []Envelope
	for _, e := range envs {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}
