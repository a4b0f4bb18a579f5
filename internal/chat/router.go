package chat

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat/internal/metrics"
	"github.com/pelusa-v/pelusa-chat/internal/models"
	"github.com/pelusa-v/pelusa-chat/internal/presence"
)

var (
	errUnknownEvent   = errors.New("unknown event")
	errNotJoined      = errors.New("connection has not joined the chat")
	errNotParticipant = errors.New("user is not a participant of the chat")
	errRateLimited    = errors.New("inbound event rate exceeded")
)

// Router decodes inbound frames and applies the broadcast scope of each event.
// Refused events are dropped: the protocol has no acknowledgements.
type Router struct {
	mgr      *Manager
	chats    ChatReader
	presence presence.Store
	calls    *CallRelay
	log      *zap.Logger
	metrics  *metrics.Metrics
	limits   *limiterPool
	users    *userLocks
}

func NewRouter(mgr *Manager, chats ChatReader, ps presence.Store, calls *CallRelay, log *zap.Logger, m *metrics.Metrics) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{mgr: mgr, chats: chats, presence: ps, calls: calls, log: log, metrics: m, users: newUserLocks()}
}

// WithRateLimit caps inbound events per connection at rps with the given
// burst. Events over the limit are dropped; the connection stays open.
func (r *Router) WithRateLimit(rps float64, burst int) *Router {
	r.limits = newLimiterPool(rps, burst)
	return r
}

// Connect registers c under its personal group and marks a first connection online.
// Connect and Disconnect for the same user run one at a time, so a reconnect
// never interleaves with the offline cleanup of the previous session.
func (r *Router) Connect(ctx context.Context, c *Client) {
	unlock := r.users.lock(c.User.ID)
	defer unlock()

	first := r.mgr.Register(c)
	r.log.Info("user_connected", zap.String("user", c.User.ID), zap.String("conn", c.ID))
	if !first {
		return
	}
	if err := r.presence.SetStatus(ctx, c.User.ID, models.StatusOnline); err != nil {
		r.log.Warn("presence_update_failed", zap.String("user", c.User.ID), zap.Error(err))
	}
}

// Disconnect removes c from every group. For the user's last connection the
// manager broadcasts offline, presence is cleared and open calls are ended.
func (r *Router) Disconnect(ctx context.Context, c *Client) {
	unlock := r.users.lock(c.User.ID)
	defer unlock()

	last := r.mgr.Unregister(c)
	r.limits.forget(c.ID)
	r.log.Info("user_disconnected", zap.String("user", c.User.ID), zap.String("conn", c.ID), zap.Bool("last", last))
	if !last {
		return
	}
	if err := r.presence.SetStatus(ctx, c.User.ID, models.StatusOffline); err != nil {
		r.log.Warn("presence_update_failed", zap.String("user", c.User.ID), zap.Error(err))
	}
	if r.calls != nil {
		r.calls.DropUser(c.User.ID)
	}
}

// Serve runs c until its connection stops reading. It returns only after the
// writer has finished, so the caller may release the underlying connection.
func (r *Router) Serve(ctx context.Context, c *Client) {
	r.Connect(ctx, c)
	go c.WritePump()
	c.ReadPump(ctx, r)
	r.Disconnect(ctx, c)

	select {
	case <-c.Done():
	case <-r.mgr.stopped:
	}
}

// Dispatch handles one inbound frame from c.
func (r *Router) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		r.drop(c, env.Event, errMalformed)
		return
	}
	r.metrics.Inbound(env.Event)
	if !r.limits.allow(c.ID) {
		r.drop(c, env.Event, errRateLimited)
		return
	}

	var err error
	switch env.Event {
	case EventJoinChat:
		err = r.joinChat(ctx, c, env.Data)
	case EventLeaveChat:
		err = r.leaveChat(c, env.Data)
	case EventSendMessage:
		err = r.sendMessage(c, env.Data)
	case EventTyping:
		err = r.typing(c, env.Data)
	case EventUpdateStatus:
		err = r.updateStatus(ctx, c, env.Data)
	case EventCallUser:
		err = r.callUser(c, env.Data)
	case EventAnswerCall:
		err = r.answerCall(c, env.Data)
	case EventEndCall:
		err = r.endCall(c, env.Data)
	case EventRejectCall:
		err = r.rejectCall(c, env.Data)
	default:
		err = errUnknownEvent
	}
	if err != nil {
		r.drop(c, env.Event, err)
	}
}

func (r *Router) drop(c *Client, event string, err error) {
	reason := "error"
	switch {
	case errors.Is(err, errMalformed):
		reason = "malformed"
	case errors.Is(err, errUnknownEvent):
		reason = "unknown_event"
	case errors.Is(err, errNotJoined):
		reason = "not_joined"
	case errors.Is(err, errNotParticipant):
		reason = "not_participant"
	case errors.Is(err, errRateLimited):
		reason = "rate_limited"
	case errors.Is(err, errRecipientGone):
		reason = "recipient_offline"
	case errors.Is(err, ErrNotCallParty), errors.Is(err, ErrCallNotFound), errors.Is(err, errCallState):
		reason = "call_state"
	}
	r.metrics.Dropped(reason)
	r.log.Debug("event_dropped",
		zap.String("event", event), zap.String("user", c.User.ID),
		zap.String("conn", c.ID), zap.String("reason", reason), zap.Error(err))
}

func (r *Router) joinChat(ctx context.Context, c *Client, data json.RawMessage) error {
	in, err := decode[ChatRef](data)
	if err != nil {
		return err
	}
	ok, err := r.chats.IsParticipant(ctx, in.ChatID, c.User.ID)
	if err != nil {
		r.log.Warn("participant_check_failed", zap.String("chat", in.ChatID), zap.Error(err))
		return err
	}
	if !ok {
		return errNotParticipant
	}
	if !r.mgr.Join(c, in.ChatID) {
		return errNotJoined
	}
	r.log.Debug("chat_joined", zap.String("user", c.User.ID), zap.String("chat", in.ChatID))
	return nil
}

func (r *Router) leaveChat(c *Client, data json.RawMessage) error {
	in, err := decode[ChatRef](data)
	if err != nil {
		return err
	}
	r.mgr.Leave(c, in.ChatID)
	return nil
}

func (r *Router) sendMessage(c *Client, data json.RawMessage) error {
	in, err := decode[SendMessage](data)
	if err != nil {
		return err
	}
	frame := encode(EventReceiveMessage, ReceiveMessage{
		ChatID:    in.ChatID,
		Message:   in.Message,
		Sender:    Sender{ID: c.User.ID, Username: c.User.Username, Avatar: c.User.Avatar},
		Timestamp: in.Timestamp,
	})
	if !r.mgr.Relay(c, in.ChatID, frame) {
		return errNotJoined
	}
	return nil
}

func (r *Router) typing(c *Client, data json.RawMessage) error {
	in, err := decode[Typing](data)
	if err != nil {
		return err
	}
	frame := encode(EventUserTyping, UserTyping{UserID: c.User.ID, Username: c.User.Username, IsTyping: in.IsTyping})
	if !r.mgr.Relay(c, in.ChatID, frame) {
		return errNotJoined
	}
	return nil
}

func (r *Router) updateStatus(ctx context.Context, c *Client, data json.RawMessage) error {
	in, err := decode[StatusUpdate](data)
	if err != nil {
		return err
	}
	unlock := r.users.lock(c.User.ID)
	defer unlock()
	if err := r.presence.SetStatus(ctx, c.User.ID, in.Status); err != nil {
		r.log.Warn("presence_update_failed", zap.String("user", c.User.ID), zap.Error(err))
	}
	r.mgr.Broadcast(c, encode(EventUserStatusUpdate, UserStatus{UserID: c.User.ID, Status: in.Status}))
	return nil
}

func (r *Router) callUser(c *Client, data json.RawMessage) error {
	in, err := decode[CallUser](data)
	if err != nil {
		return err
	}
	return r.calls.Offer(c, in)
}

func (r *Router) answerCall(c *Client, data json.RawMessage) error {
	in, err := decode[AnswerCall](data)
	if err != nil {
		return err
	}
	return r.calls.Answer(c, in)
}

func (r *Router) endCall(c *Client, data json.RawMessage) error {
	in, err := decode[CallTarget](data)
	if err != nil {
		return err
	}
	return r.calls.End(c, in)
}

func (r *Router) rejectCall(c *Client, data json.RawMessage) error {
	in, err := decode[CallTarget](data)
	if err != nil {
		return err
	}
	return r.calls.Reject(c, in)
}
