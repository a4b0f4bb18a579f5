package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat/internal/auth"
	"github.com/pelusa-v/pelusa-chat/internal/metrics"
	"github.com/pelusa-v/pelusa-chat/internal/models"
	"github.com/pelusa-v/pelusa-chat/internal/presence"
	"github.com/pelusa-v/pelusa-chat/internal/store"
)

type CallType string

const (
	CallVideo CallType = "video"
	CallAudio CallType = "audio"
)

type CallState string

const (
	CallCalling   CallState = "calling"
	CallConnected CallState = "connected"
	CallRejected  CallState = "rejected"
	CallEnded     CallState = "ended"
	CallFailed    CallState = "failed"
)

func (s CallState) terminal() bool {
	return s == CallRejected || s == CallEnded || s == CallFailed
}

type RefusalReason string

const (
	RefuseNotFound          RefusalReason = "not-found"
	RefuseNotParticipant    RefusalReason = "not-participant"
	RefuseTypeDisabled      RefusalReason = "type-disabled-in-chat"
	RefuseTargetUnavailable RefusalReason = "target-unavailable"
	RefuseInvalidCallType   RefusalReason = "invalid-call-type"
)

// CallRefusal is returned by Initiate when the caller may not start the call.
type CallRefusal struct {
	Reason  RefusalReason
	Message string
}

func (e *CallRefusal) Error() string {
	return fmt.Sprintf("call refused (%s): %s", e.Reason, e.Message)
}

func refuse(reason RefusalReason, msg string) *CallRefusal {
	return &CallRefusal{Reason: reason, Message: msg}
}

var (
	ErrCallNotFound  = errors.New("call not found")
	ErrNotCallParty  = errors.New("not a party of the call")
	errCallState     = errors.New("call is not in a state that allows this")
	errRecipientGone = errors.New("recipient has no live connection")
)

// Call is an in-flight call attempt. It lives only in memory and is
// forgotten once it reaches a terminal state.
type Call struct {
	ID        string    `json:"callId"`
	ChatID    string    `json:"chatId"`
	Type      CallType  `json:"callType"`
	CallerID  string    `json:"callerId"`
	Parties   []string  `json:"parties"`
	State     CallState `json:"state"`
	StartedAt time.Time `json:"startedAt"`
}

func (c *Call) hasParty(userID string) bool {
	for _, p := range c.Parties {
		if p == userID {
			return true
		}
	}
	return false
}

type CallParticipant struct {
	ID       string        `json:"id"`
	Username string        `json:"username"`
	Name     string        `json:"name"`
	Avatar   string        `json:"avatar"`
	Status   models.Status `json:"status"`
}

type CallChat struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Type models.ChatType `json:"type"`
}

// CallSession is the successful answer to an initiation request.
type CallSession struct {
	CallID       string            `json:"callId"`
	CallType     CallType          `json:"callType"`
	Chat         CallChat          `json:"chat"`
	Participants []CallParticipant `json:"participants"`
	Caller       auth.Identity     `json:"caller"`
}

// ChatReader is the read side of the chat aggregate used for authorization.
type ChatReader interface {
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

type UserDirectory interface {
	GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error)
}

// CallRelay checks call eligibility and forwards negotiation payloads
// between the personal groups of the parties. Payloads are never inspected.
// Nothing times out a call left in Calling; clients end it.
type CallRelay struct {
	mgr      *Manager
	chats    ChatReader
	users    UserDirectory
	presence presence.Store
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu    sync.Mutex
	calls map[string]*Call
}

func NewCallRelay(mgr *Manager, chats ChatReader, users UserDirectory, ps presence.Store, log *zap.Logger, m *metrics.Metrics) *CallRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &CallRelay{
		mgr:      mgr,
		chats:    chats,
		users:    users,
		presence: ps,
		log:      log,
		metrics:  m,
		now:      time.Now,
		calls:    map[string]*Call{},
	}
}

func (r *CallRelay) newCallID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("call_%d_%s", r.now().UnixMilli(), random)
}

// Initiate checks that caller may start a callType call in chatID and opens
// the call in the Calling state.
func (r *CallRelay) Initiate(ctx context.Context, caller auth.Identity, chatID string, callType CallType) (*CallSession, error) {
	if callType == "" {
		callType = CallVideo
	}
	if callType != CallVideo && callType != CallAudio {
		r.metrics.Call("refused")
		return nil, refuse(RefuseInvalidCallType, "call type must be video or audio")
	}

	chat, err := r.chats.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		r.metrics.Call("refused")
		return nil, refuse(RefuseNotFound, "chat not found")
	}
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(caller.ID) {
		r.metrics.Call("refused")
		return nil, refuse(RefuseNotParticipant, "not authorized to call in this chat")
	}
	if callType == CallVideo && !chat.Settings.AllowVideoCalls {
		r.metrics.Call("refused")
		return nil, refuse(RefuseTypeDisabled, "video calls are disabled in this chat")
	}
	if callType == CallAudio && !chat.Settings.AllowVoiceCalls {
		r.metrics.Call("refused")
		return nil, refuse(RefuseTypeDisabled, "voice calls are disabled in this chat")
	}

	others := chat.OtherParticipants(caller.ID)
	ids := make([]string, 0, len(others))
	for _, p := range others {
		ids = append(ids, p.UserID)
	}
	users, err := r.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	participants := make([]CallParticipant, 0, len(others))
	for _, id := range ids {
		status, err := r.presence.Status(ctx, id)
		if err != nil {
			r.log.Warn("presence_lookup_failed", zap.String("user", id), zap.Error(err))
			status = models.StatusOffline
		}
		cp := CallParticipant{ID: id, Status: status}
		if u, ok := users[id]; ok {
			cp.Username, cp.Name, cp.Avatar = u.Username, u.DisplayName(), u.Avatar
		}
		participants = append(participants, cp)
	}

	if chat.Type == models.ChatPrivate {
		if len(participants) == 0 || participants[0].Status == models.StatusOffline {
			r.metrics.Call("refused")
			return nil, refuse(RefuseTargetUnavailable, "user is not available for calls")
		}
	}

	name := chat.Name
	if name == "" {
		if chat.Type == models.ChatPrivate && len(participants) > 0 {
			name = participants[0].Name
		} else {
			name = "Group Call"
		}
	}

	call := &Call{
		ID:        r.newCallID(),
		ChatID:    chat.ID,
		Type:      callType,
		CallerID:  caller.ID,
		Parties:   append([]string{caller.ID}, ids...),
		State:     CallCalling,
		StartedAt: r.now(),
	}
	r.mu.Lock()
	r.calls[call.ID] = call
	r.mu.Unlock()
	r.metrics.Call("initiated")
	r.log.Info("call_initiated",
		zap.String("call", call.ID), zap.String("chat", chat.ID),
		zap.String("caller", caller.ID), zap.String("type", string(callType)))

	return &CallSession{
		CallID:       call.ID,
		CallType:     callType,
		Chat:         CallChat{ID: chat.ID, Name: name, Type: chat.Type},
		Participants: participants,
		Caller:       caller,
	}, nil
}

// Get returns a copy of the call if it is still in flight.
func (r *CallRelay) Get(callID string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return Call{}, false
	}
	cp := *c
	cp.Parties = append([]string(nil), c.Parties...)
	return cp, true
}

// transition moves callID to next when from and to are both parties and the
// current state is one of allowed. An empty callID skips state tracking.
func (r *CallRelay) transition(callID, from, to string, next CallState, allowed ...CallState) error {
	if callID == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	if !c.hasParty(from) || !c.hasParty(to) {
		return ErrNotCallParty
	}
	permitted := false
	for _, s := range allowed {
		if c.State == s {
			permitted = true
			break
		}
	}
	if !permitted {
		return errCallState
	}
	c.State = next
	if next.terminal() {
		delete(r.calls, callID)
	}
	r.metrics.Call(string(next))
	r.log.Debug("call_transition", zap.String("call", callID), zap.String("state", string(next)))
	return nil
}

// checkParties verifies from and to belong to callID without changing state.
func (r *CallRelay) checkParties(callID, from, to string) error {
	if callID == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	if !c.hasParty(from) || !c.hasParty(to) {
		return ErrNotCallParty
	}
	if c.State.terminal() {
		return errCallState
	}
	return nil
}

// Offer forwards call_user to the callee's personal group. A callee with no
// live connection fails the call.
func (r *CallRelay) Offer(from *Client, in CallUser) error {
	if err := r.checkParties(in.CallID, from.User.ID, in.UserToCall); err != nil {
		return err
	}
	name := in.Name
	if name == "" {
		name = from.User.Name
	}
	frame := encode(EventCallUser, IncomingCall{Signal: in.SignalData, From: from.User.ID, Name: name, CallID: in.CallID})
	if r.mgr.EmitUser(in.UserToCall, frame) == 0 {
		if in.CallID != "" {
			_ = r.transition(in.CallID, from.User.ID, in.UserToCall, CallFailed, CallCalling)
		}
		return errRecipientGone
	}
	return nil
}

// Answer forwards the callee's signal to the caller as call_accepted.
func (r *CallRelay) Answer(from *Client, in AnswerCall) error {
	if err := r.transition(in.CallID, from.User.ID, in.To, CallConnected, CallCalling, CallConnected); err != nil {
		return err
	}
	if r.mgr.EmitUser(in.To, encode(EventCallAccepted, in.Signal)) == 0 {
		return errRecipientGone
	}
	return nil
}

func (r *CallRelay) End(from *Client, in CallTarget) error {
	if err := r.transition(in.CallID, from.User.ID, in.To, CallEnded, CallCalling, CallConnected); err != nil {
		return err
	}
	if r.mgr.EmitUser(in.To, encode(EventCallEnded, CallClosed{From: from.User.ID, CallID: in.CallID})) == 0 {
		return errRecipientGone
	}
	return nil
}

func (r *CallRelay) Reject(from *Client, in CallTarget) error {
	if err := r.transition(in.CallID, from.User.ID, in.To, CallRejected, CallCalling); err != nil {
		return err
	}
	if r.mgr.EmitUser(in.To, encode(EventCallRejected, CallClosed{From: from.User.ID, CallID: in.CallID})) == 0 {
		return errRecipientGone
	}
	return nil
}

// EndByID ends callID on behalf of userID and notifies the other parties.
func (r *CallRelay) EndByID(userID, callID string) (Call, error) {
	r.mu.Lock()
	c, ok := r.calls[callID]
	if !ok {
		r.mu.Unlock()
		return Call{}, ErrCallNotFound
	}
	if !c.hasParty(userID) {
		r.mu.Unlock()
		return Call{}, ErrNotCallParty
	}
	c.State = CallEnded
	delete(r.calls, callID)
	ended := *c
	r.mu.Unlock()

	r.metrics.Call(string(CallEnded))
	r.notifyEnded(userID, ended)
	return ended, nil
}

// DropUser ends every call userID takes part in. Called when the user's last
// connection goes away.
func (r *CallRelay) DropUser(userID string) {
	var ended []Call
	r.mu.Lock()
	for id, c := range r.calls {
		if !c.hasParty(userID) {
			continue
		}
		c.State = CallEnded
		delete(r.calls, id)
		ended = append(ended, *c)
	}
	r.mu.Unlock()

	for _, c := range ended {
		r.metrics.Call(string(CallEnded))
		r.notifyEnded(userID, c)
	}
}

func (r *CallRelay) notifyEnded(by string, c Call) {
	frame := encode(EventCallEnded, CallClosed{From: by, CallID: c.ID})
	for _, p := range c.Parties {
		if p != by {
			r.mgr.EmitUser(p, frame)
		}
	}
	r.log.Info("call_ended", zap.String("call", c.ID), zap.String("by", by))
}
