package chat

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/pelusa-v/pelusa-chat/internal/models"
)

// Event names on the wire.
const (
	EventJoinChat         = "join_chat"
	EventLeaveChat        = "leave_chat"
	EventSendMessage      = "send_message"
	EventReceiveMessage   = "receive_message"
	EventTyping           = "typing"
	EventUserTyping       = "user_typing"
	EventCallUser         = "call_user"
	EventAnswerCall       = "answer_call"
	EventCallAccepted     = "call_accepted"
	EventEndCall          = "end_call"
	EventCallEnded        = "call_ended"
	EventRejectCall       = "reject_call"
	EventCallRejected     = "call_rejected"
	EventUpdateStatus     = "update_status"
	EventUserStatusUpdate = "user_status_update"
)

// Envelope is every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var errMalformed = errors.New("malformed payload")

type inbound interface {
	validate() error
}

func decode[T inbound](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, errMalformed
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errMalformed
	}
	if err := v.validate(); err != nil {
		return v, err
	}
	return v, nil
}

// ChatRef is the join_chat/leave_chat payload: a bare chat id string, or {"chatId": ...}.
type ChatRef struct {
	ChatID string
}

func (r *ChatRef) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		r.ChatID = strings.TrimSpace(id)
		return nil
	}
	var obj struct {
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ChatID = strings.TrimSpace(obj.ChatID)
	return nil
}

func (r ChatRef) validate() error {
	if r.ChatID == "" {
		return errMalformed
	}
	return nil
}

type SendMessage struct {
	ChatID    string          `json:"chatId"`
	Message   json.RawMessage `json:"message"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

func (m SendMessage) validate() error {
	if strings.TrimSpace(m.ChatID) == "" || len(m.Message) == 0 {
		return errMalformed
	}
	return nil
}

type Typing struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

func (t Typing) validate() error {
	if strings.TrimSpace(t.ChatID) == "" {
		return errMalformed
	}
	return nil
}

// CallUser starts negotiation with UserToCall. From is ignored: the sender
// is always the connection's identity.
type CallUser struct {
	UserToCall string          `json:"userToCall"`
	SignalData json.RawMessage `json:"signalData"`
	Name       string          `json:"name,omitempty"`
	CallID     string          `json:"callId,omitempty"`
}

func (c CallUser) validate() error {
	if strings.TrimSpace(c.UserToCall) == "" || len(c.SignalData) == 0 {
		return errMalformed
	}
	return nil
}

type AnswerCall struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
	CallID string          `json:"callId,omitempty"`
}

func (a AnswerCall) validate() error {
	if strings.TrimSpace(a.To) == "" || len(a.Signal) == 0 {
		return errMalformed
	}
	return nil
}

// CallTarget is the end_call/reject_call payload.
type CallTarget struct {
	To     string `json:"to"`
	CallID string `json:"callId,omitempty"`
}

func (c CallTarget) validate() error {
	if strings.TrimSpace(c.To) == "" {
		return errMalformed
	}
	return nil
}

// StatusUpdate accepts a bare status string or {"status": ...}.
type StatusUpdate struct {
	Status models.Status
}

func (s *StatusUpdate) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err == nil {
		s.Status = models.Status(strings.ToLower(strings.TrimSpace(raw)))
		return nil
	}
	var obj struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	s.Status = models.Status(strings.ToLower(strings.TrimSpace(obj.Status)))
	return nil
}

func (s StatusUpdate) validate() error {
	if !s.Status.Valid() {
		return errMalformed
	}
	return nil
}

// outbound payloads

type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type ReceiveMessage struct {
	ChatID    string          `json:"chatId"`
	Message   json.RawMessage `json:"message"`
	Sender    Sender          `json:"sender"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type UserTyping struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type IncomingCall struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from"`
	Name   string          `json:"name"`
	CallID string          `json:"callId,omitempty"`
}

type CallClosed struct {
	From   string `json:"from"`
	CallID string `json:"callId,omitempty"`
}

type UserStatus struct {
	UserID string        `json:"userId"`
	Status models.Status `json:"status"`
}

// encode builds an outbound frame. data is either a payload struct or a json.RawMessage.
func encode(event string, data any) []byte {
	var raw json.RawMessage
	switch d := data.(type) {
	case json.RawMessage:
		raw = d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil
		}
		raw = b
	}
	b, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil
	}
	return b
}
