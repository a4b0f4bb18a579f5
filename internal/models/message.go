package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeletedPlaceholder replaces the content of a deleted message on the wire.
const DeletedPlaceholder = "This message has been deleted"

// ExpiredPlaceholder replaces the content of a message past its chat's retention period.
const ExpiredPlaceholder = "This message has expired"

var ErrNotSender = errors.New("only the sender may change this message")

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageVideo  MessageType = "video"
	MessageAudio  MessageType = "audio"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile, MessageSystem:
		return true
	}
	return false
}

// MessageTypeForMIME maps an attachment MIME type to the message type it produces.
func MessageTypeForMIME(mime string) MessageType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MessageImage
	case strings.HasPrefix(mime, "video/"):
		return MessageVideo
	case strings.HasPrefix(mime, "audio/"):
		return MessageAudio
	}
	return MessageFile
}

type Attachment struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	MessageID string `gorm:"size:36;index;not null" json:"-"`
	URL       string `gorm:"size:1024;not null" json:"url"`
	StorageID string `gorm:"size:255" json:"storageId,omitempty"`
	FileName  string `gorm:"size:255;not null" json:"fileName"`
	Size      int64  `json:"size"`
	MimeType  string `gorm:"size:127" json:"mimeType"`
}

type Reaction struct {
	MessageID string    `gorm:"size:36;primaryKey" json:"-"`
	UserID    string    `gorm:"size:36;primaryKey" json:"userId"`
	Emoji     string    `gorm:"size:32;not null" json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

type ReadReceipt struct {
	MessageID string    `gorm:"size:36;primaryKey" json:"-"`
	UserID    string    `gorm:"size:36;primaryKey" json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type Message struct {
	ID          string        `gorm:"size:36;primaryKey" json:"id"`
	Content     string        `gorm:"type:text;not null" json:"content"`
	SenderID    string        `gorm:"size:36;not null;index" json:"sender"`
	ChatID      string        `gorm:"size:36;not null;index:idx_messages_chat_created,priority:1" json:"chat"`
	Type        MessageType   `gorm:"size:16;not null;index" json:"type"`
	ReplyTo     *string       `gorm:"size:36" json:"replyTo,omitempty"`
	Attachments []Attachment  `gorm:"foreignKey:MessageID" json:"attachments"`
	Reactions   []Reaction    `gorm:"foreignKey:MessageID" json:"reactions"`
	ReadBy      []ReadReceipt `gorm:"foreignKey:MessageID" json:"readBy"`
	IsEdited    bool          `gorm:"not null" json:"isEdited"`
	EditedAt    *time.Time    `json:"editedAt,omitempty"`
	IsDeleted   bool          `gorm:"not null" json:"isDeleted"`
	DeletedAt   *time.Time    `json:"deletedAt,omitempty"`
	DeletedBy   *string       `gorm:"size:36" json:"deletedBy,omitempty"`
	ExpiredAt   *time.Time    `gorm:"index" json:"expiredAt,omitempty"`
	CreatedAt   time.Time     `gorm:"index:idx_messages_chat_created,priority:2" json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Hidden reports whether the message content must not be exposed.
func (m Message) Hidden() bool { return m.IsDeleted || m.ExpiredAt != nil }

// MarshalJSON redacts deleted and expired messages. The stored content is left untouched.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	out := plain(m)
	switch {
	case out.IsDeleted:
		out.Content = DeletedPlaceholder
		out.Attachments = []Attachment{}
	case out.ExpiredAt != nil:
		out.Content = ExpiredPlaceholder
		out.Attachments = []Attachment{}
	}
	if out.Attachments == nil {
		out.Attachments = []Attachment{}
	}
	if out.Reactions == nil {
		out.Reactions = []Reaction{}
	}
	if out.ReadBy == nil {
		out.ReadBy = []ReadReceipt{}
	}
	return json.Marshal(out)
}

func (m Message) Reaction(userID string) (Reaction, bool) {
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return r, true
		}
	}
	return Reaction{}, false
}

// AddReaction sets the user's reaction, replacing any earlier one.
func (m Message) AddReaction(userID, emoji string, now time.Time) Message {
	m, _ = m.RemoveReaction(userID)
	rs := make([]Reaction, len(m.Reactions), len(m.Reactions)+1)
	copy(rs, m.Reactions)
	m.Reactions = append(rs, Reaction{MessageID: m.ID, UserID: userID, Emoji: emoji, CreatedAt: now})
	return m
}

func (m Message) RemoveReaction(userID string) (Message, bool) {
	rs := make([]Reaction, 0, len(m.Reactions))
	for _, r := range m.Reactions {
		if r.UserID != userID {
			rs = append(rs, r)
		}
	}
	if len(rs) == len(m.Reactions) {
		return m, false
	}
	m.Reactions = rs
	return m, true
}

func (m Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// MarkRead records the first read of userID; later calls change nothing.
func (m Message) MarkRead(userID string, now time.Time) (Message, bool) {
	if m.ReadByUser(userID) {
		return m, false
	}
	rb := make([]ReadReceipt, len(m.ReadBy), len(m.ReadBy)+1)
	copy(rb, m.ReadBy)
	m.ReadBy = append(rb, ReadReceipt{MessageID: m.ID, UserID: userID, ReadAt: now})
	return m, true
}

func (m Message) SoftDelete(deleterID string, now time.Time) (Message, error) {
	if deleterID != m.SenderID {
		return m, ErrNotSender
	}
	m.IsDeleted = true
	m.DeletedAt = &now
	m.DeletedBy = &deleterID
	return m, nil
}

func (m Message) Edit(editorID, content string, now time.Time) (Message, error) {
	if editorID != m.SenderID {
		return m, ErrNotSender
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &now
	return m, nil
}
