package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

func (t ChatType) Valid() bool { return t == ChatPrivate || t == ChatGroup }

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// CanManage reports whether the role may change membership, roles and settings.
func (r Role) CanManage() bool { return r == RoleOwner || r == RoleAdmin }

// Settings are per-chat feature switches. No gorm defaults: false must be stored.
type Settings struct {
	AllowFileSharing     bool `gorm:"not null" json:"allowFileSharing"`
	AllowVoiceCalls      bool `gorm:"not null" json:"allowVoiceCalls"`
	AllowVideoCalls      bool `gorm:"not null" json:"allowVideoCalls"`
	MessageRetentionDays int  `gorm:"not null" json:"messageRetentionDays"` // 0 keeps forever
}

func DefaultSettings() Settings {
	return Settings{AllowFileSharing: true, AllowVoiceCalls: true, AllowVideoCalls: true}
}

type Participant struct {
	ChatID     string    `gorm:"size:36;primaryKey" json:"-"`
	UserID     string    `gorm:"size:36;primaryKey;index" json:"userId"`
	Role       Role      `gorm:"size:16;not null" json:"role"`
	JoinedAt   time.Time `gorm:"not null" json:"joinedAt"`
	LastReadAt time.Time `json:"lastReadAt"`
}

type Chat struct {
	ID          string   `gorm:"size:36;primaryKey" json:"id"`
	Name        string   `gorm:"size:100" json:"name,omitempty"`
	Description string   `gorm:"size:500" json:"description,omitempty"`
	Type        ChatType `gorm:"size:16;not null;index" json:"type"`
	// PairKey is set only for private chats; its unique index keeps one private chat per pair.
	PairKey       *string       `gorm:"size:80;uniqueIndex" json:"-"`
	Participants  []Participant `gorm:"foreignKey:ChatID" json:"participants"`
	CreatedBy     string        `gorm:"size:36;not null" json:"createdBy"`
	LastMessageID *string       `gorm:"size:36" json:"lastMessage,omitempty"`
	LastActivity  time.Time     `gorm:"index" json:"lastActivity"`
	IsActive      bool          `gorm:"not null" json:"isActive"`
	Avatar        string        `gorm:"size:512" json:"avatar"`
	Settings      Settings      `gorm:"embedded;embeddedPrefix:setting_" json:"settings"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func (c *Chat) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// PairKey is the order-independent key of a private chat between a and b.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func (c Chat) IsParticipant(userID string) bool {
	_, ok := c.Participant(userID)
	return ok
}

func (c Chat) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// OtherParticipants returns everyone except userID, in join order.
func (c Chat) OtherParticipants(userID string) []Participant {
	out := make([]Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	return out
}

// AddParticipant appends userID with role. The second result is false when
// the user was already present, in which case c is returned unchanged.
func (c Chat) AddParticipant(userID string, role Role, now time.Time) (Chat, bool) {
	if c.IsParticipant(userID) {
		return c, false
	}
	if role == "" {
		role = RoleMember
	}
	ps := make([]Participant, len(c.Participants), len(c.Participants)+1)
	copy(ps, c.Participants)
	c.Participants = append(ps, Participant{
		ChatID:     c.ID,
		UserID:     userID,
		Role:       role,
		JoinedAt:   now,
		LastReadAt: now,
	})
	return c, true
}

func (c Chat) RemoveParticipant(userID string) (Chat, bool) {
	ps := make([]Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.UserID != userID {
			ps = append(ps, p)
		}
	}
	if len(ps) == len(c.Participants) {
		return c, false
	}
	c.Participants = ps
	return c, true
}

func (c Chat) UpdateLastRead(userID string, now time.Time) (Chat, bool) {
	for i, p := range c.Participants {
		if p.UserID != userID {
			continue
		}
		ps := make([]Participant, len(c.Participants))
		copy(ps, c.Participants)
		ps[i].LastReadAt = now
		c.Participants = ps
		return c, true
	}
	return c, false
}

func (c Chat) CountRole(role Role) int {
	n := 0
	for _, p := range c.Participants {
		if p.Role == role {
			n++
		}
	}
	return n
}

func (c Chat) SetRole(userID string, role Role) (Chat, bool) {
	for i, p := range c.Participants {
		if p.UserID != userID {
			continue
		}
		if p.Role == role {
			return c, false
		}
		ps := make([]Participant, len(c.Participants))
		copy(ps, c.Participants)
		ps[i].Role = role
		c.Participants = ps
		return c, true
	}
	return c, false
}

// WithLastMessage moves lastMessage and lastActivity together.
func (c Chat) WithLastMessage(messageID string, now time.Time) Chat {
	c.LastMessageID = &messageID
	c.LastActivity = now
	return c
}

// SortParticipants orders by join time; rows come back from SQL in key order.
func (c *Chat) SortParticipants() {
	sort.SliceStable(c.Participants, func(i, j int) bool {
		return c.Participants[i].JoinedAt.Before(c.Participants[j].JoinedAt)
	})
}
