package models

import (
	"strings"
	"time"
)

// User is the identity record the resolver reads. Users are owned by the
// account service; this module never writes them outside of tests and tools.
type User struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	Username  string    `gorm:"size:50;uniqueIndex;not null" json:"username"`
	FirstName string    `gorm:"size:50" json:"firstName"`
	LastName  string    `gorm:"size:50" json:"lastName"`
	Avatar    string    `gorm:"size:512" json:"avatar"`
	IsActive  bool      `gorm:"not null" json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Status is a user's presence.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	}
	return false
}

// Available reports whether the user can be offered an incoming call.
func (s Status) Available() bool {
	return s == StatusOnline || s == StatusAway
}
