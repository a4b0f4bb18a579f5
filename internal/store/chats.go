package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pelusa-v/pelusa-chat/internal/models"
)

// NewChat is a create request. The creator is always added as owner.
type NewChat struct {
	Type         models.ChatType
	Name         string
	Description  string
	Participants []string
	Settings     *models.Settings
}

type SettingsPatch struct {
	AllowFileSharing     *bool `json:"allowFileSharing"`
	AllowVoiceCalls      *bool `json:"allowVoiceCalls"`
	AllowVideoCalls      *bool `json:"allowVideoCalls"`
	MessageRetentionDays *int  `json:"messageRetentionDays"`
}

func (p SettingsPatch) apply(s models.Settings) models.Settings {
	if p.AllowFileSharing != nil {
		s.AllowFileSharing = *p.AllowFileSharing
	}
	if p.AllowVoiceCalls != nil {
		s.AllowVoiceCalls = *p.AllowVoiceCalls
	}
	if p.AllowVideoCalls != nil {
		s.AllowVideoCalls = *p.AllowVideoCalls
	}
	if p.MessageRetentionDays != nil && *p.MessageRetentionDays >= 0 {
		s.MessageRetentionDays = *p.MessageRetentionDays
	}
	return s
}

type ChatPatch struct {
	Name        *string       `json:"name"`
	Description *string       `json:"description"`
	Settings    SettingsPatch `json:"settings"`
}

func preloadParticipants(db *gorm.DB) *gorm.DB {
	return db.Preload("Participants", func(db *gorm.DB) *gorm.DB {
		return db.Order("joined_at ASC")
	})
}

func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var c models.Chat
	if err := preloadParticipants(s.db.WithContext(ctx)).Take(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "chat")
	}
	c.SortParticipants()
	return &c, nil
}

func (s *Store) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&n).Error
	return n > 0, err
}

// lockChat loads the chat and holds its row lock for the rest of tx, which
// serializes every membership and lastMessage change on the chat.
func lockChat(tx *gorm.DB, id string) (*models.Chat, error) {
	var c models.Chat
	err := preloadParticipants(tx.Clauses(clause.Locking{Strength: "UPDATE"})).Take(&c, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "chat")
	}
	c.SortParticipants()
	return &c, nil
}

func uniqueIDs(creatorID string, ids []string) []string {
	seen := map[string]bool{creatorID: true}
	out := []string{creatorID}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CreateChat stores a new chat. A private chat for a pair that already has
// one fails with *ConflictError carrying the existing id.
func (s *Store) CreateChat(ctx context.Context, creatorID string, in NewChat) (*models.Chat, error) {
	ids := uniqueIDs(creatorID, in.Participants)
	switch in.Type {
	case models.ChatPrivate:
		if len(ids) != 2 {
			return nil, fmt.Errorf("%w: private chat needs exactly one other participant", ErrInvalidChat)
		}
	case models.ChatGroup:
		if strings.TrimSpace(in.Name) == "" {
			return nil, fmt.Errorf("%w: group chat needs a name", ErrInvalidChat)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidChat, in.Type)
	}

	var active int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id IN ? AND is_active = ?", ids, true).
		Count(&active).Error
	if err != nil {
		return nil, err
	}
	if int(active) != len(ids) {
		return nil, fmt.Errorf("participant: %w", ErrNotFound)
	}

	now := s.now()
	chat := models.Chat{
		Type:         in.Type,
		CreatedBy:    creatorID,
		LastActivity: now,
		IsActive:     true,
		Settings:     models.DefaultSettings(),
	}
	if in.Settings != nil {
		chat.Settings = *in.Settings
	}
	if in.Type == models.ChatGroup {
		chat.Name = strings.TrimSpace(in.Name)
		chat.Description = strings.TrimSpace(in.Description)
	} else {
		key := models.PairKey(ids[0], ids[1])
		chat.PairKey = &key
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&chat)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing models.Chat
			if err := tx.Select("id").Take(&existing, "pair_key = ?", *chat.PairKey).Error; err != nil {
				return err
			}
			return &ConflictError{ChatID: existing.ID}
		}
		for _, id := range ids {
			role := models.RoleMember
			if id == creatorID {
				role = models.RoleOwner
			}
			chat, _ = chat.AddParticipant(id, role, now)
		}
		return tx.Create(&chat.Participants).Error
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// AddParticipant adds userID to a group chat. Adding an existing participant is a no-op.
func (s *Store) AddParticipant(ctx context.Context, chatID, actorID, userID string, role models.Role) (*models.Chat, error) {
	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	var out *models.Chat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if c.Type == models.ChatPrivate {
			return ErrPrivateChat
		}
		actor, ok := c.Participant(actorID)
		if !ok || !actor.Role.CanManage() {
			return ErrForbidden
		}
		var u models.User
		if err := tx.Take(&u, "id = ? AND is_active = ?", userID, true).Error; err != nil {
			return notFound(err, "user")
		}

		updated, added := c.AddParticipant(userID, role, s.now())
		if added {
			p := updated.Participants[len(updated.Participants)-1]
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
				return err
			}
		}
		out = &updated
		return nil
	})
	return out, err
}

// RemoveParticipant removes userID from a group chat. Participants may remove
// themselves; removing others needs owner or admin. The chat is kept even
// when it ends up empty.
func (s *Store) RemoveParticipant(ctx context.Context, chatID, actorID, userID string) (*models.Chat, error) {
	var out *models.Chat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if c.Type == models.ChatPrivate {
			return ErrPrivateChat
		}
		actor, ok := c.Participant(actorID)
		if !ok {
			return ErrForbidden
		}
		if userID != actorID && !actor.Role.CanManage() {
			return ErrForbidden
		}

		updated, removed := c.RemoveParticipant(userID)
		if removed {
			err := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).
				Delete(&models.Participant{}).Error
			if err != nil {
				return err
			}
		}
		out = &updated
		return nil
	})
	return out, err
}

// SetRole changes a participant's role; only owner or admin may do it.
// Only an owner may demote an owner, and the last owner cannot be demoted.
func (s *Store) SetRole(ctx context.Context, chatID, actorID, userID string, role models.Role) (*models.Chat, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	var out *models.Chat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		actor, ok := c.Participant(actorID)
		if !ok || !actor.Role.CanManage() {
			return ErrForbidden
		}
		target, ok := c.Participant(userID)
		if !ok {
			return fmt.Errorf("participant: %w", ErrNotFound)
		}
		if target.Role == models.RoleOwner && role != models.RoleOwner {
			if actor.Role != models.RoleOwner || c.CountRole(models.RoleOwner) == 1 {
				return ErrForbidden
			}
		}
		updated, changed := c.SetRole(userID, role)
		if changed {
			err := tx.Model(&models.Participant{}).
				Where("chat_id = ? AND user_id = ?", chatID, userID).
				Update("role", role).Error
			if err != nil {
				return err
			}
		}
		out = &updated
		return nil
	})
	return out, err
}

// UpdateLastRead stamps the participant's lastReadAt. Non-participants are ignored.
func (s *Store) UpdateLastRead(ctx context.Context, chatID, userID string) error {
	return s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Update("last_read_at", s.now()).Error
}

// UpdateChat applies name/description/settings changes; owner or admin only.
func (s *Store) UpdateChat(ctx context.Context, chatID, actorID string, patch ChatPatch) (*models.Chat, error) {
	var out *models.Chat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		actor, ok := c.Participant(actorID)
		if !ok || !actor.Role.CanManage() {
			return ErrForbidden
		}
		if c.Type == models.ChatGroup {
			if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
				c.Name = strings.TrimSpace(*patch.Name)
			}
			if patch.Description != nil {
				c.Description = strings.TrimSpace(*patch.Description)
			}
		}
		c.Settings = patch.Settings.apply(c.Settings)
		err = tx.Model(&models.Chat{}).Where("id = ?", chatID).Updates(map[string]any{
			"name":                           c.Name,
			"description":                    c.Description,
			"setting_allow_file_sharing":     c.Settings.AllowFileSharing,
			"setting_allow_voice_calls":      c.Settings.AllowVoiceCalls,
			"setting_allow_video_calls":      c.Settings.AllowVideoCalls,
			"setting_message_retention_days": c.Settings.MessageRetentionDays,
		}).Error
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}
