package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pelusa-v/pelusa-chat/internal/models"
)

type NewMessage struct {
	Content     string
	Type        models.MessageType
	ReplyTo     string
	Attachments []models.Attachment
}

func preloadMessage(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Reactions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("ReadBy", func(db *gorm.DB) *gorm.DB { return db.Order("read_at ASC") })
}

func (s *Store) GetMessage(ctx context.Context, chatID, messageID string) (*models.Message, error) {
	return getMessage(s.db.WithContext(ctx), chatID, messageID)
}

func getMessage(db *gorm.DB, chatID, messageID string) (*models.Message, error) {
	var m models.Message
	err := preloadMessage(db).Take(&m, "id = ? AND chat_id = ?", messageID, chatID).Error
	if err != nil {
		return nil, notFound(err, "message")
	}
	return &m, nil
}

func requireParticipant(tx *gorm.DB, chatID, userID string) error {
	var n int64
	err := tx.Model(&models.Participant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrForbidden
	}
	return nil
}

// SendMessage stores a message and moves the chat's lastMessage in the same
// transaction. A replyTo that is missing or points into another chat is
// dropped; the message is still stored.
func (s *Store) SendMessage(ctx context.Context, chatID, senderID string, in NewMessage) (*models.Message, error) {
	var out *models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if !c.IsActive {
			return notFound(gorm.ErrRecordNotFound, "chat")
		}
		if !c.IsParticipant(senderID) {
			return ErrForbidden
		}
		if len(in.Attachments) > 0 && !c.Settings.AllowFileSharing {
			return ErrFileSharingDisabled
		}

		now := s.now()
		m := models.Message{
			Content:     strings.TrimSpace(in.Content),
			SenderID:    senderID,
			ChatID:      chatID,
			Type:        in.Type,
			Attachments: in.Attachments,
			CreatedAt:   now,
		}
		if m.Type == "" || !m.Type.Valid() {
			m.Type = models.MessageText
			if len(in.Attachments) > 0 {
				m.Type = models.MessageTypeForMIME(in.Attachments[0].MimeType)
			}
		}
		if in.ReplyTo != "" {
			var ref models.Message
			err := tx.Select("id", "chat_id").Take(&ref, "id = ?", in.ReplyTo).Error
			switch {
			case err == nil && ref.ChatID == chatID:
				m.ReplyTo = &ref.ID
			case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}
		if err := tx.Create(&m).Error; err != nil {
			return err
		}

		updated := c.WithLastMessage(m.ID, now)
		err = tx.Model(&models.Chat{}).Where("id = ?", chatID).Updates(map[string]any{
			"last_message_id": updated.LastMessageID,
			"last_activity":   updated.LastActivity,
		}).Error
		if err != nil {
			return err
		}
		out = &m
		return nil
	})
	return out, err
}

// messageForUpdate loads a message of chatID after checking userID takes part in the chat.
func messageForUpdate(tx *gorm.DB, chatID, messageID, userID string) (*models.Message, error) {
	if err := requireParticipant(tx, chatID, userID); err != nil {
		return nil, err
	}
	var m models.Message
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&m, "id = ? AND chat_id = ?", messageID, chatID).Error
	if err != nil {
		return nil, notFound(err, "message")
	}
	return &m, nil
}

// AddReaction sets userID's reaction to emoji, replacing any previous one.
func (s *Store) AddReaction(ctx context.Context, chatID, messageID, userID, emoji string) (*models.Message, error) {
	var out *models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := messageForUpdate(tx, chatID, messageID, userID)
		if err != nil {
			return err
		}
		if m.Hidden() {
			return notFound(gorm.ErrRecordNotFound, "message")
		}
		r := models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: s.now()}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"emoji", "created_at"}),
		}).Create(&r).Error
		if err != nil {
			return err
		}
		out, err = getMessage(tx, chatID, messageID)
		return err
	})
	return out, err
}

func (s *Store) RemoveReaction(ctx context.Context, chatID, messageID, userID string) (*models.Message, error) {
	var out *models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := messageForUpdate(tx, chatID, messageID, userID); err != nil {
			return err
		}
		err := tx.Where("message_id = ? AND user_id = ?", messageID, userID).
			Delete(&models.Reaction{}).Error
		if err != nil {
			return err
		}
		out, err = getMessage(tx, chatID, messageID)
		return err
	})
	return out, err
}

// MarkRead records the first read by userID; repeated reads keep the first timestamp.
func (s *Store) MarkRead(ctx context.Context, chatID, messageID, userID string) (*models.Message, error) {
	var out *models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := messageForUpdate(tx, chatID, messageID, userID); err != nil {
			return err
		}
		rr := models.ReadReceipt{MessageID: messageID, UserID: userID, ReadAt: s.now()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rr).Error; err != nil {
			return err
		}
		var err error
		out, err = getMessage(tx, chatID, messageID)
		return err
	})
	return out, err
}

// SoftDelete flags the message deleted. Only the sender may delete; the
// stored content stays for audit and is redacted on serialization.
func (s *Store) SoftDelete(ctx context.Context, chatID, messageID, deleterID string) (*models.Message, error) {
	var out *models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.Message
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&m, "id = ? AND chat_id = ?", messageID, chatID).Error
		if err != nil {
			return notFound(err, "message")
		}
		if m.IsDeleted {
			out = &m
			return nil
		}
		deleted, err := m.SoftDelete(deleterID, s.now())
		if err != nil {
			if errors.Is(err, models.ErrNotSender) {
				return ErrForbidden
			}
			return err
		}
		err = tx.Model(&models.Message{}).
			Where("id = ? AND sender_id = ? AND is_deleted = ?", messageID, deleterID, false).
			Updates(map[string]any{
				"is_deleted": true,
				"deleted_at": deleted.DeletedAt,
				"deleted_by": deleted.DeletedBy,
			}).Error
		if err != nil {
			return err
		}
		out, err = getMessage(tx, chatID, messageID)
		return err
	})
	return out, err
}

func (s *Store) EditMessage(ctx context.Context, chatID, messageID, editorID, content string) (*models.Message, error) {
	var out *models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.Message
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&m, "id = ? AND chat_id = ?", messageID, chatID).Error
		if err != nil {
			return notFound(err, "message")
		}
		if m.Hidden() {
			return notFound(gorm.ErrRecordNotFound, "message")
		}
		edited, err := m.Edit(editorID, strings.TrimSpace(content), s.now())
		if err != nil {
			if errors.Is(err, models.ErrNotSender) {
				return ErrForbidden
			}
			return err
		}
		err = tx.Model(&models.Message{}).Where("id = ?", messageID).Updates(map[string]any{
			"content":   edited.Content,
			"is_edited": true,
			"edited_at": edited.EditedAt,
		}).Error
		if err != nil {
			return err
		}
		out, err = getMessage(tx, chatID, messageID)
		return err
	})
	return out, err
}
