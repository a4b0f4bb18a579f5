package store

import (
	"context"

	"github.com/pelusa-v/pelusa-chat/internal/models"
)

// ExpireMessages flags messages older than their chat's retention period as
// expired and returns how many were flagged. Rows, attachments, reactions
// and read receipts are kept; expired content is redacted on serialization.
func (s *Store) ExpireMessages(ctx context.Context) (int64, error) {
	var chats []models.Chat
	err := s.db.WithContext(ctx).
		Select("id", "setting_message_retention_days").
		Where("setting_message_retention_days > ?", 0).
		Find(&chats).Error
	if err != nil {
		return 0, err
	}

	now := s.now()
	var total int64
	for _, c := range chats {
		cutoff := now.AddDate(0, 0, -c.Settings.MessageRetentionDays)
		res := s.db.WithContext(ctx).Model(&models.Message{}).
			Where("chat_id = ? AND created_at < ? AND expired_at IS NULL", c.ID, cutoff).
			Update("expired_at", now)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}
