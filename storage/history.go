package storage

import (
	"context"
	"log/slog"

	"gorm.io/gorm"
)

// AppendChatMessage stores a message and prunes the chat history down to the newest keep rows.
func (s *Storage) AppendChatMessage(ctx context.Context, msg ChatMessage, keep int) error {
	if msg.ChatID == 0 {
		return ErrInvalidChat
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("AuthorName").Create(&msg).Error; err != nil {
			return err
		}
		if keep <= 0 {
			return nil
		}

		newest := tx.Model(&ChatMessage{}).Select("id").
			Where("chat_id = ?", msg.ChatID).
			Order("id DESC").Limit(keep)
		return tx.Where("chat_id = ? AND id NOT IN (?)", msg.ChatID, newest).Delete(&ChatMessage{}).Error
	})
	if err != nil {
		slog.Error("storage: Failed to append chat message", "error", err, "chat_id", msg.ChatID)
		return unavailable("append chat message", err)
	}

	return nil
}

// RecentChatMessages returns up to limit newest messages of the chat, oldest first.
// AuthorName is filled from the sender's display name or handle when known.
func (s *Storage) RecentChatMessages(ctx context.Context, chatID int64, limit int) ([]ChatMessage, error) {
	var messages []ChatMessage
	err := s.db.WithContext(ctx).Model(&ChatMessage{}).
		Select("chat_messages.*, COALESCE(users.display_name, users.handle, '') AS author_name").
		Joins("LEFT JOIN users ON users.id = chat_messages.user_id").
		Where("chat_messages.chat_id = ?", chatID).
		Order("chat_messages.id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		slog.Error("storage: Failed to get recent chat messages", "error", err, "chat_id", chatID)
		return nil, unavailable("get recent chat messages", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
