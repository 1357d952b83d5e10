package storage

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertChat creates the chat or refreshes its title and kind. It reports whether anything was written.
func (s *Storage) UpsertChat(ctx context.Context, chat Chat) (bool, error) {
	if chat.ID == 0 {
		return false, ErrInvalidChat
	}

	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Chat
		err := tx.Where("id = ?", chat.ID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"title", "kind"}),
			}).Create(&chat)
			if result.Error != nil {
				return result.Error
			}
			changed = result.RowsAffected > 0
			return nil
		}
		if err != nil {
			return err
		}

		if equalPtr(existing.Title, chat.Title) && equalPtr(existing.Kind, chat.Kind) {
			return nil
		}

		result := tx.Model(&Chat{}).Where("id = ?", chat.ID).
			Updates(map[string]any{"title": chat.Title, "kind": chat.Kind})
		if result.Error != nil {
			return result.Error
		}
		changed = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		slog.Error("storage: Failed to upsert chat", "error", err, "chat_id", chat.ID)
		return false, unavailable("upsert chat", err)
	}

	return changed, nil
}

// GetChat retrieves a chat by its Telegram id
func (s *Storage) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var chat Chat
	err := s.db.WithContext(ctx).Where("id = ?", chatID).Take(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("storage: Failed to get chat", "error", err, "chat_id", chatID)
		return nil, unavailable("get chat", err)
	}
	return &chat, nil
}

// DeleteChat removes the chat together with its memberships, groups and group memberships.
func (s *Storage) DeleteChat(ctx context.Context, chatID int64) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		groupIDs := tx.Model(&Group{}).Select("id").Where("chat_id = ?", chatID)
		if err := tx.Where("group_id IN (?)", groupIDs).Delete(&GroupMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&Group{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&ChatMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&ChatMessage{}).Error; err != nil {
			return err
		}

		result := tx.Where("id = ?", chatID).Delete(&Chat{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		slog.Error("storage: Failed to delete chat", "error", err, "chat_id", chatID)
		return false, unavailable("delete chat", err)
	}

	return deleted, nil
}

// ChatsForUser returns chats the user is a member of ordered by title
func (s *Storage) ChatsForUser(ctx context.Context, userID int64) ([]Chat, error) {
	var chats []Chat
	err := s.db.WithContext(ctx).
		Joins("JOIN chat_memberships ON chat_memberships.chat_id = chats.id").
		Where("chat_memberships.user_id = ?", userID).
		Order("chats.title").Order("chats.id").
		Find(&chats).Error
	if err != nil {
		slog.Error("storage: Failed to get chats for user", "error", err, "user_id", userID)
		return nil, unavailable("get chats for user", err)
	}
	return chats, nil
}

// ChatHandles returns handles of all chat members ordered by handle. Members without a handle are skipped.
func (s *Storage) ChatHandles(ctx context.Context, chatID int64) ([]string, error) {
	var handles []string
	err := s.db.WithContext(ctx).Model(&User{}).
		Joins("JOIN chat_memberships ON chat_memberships.user_id = users.id").
		Where("chat_memberships.chat_id = ? AND users.handle IS NOT NULL AND users.handle <> ''", chatID).
		Order("users.handle").Order("users.id").
		Pluck("users.handle", &handles).Error
	if err != nil {
		slog.Error("storage: Failed to get chat handles", "error", err, "chat_id", chatID)
		return nil, unavailable("get chat handles", err)
	}
	return handles, nil
}

// PaginateChatUsers returns one page of chat members and the total member count.
// Members are ordered by handle with missing handles last, then by id, so pages stay stable.
func (s *Storage) PaginateChatUsers(ctx context.Context, chatID int64, limit, offset int) ([]User, int64, error) {
	var total int64
	var users []User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		members := tx.Model(&User{}).
			Joins("JOIN chat_memberships ON chat_memberships.user_id = users.id").
			Where("chat_memberships.chat_id = ?", chatID)
		if err := members.Count(&total).Error; err != nil {
			return err
		}
		if int64(offset) >= total {
			return nil
		}
		return tx.Model(&User{}).
			Joins("JOIN chat_memberships ON chat_memberships.user_id = users.id").
			Where("chat_memberships.chat_id = ?", chatID).
			Order("users.handle IS NULL").Order("users.handle").Order("users.id").
			Limit(limit).Offset(offset).
			Find(&users).Error
	})
	if err != nil {
		slog.Error("storage: Failed to paginate chat users", "error", err, "chat_id", chatID, "offset", offset)
		return nil, 0, unavailable("paginate chat users", err)
	}
	return users, total, nil
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
