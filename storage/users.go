package storage

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateUser inserts the user unless a user with the same id already exists.
func (s *Storage) CreateUser(ctx context.Context, user User) (bool, error) {
	if user.ID == 0 {
		return false, ErrInvalidUser
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&user)
	if result.Error != nil {
		slog.Error("storage: Failed to create user", "error", result.Error, "user_id", user.ID)
		return false, unavailable("create user", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// GetUser retrieves a user by its Telegram id
func (s *Storage) GetUser(ctx context.Context, userID int64) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("storage: Failed to get user", "error", err, "user_id", userID)
		return nil, unavailable("get user", err)
	}
	return &user, nil
}

// UpdateUser replaces display name and handle. It returns false when the user is missing
// or nothing changed.
func (s *Storage) UpdateUser(ctx context.Context, user User) (bool, error) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing User
		err := tx.Where("id = ?", user.ID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if equalPtr(existing.DisplayName, user.DisplayName) && equalPtr(existing.Handle, user.Handle) {
			return nil
		}

		result := tx.Model(&User{}).Where("id = ?", user.ID).
			Updates(map[string]any{"display_name": user.DisplayName, "handle": user.Handle})
		if result.Error != nil {
			return result.Error
		}
		changed = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		slog.Error("storage: Failed to update user", "error", err, "user_id", user.ID)
		return false, unavailable("update user", err)
	}

	return changed, nil
}

// LinkUserToChat makes the user a member of the chat. It returns false without an error
// when the user or the chat does not exist or when the link is already present.
func (s *Storage) LinkUserToChat(ctx context.Context, userID, chatID int64) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		if err := tx.Model(&Chat{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return nil
		}

		result := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).
			Create(&ChatMember{UserID: userID, ChatID: chatID})
		if result.Error != nil {
			return result.Error
		}
		created = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		slog.Error("storage: Failed to link user to chat", "error", err, "user_id", userID, "chat_id", chatID)
		return false, unavailable("link user to chat", err)
	}

	return created, nil
}

// IsChatMember checks if a user is linked to a chat
func (s *Storage) IsChatMember(ctx context.Context, userID, chatID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ChatMember{}).
		Where("user_id = ? AND chat_id = ?", userID, chatID).Count(&count).Error
	if err != nil {
		slog.Error("storage: Failed to check chat membership", "error", err, "user_id", userID, "chat_id", chatID)
		return false, unavailable("check chat membership", err)
	}
	return count > 0, nil
}

// findUserByHandle returns the oldest user with the exact handle or nil.
func findUserByHandle(tx *gorm.DB, handle string) (*User, error) {
	var user User
	err := tx.Where("handle = ?", handle).Order("id").Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
