package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// legacyMentionGroup is a row of the schema used by the previous mention bot.
type legacyMentionGroup struct {
	ID     uint
	Name   string
	ChatID int64
}

func (legacyMentionGroup) TableName() string { return "mention_groups" }

type legacyGroupMember struct {
	GroupID   uint
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

func (legacyGroupMember) TableName() string { return "group_members" }

// importLegacy moves mention groups of the old schema into the current tables and drops the old ones.
// Names are converted to the current pattern ("-" becomes "_"), members become chat members too.
func (s *Storage) importLegacy(ctx context.Context) error {
	migrator := s.db.WithContext(ctx).Migrator()
	if !migrator.HasTable(&legacyMentionGroup{}) {
		return nil
	}

	var imported, skipped int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var groups []legacyMentionGroup
		if err := tx.Find(&groups).Error; err != nil {
			return err
		}

		var members []legacyGroupMember
		if tx.Migrator().HasTable(&legacyGroupMember{}) {
			if err := tx.Find(&members).Error; err != nil {
				return err
			}
		}

		groupIDs := make(map[uint]Group, len(groups))
		for _, lg := range groups {
			name := strings.ReplaceAll(lg.Name, "-", "_")
			if !IsValidGroupName(name) {
				slog.Warn("storage: Skipping legacy group with invalid name", "name", lg.Name, "chat_id", lg.ChatID)
				skipped++
				continue
			}

			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Chat{ID: lg.ChatID}).Error; err != nil {
				return err
			}

			group := Group{ChatID: lg.ChatID, Name: name, Version: 1}
			if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&group).Error; err != nil {
				return err
			}
			if err := tx.Where("chat_id = ? AND name = ?", lg.ChatID, name).First(&group).Error; err != nil {
				return err
			}
			groupIDs[lg.ID] = group
			imported++
		}

		for _, lm := range members {
			group, ok := groupIDs[lm.GroupID]
			if !ok {
				continue
			}

			user, err := NewUser(lm.UserID, strings.TrimSpace(lm.FirstName+" "+lm.LastName), lm.Username)
			if err != nil {
				continue
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
				return err
			}
			if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).
				Create(&ChatMember{UserID: user.ID, ChatID: group.ChatID}).Error; err != nil {
				return err
			}
			if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).
				Create(&GroupMember{UserID: user.ID, GroupID: group.ID}).Error; err != nil {
				return err
			}
		}

		if err := tx.Migrator().DropTable(&legacyGroupMember{}, &legacyMentionGroup{}); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		slog.Error("storage: Failed to import legacy mention groups", "error", err)
		return fmt.Errorf("failed to import legacy mention groups: %w", err)
	}

	slog.Info("storage: Imported legacy mention groups", "imported", imported, "skipped", skipped)
	return nil
}
