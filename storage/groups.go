package storage

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CreateGroupOutcome int

const (
	CreateGroupCreated CreateGroupOutcome = iota + 1
	CreateGroupAlreadyExists
	CreateGroupInvalidName
	CreateGroupChatNotFound
)

func (o CreateGroupOutcome) String() string {
	switch o {
	case CreateGroupCreated:
		return "created"
	case CreateGroupAlreadyExists:
		return "already_exists"
	case CreateGroupInvalidName:
		return "invalid_name"
	case CreateGroupChatNotFound:
		return "chat_not_found"
	default:
		return "unknown"
	}
}

type CreateGroupResult struct {
	Outcome CreateGroupOutcome
	Group   *Group
}

type HandleOutcome int

const (
	HandleAdded HandleOutcome = iota + 1
	HandleAlreadyMember
	HandleRemoved
	HandleNotInGroup
	HandleNotFound
)

func (o HandleOutcome) String() string {
	switch o {
	case HandleAdded:
		return "added"
	case HandleAlreadyMember:
		return "already_member"
	case HandleRemoved:
		return "removed"
	case HandleNotInGroup:
		return "not_in_group"
	case HandleNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// HandleResult is the outcome of a batch membership change for one handle
type HandleResult struct {
	Handle  string
	Outcome HandleOutcome
}

type RenameOutcome int

const (
	RenameDone RenameOutcome = iota + 1
	RenameNameTaken
	RenameNotFound
	RenameInvalidName
)

func (o RenameOutcome) String() string {
	switch o {
	case RenameDone:
		return "renamed"
	case RenameNameTaken:
		return "name_taken"
	case RenameNotFound:
		return "not_found"
	case RenameInvalidName:
		return "invalid_name"
	default:
		return "unknown"
	}
}

// CreateGroup creates a new mention group in a chat
func (s *Storage) CreateGroup(ctx context.Context, chatID int64, name string) (CreateGroupResult, error) {
	result, _, err := s.CreateGroupWithUsers(ctx, chatID, name, nil)
	return result, err
}

// CreateGroupWithUsers creates the group and adds users by handle in one transaction.
// When the group already exists the handles are still added to it.
func (s *Storage) CreateGroupWithUsers(ctx context.Context, chatID int64, name string, handles []string) (CreateGroupResult, []HandleResult, error) {
	if !IsValidGroupName(name) {
		return CreateGroupResult{Outcome: CreateGroupInvalidName}, nil, nil
	}

	var result CreateGroupResult
	var handleResults []HandleResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = createGroup(tx, chatID, name)
		if err != nil {
			return err
		}
		if result.Group == nil || len(handles) == 0 {
			return nil
		}

		handleResults, err = addHandles(tx, result.Group, handles)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return CreateGroupResult{Outcome: CreateGroupAlreadyExists}, nil, nil
		}
		slog.Error("storage: Failed to create group", "error", err, "name", name, "chat_id", chatID)
		return CreateGroupResult{}, nil, unavailable("create group", err)
	}

	return result, handleResults, nil
}

func createGroup(tx *gorm.DB, chatID int64, name string) (CreateGroupResult, error) {
	var count int64
	if err := tx.Model(&Chat{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
		return CreateGroupResult{}, err
	}
	if count == 0 {
		return CreateGroupResult{Outcome: CreateGroupChatNotFound}, nil
	}

	group := Group{ChatID: chatID, Name: name, Version: 1}
	created := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "name"}},
		DoNothing: true,
	}).Create(&group)
	if created.Error != nil {
		return CreateGroupResult{}, created.Error
	}

	outcome := CreateGroupCreated
	if created.RowsAffected == 0 {
		outcome = CreateGroupAlreadyExists
	}

	var stored Group
	if err := tx.Where("chat_id = ? AND name = ?", chatID, name).Take(&stored).Error; err != nil {
		return CreateGroupResult{}, err
	}

	return CreateGroupResult{Outcome: outcome, Group: &stored}, nil
}

// AddUsersToGroup adds users found by handle to the group. Handles are processed one by one:
// unknown handles are reported, not treated as a failure.
//
// Only global existence of the user is required here, unlike ReplaceGroupMembership which
// accepts chat members only.
func (s *Storage) AddUsersToGroup(ctx context.Context, chatID int64, name string, handles []string) ([]HandleResult, error) {
	var results []HandleResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := findGroup(tx, chatID, name)
		if err != nil {
			return err
		}

		results, err = addHandles(tx, group, handles)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		slog.Error("storage: Failed to add users to group", "error", err, "name", name, "chat_id", chatID)
		return nil, unavailable("add users to group", err)
	}

	return results, nil
}

// RemoveUsersFromGroup removes users found by handle from the group.
func (s *Storage) RemoveUsersFromGroup(ctx context.Context, chatID int64, name string, handles []string) ([]HandleResult, error) {
	var results []HandleResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := findGroup(tx, chatID, name)
		if err != nil {
			return err
		}

		changed := false
		for _, handle := range handles {
			user, err := findUserByHandle(tx, handle)
			if err != nil {
				return err
			}
			if user == nil {
				results = append(results, HandleResult{Handle: handle, Outcome: HandleNotFound})
				continue
			}

			deleted := tx.Where("group_id = ? AND user_id = ?", group.ID, user.ID).Delete(&GroupMember{})
			if deleted.Error != nil {
				return deleted.Error
			}
			if deleted.RowsAffected > 0 {
				changed = true
				results = append(results, HandleResult{Handle: handle, Outcome: HandleRemoved})
			} else {
				results = append(results, HandleResult{Handle: handle, Outcome: HandleNotInGroup})
			}
		}

		if changed {
			return bumpVersion(tx, group.ID)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		slog.Error("storage: Failed to remove users from group", "error", err, "name", name, "chat_id", chatID)
		return nil, unavailable("remove users from group", err)
	}

	return results, nil
}

func addHandles(tx *gorm.DB, group *Group, handles []string) ([]HandleResult, error) {
	results := make([]HandleResult, 0, len(handles))
	changed := false
	for _, handle := range handles {
		user, err := findUserByHandle(tx, handle)
		if err != nil {
			return nil, err
		}
		if user == nil {
			results = append(results, HandleResult{Handle: handle, Outcome: HandleNotFound})
			continue
		}

		created := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).
			Create(&GroupMember{UserID: user.ID, GroupID: group.ID})
		if created.Error != nil {
			return nil, created.Error
		}
		if created.RowsAffected > 0 {
			changed = true
			results = append(results, HandleResult{Handle: handle, Outcome: HandleAdded})
		} else {
			results = append(results, HandleResult{Handle: handle, Outcome: HandleAlreadyMember})
		}
	}

	if changed {
		if err := bumpVersion(tx, group.ID); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// DeleteGroup deletes a group and its memberships. It returns false if there is no such group.
func (s *Storage) DeleteGroup(ctx context.Context, chatID int64, name string) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := findGroup(tx, chatID, name)
		if err != nil {
			return err
		}
		return deleteGroup(tx, group.ID)
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		slog.Error("storage: Failed to delete group", "error", err, "name", name, "chat_id", chatID)
		return false, unavailable("delete group", err)
	}

	return true, nil
}

// DeleteGroupByID deletes the group with the id within the chat, whatever its name is now.
// It returns false if there is no such group.
func (s *Storage) DeleteGroupByID(ctx context.Context, chatID int64, groupID int32) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group Group
		err := tx.Where("id = ? AND chat_id = ?", groupID, chatID).Take(&group).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return deleteGroup(tx, group.ID)
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		slog.Error("storage: Failed to delete group", "error", err, "group_id", groupID, "chat_id", chatID)
		return false, unavailable("delete group", err)
	}

	return true, nil
}

func deleteGroup(tx *gorm.DB, groupID int32) error {
	if err := tx.Where("group_id = ?", groupID).Delete(&GroupMember{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", groupID).Delete(&Group{}).Error
}

// RenameGroup gives the group a new name unique within its chat.
func (s *Storage) RenameGroup(ctx context.Context, groupID int32, chatID int64, newName string) (RenameOutcome, error) {
	if !IsValidGroupName(newName) {
		return RenameInvalidName, nil
	}

	outcome := RenameDone
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group Group
		err := tx.Where("id = ? AND chat_id = ?", groupID, chatID).Take(&group).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = RenameNotFound
			return nil
		}
		if err != nil {
			return err
		}
		if group.Name == newName {
			return nil
		}

		var taken int64
		if err := tx.Model(&Group{}).Where("chat_id = ? AND name = ?", chatID, newName).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			outcome = RenameNameTaken
			return nil
		}

		return tx.Model(&Group{}).Where("id = ?", groupID).Updates(map[string]any{
			"name":    newName,
			"version": gorm.Expr("version + 1"),
		}).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return RenameNameTaken, nil
		}
		slog.Error("storage: Failed to rename group", "error", err, "group_id", groupID, "chat_id", chatID)
		return 0, unavailable("rename group", err)
	}

	return outcome, nil
}

// GetGroup retrieves a group by name and chat ID
func (s *Storage) GetGroup(ctx context.Context, chatID int64, name string) (*Group, error) {
	group, err := findGroup(s.db.WithContext(ctx), chatID, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		slog.Error("storage: Failed to get group", "error", err, "name", name, "chat_id", chatID)
		return nil, unavailable("get group", err)
	}
	return group, err
}

// GetGroupByID retrieves a group by its id, scoped to the chat
func (s *Storage) GetGroupByID(ctx context.Context, chatID int64, groupID int32) (*Group, error) {
	var group Group
	err := s.db.WithContext(ctx).Where("id = ? AND chat_id = ?", groupID, chatID).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("storage: Failed to get group", "error", err, "group_id", groupID, "chat_id", chatID)
		return nil, unavailable("get group", err)
	}
	return &group, nil
}

// PaginateGroups returns one page of the chat's groups ordered by name and the total count
func (s *Storage) PaginateGroups(ctx context.Context, chatID int64, limit, offset int) ([]Group, int64, error) {
	var total int64
	var groups []Group
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Group{}).Where("chat_id = ?", chatID).Count(&total).Error; err != nil {
			return err
		}
		if int64(offset) >= total {
			return nil
		}
		return tx.Where("chat_id = ?", chatID).
			Order("name").Order("id").
			Limit(limit).Offset(offset).
			Find(&groups).Error
	})
	if err != nil {
		slog.Error("storage: Failed to paginate groups", "error", err, "chat_id", chatID, "offset", offset)
		return nil, 0, unavailable("paginate groups", err)
	}
	return groups, total, nil
}

// GroupMembers retrieves all members of a group
func (s *Storage) GroupMembers(ctx context.Context, groupID int32) ([]User, error) {
	var users []User
	err := s.db.WithContext(ctx).
		Joins("JOIN group_memberships ON group_memberships.user_id = users.id").
		Where("group_memberships.group_id = ?", groupID).
		Order("users.handle IS NULL").Order("users.handle").Order("users.id").
		Find(&users).Error
	if err != nil {
		slog.Error("storage: Failed to get group members", "error", err, "group_id", groupID)
		return nil, unavailable("get group members", err)
	}
	return users, nil
}

// GroupMemberIDs returns ids of the group members
func (s *Storage) GroupMemberIDs(ctx context.Context, groupID int32) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&GroupMember{}).
		Where("group_id = ?", groupID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		slog.Error("storage: Failed to get group member ids", "error", err, "group_id", groupID)
		return nil, unavailable("get group member ids", err)
	}
	return ids, nil
}

// GroupHandles returns handles of the group members ordered by handle
func (s *Storage) GroupHandles(ctx context.Context, groupID int32) ([]string, error) {
	var handles []string
	err := s.db.WithContext(ctx).Model(&User{}).
		Joins("JOIN group_memberships ON group_memberships.user_id = users.id").
		Where("group_memberships.group_id = ? AND users.handle IS NOT NULL AND users.handle <> ''", groupID).
		Order("users.handle").Order("users.id").
		Pluck("users.handle", &handles).Error
	if err != nil {
		slog.Error("storage: Failed to get group handles", "error", err, "group_id", groupID)
		return nil, unavailable("get group handles", err)
	}
	return handles, nil
}

func findGroup(tx *gorm.DB, chatID int64, name string) (*Group, error) {
	var group Group
	err := tx.Where("chat_id = ? AND name = ?", chatID, name).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func bumpVersion(tx *gorm.DB, groupID int32) error {
	return tx.Model(&Group{}).Where("id = ?", groupID).
		Update("version", gorm.Expr("version + 1")).Error
}
