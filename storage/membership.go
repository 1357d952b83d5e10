package storage

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReplaceOutcome int

const (
	ReplaceCreated ReplaceOutcome = iota + 1
	ReplaceUpdated
	ReplaceStale
	ReplaceInvalidName
	ReplaceAlreadyExists
)

// MustCreate as ifVersion makes ReplaceGroupMembership refuse to touch an existing group.
const MustCreate int64 = -1

func (o ReplaceOutcome) String() string {
	switch o {
	case ReplaceCreated:
		return "created"
	case ReplaceUpdated:
		return "updated"
	case ReplaceStale:
		return "stale"
	case ReplaceInvalidName:
		return "invalid_name"
	case ReplaceAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

type ReplaceResult struct {
	Outcome ReplaceOutcome
	Group   *Group
	// Added counts users that were not members before the call.
	Added int
	// Removed counts former members that are not members anymore.
	Removed int
	// Skipped counts distinct requested users that are not members of the chat.
	Skipped int
}

var (
	errStaleVersion = errors.New("group version changed")
	errGroupExists  = errors.New("group already exists")
)

// ReplaceGroupMembership sets the group's members to the given users in one transaction,
// creating the group when it does not exist. Users that are not members of the chat are skipped.
//
// A positive ifVersion makes the write conditional: when the stored version differs
// (or the group is gone) nothing is written and the outcome is ReplaceStale. With MustCreate an
// existing group is left as is and the outcome is ReplaceAlreadyExists.
func (s *Storage) ReplaceGroupMembership(ctx context.Context, chatID int64, name string, userIDs []int64, ifVersion int64) (ReplaceResult, error) {
	if !IsValidGroupName(name) {
		return ReplaceResult{Outcome: ReplaceInvalidName}, nil
	}

	requested := uniqueIDs(userIDs)

	var result ReplaceResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result = ReplaceResult{}

		var count int64
		if err := tx.Model(&Chat{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}

		group, err := findGroup(tx, chatID, name)
		switch {
		case errors.Is(err, ErrNotFound):
			if ifVersion > 0 {
				return errStaleVersion
			}
			created, err := createGroup(tx, chatID, name)
			if err != nil {
				return err
			}
			if created.Outcome != CreateGroupCreated {
				// Created concurrently between the lookup and the insert.
				return errGroupExists
			}
			group = created.Group
			result.Outcome = ReplaceCreated
		case err != nil:
			return err
		default:
			if ifVersion == MustCreate {
				return errGroupExists
			}
			if ifVersion > 0 && group.Version != ifVersion {
				return errStaleVersion
			}
			bumped := tx.Model(&Group{}).Where("id = ? AND version = ?", group.ID, group.Version).
				Update("version", gorm.Expr("version + 1"))
			if bumped.Error != nil {
				return bumped.Error
			}
			if bumped.RowsAffected == 0 {
				return errStaleVersion
			}
			group.Version++
			result.Outcome = ReplaceUpdated
		}
		result.Group = group

		var previous []int64
		if err := tx.Model(&GroupMember{}).Where("group_id = ?", group.ID).Pluck("user_id", &previous).Error; err != nil {
			return err
		}

		var verified []int64
		if len(requested) > 0 {
			err := tx.Model(&ChatMember{}).
				Where("chat_id = ? AND user_id IN ?", chatID, requested).
				Order("user_id").
				Pluck("user_id", &verified).Error
			if err != nil {
				return err
			}
		}
		result.Skipped = len(requested) - len(verified)

		if err := tx.Where("group_id = ?", group.ID).Delete(&GroupMember{}).Error; err != nil {
			return err
		}
		if len(verified) > 0 {
			members := make([]GroupMember, 0, len(verified))
			for _, id := range verified {
				members = append(members, GroupMember{UserID: id, GroupID: group.ID})
			}
			if err := tx.Omit(clause.Associations).Create(&members).Error; err != nil {
				return err
			}
		}

		result.Added = countMissing(verified, previous)
		result.Removed = countMissing(previous, verified)
		return nil
	})
	if errors.Is(err, errStaleVersion) {
		return ReplaceResult{Outcome: ReplaceStale}, nil
	}
	if errors.Is(err, errGroupExists) {
		if ifVersion == MustCreate {
			return ReplaceResult{Outcome: ReplaceAlreadyExists}, nil
		}
		return ReplaceResult{Outcome: ReplaceStale}, nil
	}
	if errors.Is(err, ErrNotFound) {
		return ReplaceResult{}, err
	}
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent writer created the same group or membership first.
			if ifVersion == MustCreate {
				return ReplaceResult{Outcome: ReplaceAlreadyExists}, nil
			}
			return ReplaceResult{Outcome: ReplaceStale}, nil
		}
		slog.Error("storage: Failed to replace group membership", "error", err, "name", name, "chat_id", chatID)
		return ReplaceResult{}, unavailable("replace group membership", err)
	}

	return result, nil
}

// ResolveMentions maps group names of the chat to the handles of their members.
// Names are matched exactly. Groups without members map to an empty slice, unknown names are absent.
func (s *Storage) ResolveMentions(ctx context.Context, chatID int64, names []string) (map[string][]string, error) {
	valid := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = SanitizeHandle(name)
		if !IsValidGroupName(name) {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		valid = append(valid, name)
	}

	resolved := make(map[string][]string)
	if len(valid) == 0 {
		return resolved, nil
	}

	var rows []struct {
		Name   string
		Handle *string
	}
	err := s.db.WithContext(ctx).Table("groups").
		Select("groups.name AS name, users.handle AS handle").
		Joins("LEFT JOIN group_memberships ON group_memberships.group_id = groups.id").
		Joins("LEFT JOIN users ON users.id = group_memberships.user_id").
		Where("groups.chat_id = ? AND groups.name IN ?", chatID, valid).
		Order("groups.name").Order("users.handle").
		Scan(&rows).Error
	if err != nil {
		slog.Error("storage: Failed to resolve mentions", "error", err, "chat_id", chatID, "names", valid)
		return nil, unavailable("resolve mentions", err)
	}

	for _, row := range rows {
		handles, ok := resolved[row.Name]
		if !ok {
			handles = []string{}
		}
		if row.Handle != nil && *row.Handle != "" {
			handles = append(handles, *row.Handle)
		}
		resolved[row.Name] = handles
	}

	return resolved, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}

// countMissing counts ids of a that are absent from b
func countMissing(a, b []int64) int {
	in := make(map[int64]struct{}, len(b))
	for _, id := range b {
		in[id] = struct{}{}
	}
	n := 0
	for _, id := range a {
		if _, ok := in[id]; !ok {
			n++
		}
	}
	return n
}
