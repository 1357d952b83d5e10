package storage_test

import (
	"context"
	"errors"
	"testing"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage/storagetest"
)

const (
	chatID      int64 = -100500
	otherChatID int64 = -100600
)

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := storage.New(storage.Config{Driver: "oracle", DSN: "x"})
	if !errors.Is(err, storage.ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestUpsertChat(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()

	chat, _ := storage.NewChat(chatID, "Friends", storage.ChatKindGroup)
	changed, err := s.UpsertChat(ctx, chat)
	if err != nil || !changed {
		t.Fatalf("first upsert: changed=%v err=%v", changed, err)
	}

	changed, err = s.UpsertChat(ctx, chat)
	if err != nil || changed {
		t.Fatalf("repeated upsert: changed=%v err=%v", changed, err)
	}

	chat, _ = storage.NewChat(chatID, "Best friends", storage.ChatKindSupergroup)
	changed, err = s.UpsertChat(ctx, chat)
	if err != nil || !changed {
		t.Fatalf("refreshing upsert: changed=%v err=%v", changed, err)
	}

	stored, err := s.GetChat(ctx, chatID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if stored.DisplayTitle() != "Best friends" || *stored.Kind != storage.ChatKindSupergroup {
		t.Fatalf("unexpected chat: %+v", stored)
	}

	if _, err := s.GetChat(ctx, 42); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewChatAndUserRequireID(t *testing.T) {
	if _, err := storage.NewChat(0, "x", storage.ChatKindGroup); !errors.Is(err, storage.ErrInvalidChat) {
		t.Fatalf("expected ErrInvalidChat, got %v", err)
	}
	if _, err := storage.NewUser(0, "x", "x"); !errors.Is(err, storage.ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}

	user, err := storage.NewUser(1, "", " @@alice ")
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	if user.HandleOrEmpty() != "alice" || user.DisplayName != nil {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestCreateUserIsIdempotent(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()

	user, _ := storage.NewUser(1, "Alice", "alice")
	created, err := s.CreateUser(ctx, user)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}

	other, _ := storage.NewUser(1, "Mallory", "mallory")
	created, err = s.CreateUser(ctx, other)
	if err != nil || created {
		t.Fatalf("second create: created=%v err=%v", created, err)
	}

	stored, err := s.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.HandleOrEmpty() != "alice" {
		t.Fatalf("existing user was overwritten: %+v", stored)
	}
}

func TestUpdateUser(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()

	user, _ := storage.NewUser(1, "Alice", "alice")
	if _, err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	tests := []struct {
		name    string
		user    storage.User
		changed bool
	}{
		{name: "unchanged", user: user, changed: false},
		{name: "new handle", user: mustUser(t, 1, "Alice", "alice2"), changed: true},
		{name: "handle removed", user: mustUser(t, 1, "Alice", ""), changed: true},
		{name: "missing user", user: mustUser(t, 2, "Bob", "bob"), changed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := s.UpdateUser(ctx, tt.user)
			if err != nil {
				t.Fatalf("update user: %v", err)
			}
			if changed != tt.changed {
				t.Fatalf("expected changed=%v, got %v", tt.changed, changed)
			}
		})
	}

	stored, _ := s.GetUser(ctx, 1)
	if stored.Handle != nil {
		t.Fatalf("expected handle to be cleared, got %q", *stored.Handle)
	}
}

func TestLinkUserToChat(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	storagetest.Chat(t, s, chatID, "Friends")

	created, err := s.LinkUserToChat(ctx, 1, chatID)
	if err != nil || created {
		t.Fatalf("link of unknown user: created=%v err=%v", created, err)
	}

	user, _ := storage.NewUser(1, "Alice", "alice")
	if _, err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	created, err = s.LinkUserToChat(ctx, 1, 777)
	if err != nil || created {
		t.Fatalf("link to unknown chat: created=%v err=%v", created, err)
	}

	created, err = s.LinkUserToChat(ctx, 1, chatID)
	if err != nil || !created {
		t.Fatalf("first link: created=%v err=%v", created, err)
	}

	created, err = s.LinkUserToChat(ctx, 1, chatID)
	if err != nil || created {
		t.Fatalf("duplicate link: created=%v err=%v", created, err)
	}

	member, err := s.IsChatMember(ctx, 1, chatID)
	if err != nil || !member {
		t.Fatalf("expected chat member: member=%v err=%v", member, err)
	}

	chats, err := s.ChatsForUser(ctx, 1)
	if err != nil {
		t.Fatalf("chats for user: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != chatID {
		t.Fatalf("unexpected chats: %+v", chats)
	}
}

func TestDeleteChatCascades(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	storagetest.Chat(t, s, chatID, "Friends")
	storagetest.Chat(t, s, 1, "Other")
	storagetest.Member(t, s, chatID, 10, "alice")
	storagetest.Member(t, s, chatID, 11, "bob")
	storagetest.Member(t, s, 1, 10, "alice")

	if _, err := s.ReplaceGroupMembership(ctx, chatID, "friends", []int64{10, 11}, 0); err != nil {
		t.Fatalf("replace membership: %v", err)
	}
	if _, err := s.ReplaceGroupMembership(ctx, 1, "others", []int64{10}, 0); err != nil {
		t.Fatalf("replace membership: %v", err)
	}
	if err := s.AppendChatMessage(ctx, storage.ChatMessage{ChatID: chatID, Text: "hi"}, 10); err != nil {
		t.Fatalf("append message: %v", err)
	}

	deleted, err := s.DeleteChat(ctx, chatID)
	if err != nil || !deleted {
		t.Fatalf("delete chat: deleted=%v err=%v", deleted, err)
	}

	if _, err := s.GetChat(ctx, chatID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected chat to be gone, got %v", err)
	}
	groups, total, err := s.PaginateGroups(ctx, chatID, 10, 0)
	if err != nil || total != 0 || len(groups) != 0 {
		t.Fatalf("expected no groups, got %d (%v)", total, err)
	}
	handles, err := s.ChatHandles(ctx, chatID)
	if err != nil || len(handles) != 0 {
		t.Fatalf("expected no chat members, got %v (%v)", handles, err)
	}
	history, err := s.RecentChatMessages(ctx, chatID, 10)
	if err != nil || len(history) != 0 {
		t.Fatalf("expected no history, got %d (%v)", len(history), err)
	}

	// The other chat is untouched.
	other, err := s.GetGroup(ctx, 1, "others")
	if err != nil {
		t.Fatalf("get group of other chat: %v", err)
	}
	members, err := s.GroupMemberIDs(ctx, other.ID)
	if err != nil || len(members) != 1 {
		t.Fatalf("expected other group to keep its member, got %v (%v)", members, err)
	}

	deleted, err = s.DeleteChat(ctx, chatID)
	if err != nil || deleted {
		t.Fatalf("second delete: deleted=%v err=%v", deleted, err)
	}
}

func TestAppendChatMessagePrunesHistory(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	storagetest.Chat(t, s, chatID, "Friends")
	alice := storagetest.Member(t, s, chatID, 10, "alice")

	for i, text := range []string{"one", "two", "three", "four"} {
		msg := storage.ChatMessage{ChatID: chatID, Text: text, UserID: &alice.ID}
		if i%2 == 1 {
			msg = storage.ChatMessage{ChatID: chatID, Text: text, IsBot: true}
		}
		if err := s.AppendChatMessage(ctx, msg, 3); err != nil {
			t.Fatalf("append %q: %v", text, err)
		}
	}
	if err := s.AppendChatMessage(ctx, storage.ChatMessage{ChatID: 1, Text: "elsewhere"}, 3); err != nil {
		t.Fatalf("append to other chat: %v", err)
	}

	history, err := s.RecentChatMessages(ctx, chatID, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages after pruning, got %d", len(history))
	}
	if history[0].Text != "two" || history[2].Text != "four" {
		t.Fatalf("unexpected order: %q .. %q", history[0].Text, history[2].Text)
	}
	if history[1].AuthorName != "User alice" {
		t.Fatalf("expected author name from users table, got %q", history[1].AuthorName)
	}

	if err := s.AppendChatMessage(ctx, storage.ChatMessage{Text: "x"}, 3); !errors.Is(err, storage.ErrInvalidChat) {
		t.Fatalf("expected ErrInvalidChat, got %v", err)
	}
}

func mustUser(t *testing.T, id int64, name, handle string) storage.User {
	t.Helper()
	user, err := storage.NewUser(id, name, handle)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	return user
}
