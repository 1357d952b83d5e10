// Package storagetest provides an in-memory storage for tests of packages built on top of it.
package storagetest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
)

var seq atomic.Int64

// New opens a migrated in-memory SQLite storage which is closed when the test ends.
func New(t testing.TB) *storage.Storage {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=on", name, seq.Add(1))

	s, err := storage.New(storage.Config{Driver: storage.DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate storage: %v", err)
	}

	return s
}

// Chat registers a group chat.
func Chat(t testing.TB, s *storage.Storage, id int64, title string) storage.Chat {
	t.Helper()

	chat, err := storage.NewChat(id, title, storage.ChatKindGroup)
	if err != nil {
		t.Fatalf("new chat: %v", err)
	}
	if _, err := s.UpsertChat(context.Background(), chat); err != nil {
		t.Fatalf("upsert chat %d: %v", id, err)
	}
	return chat
}

// Member creates the user (if needed) and links it to the chat.
// An empty handle creates a user without one.
func Member(t testing.TB, s *storage.Storage, chatID, userID int64, handle string) storage.User {
	t.Helper()

	user, err := storage.NewUser(userID, "User "+handle, handle)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	ctx := context.Background()
	if _, err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user %d: %v", userID, err)
	}
	if _, err := s.LinkUserToChat(ctx, userID, chatID); err != nil {
		t.Fatalf("link user %d to chat %d: %v", userID, chatID, err)
	}
	return user
}
