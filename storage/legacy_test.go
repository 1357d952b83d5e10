package storage

import (
	"context"
	"reflect"
	"testing"
)

func TestMigrateImportsLegacyGroups(t *testing.T) {
	s, err := New(Config{Driver: DriverSQLite, DSN: "file:legacy_import?mode=memory&cache=shared&_foreign_keys=on"})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	if err := s.db.Migrator().CreateTable(&legacyMentionGroup{}, &legacyGroupMember{}); err != nil {
		t.Fatalf("create legacy tables: %v", err)
	}
	groups := []legacyMentionGroup{
		{ID: 1, Name: "back-end", ChatID: -1},
		{ID: 2, Name: "bad name!", ChatID: -1},
	}
	if err := s.db.Create(&groups).Error; err != nil {
		t.Fatalf("insert legacy groups: %v", err)
	}
	members := []legacyGroupMember{
		{GroupID: 1, UserID: 10, Username: "alice", FirstName: "Alice"},
		{GroupID: 1, UserID: 11, Username: "bob", FirstName: "Bob", LastName: "B"},
		{GroupID: 2, UserID: 12, Username: "carol"},
	}
	if err := s.db.Create(&members).Error; err != nil {
		t.Fatalf("insert legacy members: %v", err)
	}

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if s.db.Migrator().HasTable(&legacyMentionGroup{}) || s.db.Migrator().HasTable(&legacyGroupMember{}) {
		t.Fatal("legacy tables must be dropped after import")
	}

	resolved, err := s.ResolveMentions(ctx, -1, []string{"back_end", "bad_name"})
	if err != nil {
		t.Fatalf("resolve mentions: %v", err)
	}
	expected := map[string][]string{"back_end": {"alice", "bob"}}
	if !reflect.DeepEqual(resolved, expected) {
		t.Fatalf("expected %v, got %v", expected, resolved)
	}

	member, err := s.IsChatMember(ctx, 11, -1)
	if err != nil || !member {
		t.Fatalf("expected imported user to be a chat member: member=%v err=%v", member, err)
	}
	user, err := s.GetUser(ctx, 11)
	if err != nil || user.Label() == "" || *user.DisplayName != "Bob B" {
		t.Fatalf("unexpected imported user: %+v (%v)", user, err)
	}

	// A second run has nothing to import.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
