package command

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Command
	}{
		{name: "create chat", text: "/create chat", want: Command{Kind: CreateChat}},
		{name: "addressed to bot", text: "/create@GroupsBot chat", want: Command{Kind: CreateChat}},
		{name: "create me", text: "  /create me  ", want: Command{Kind: CreateMe}},
		{name: "update me", text: "/Update ME", want: Command{Kind: UpdateMe}},
		{
			name: "create group",
			text: "/create group name:friends users:alice,bob",
			want: Command{Kind: CreateGroup, Name: "friends", Users: []string{"alice", "bob"}},
		},
		{
			name: "create group without users",
			text: "/create group name:friends",
			want: Command{Kind: CreateGroup, Name: "friends"},
		},
		{
			name: "keys are case-insensitive, values are not",
			text: "/CREATE Group NAME:Friends USERS:Alice",
			want: Command{Kind: CreateGroup, Name: "Friends", Users: []string{"Alice"}},
		},
		{
			name: "handles with @ and spaces",
			text: "/add to group name: friends users: @alice , @@bob,, ",
			want: Command{Kind: AddToGroup, Name: "friends", Users: []string{"alice", "bob"}},
		},
		{
			name: "at signs are stripped everywhere",
			text: "/delete users group name:@friends users:bob",
			want: Command{Kind: DeleteUsersGroup, Name: "friends", Users: []string{"bob"}},
		},
		{name: "delete group", text: "/delete group name:friends", want: Command{Kind: DeleteGroup, Name: "friends"}},
		{name: "delete group bare name", text: "/delete group friends", want: Command{Kind: DeleteGroup, Name: "friends"}},
		{name: "get commands", text: "/get_commands@GroupsBot", want: Command{Kind: Help}},
		{name: "start with payload", text: "/start hello", want: Command{Kind: Start}},
		{name: "say", text: "/say", want: Command{Kind: Say}},
		{name: "new group", text: "/newgroup", want: Command{Kind: NewGroup}},
		{name: "groups", text: "/groups@GroupsBot", want: Command{Kind: Groups}},
		{name: "cancel", text: "/cancel", want: Command{Kind: Cancel}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text)
			if err != nil {
				t.Fatalf("parse %q: %v", tt.text, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parse %q: expected %+v, got %+v", tt.text, tt.want, got)
			}
		})
	}
}

func TestParseNotCommand(t *testing.T) {
	for _, text := range []string{"", "hello", "@friends hi", "/", "/create", "/create chats", "/unknown", "create chat"} {
		if _, err := Parse(text); !errors.Is(err, ErrNotCommand) {
			t.Errorf("parse %q: expected ErrNotCommand, got %v", text, err)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		text string
		kind Kind
	}{
		{text: "/create group", kind: CreateGroup},
		{text: "/create group friends", kind: CreateGroup},
		{text: "/create group name:my-friends", kind: CreateGroup},
		{text: "/create group name:my friends", kind: CreateGroup},
		{text: "/create group name:" + strings.Repeat("x", 256), kind: CreateGroup},
		{text: "/create group name:friends users:alice,b-o-b", kind: CreateGroup},
		{text: "/add to group name:friends users:alice bob", kind: AddToGroup},
		{text: "/delete users group name:friends users:al!ce", kind: DeleteUsersGroup},
		{text: "/delete group", kind: DeleteGroup},
		{text: "/delete group name:", kind: DeleteGroup},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, err := Parse(tt.text)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if cmd.Kind != tt.kind {
				t.Fatalf("expected kind %d, got %d", tt.kind, cmd.Kind)
			}
			if Usage(cmd.Kind) == "" {
				t.Fatalf("no usage for kind %d", cmd.Kind)
			}
		})
	}
}
