// Package command parses the text commands of the bot.
package command

import (
	"errors"
	"fmt"
	"strings"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
)

var (
	ErrNotCommand = errors.New("not a known command")
	ErrInvalid    = errors.New("invalid command arguments")
)

type Kind int

const (
	CreateChat Kind = iota + 1
	CreateMe
	UpdateMe
	CreateGroup
	DeleteGroup
	AddToGroup
	DeleteUsersGroup
	Start
	Help
	NewGroup
	Groups
	Say
	Cancel
)

type argsKind int

const (
	argsNone argsKind = iota
	argsName
	argsNameUsers
)

type definition struct {
	kind  Kind
	words []string
	args  argsKind
	usage string
}

// Longer phrases go before their prefixes ("delete users group" before "delete group").
var definitions = []definition{
	{kind: CreateChat, words: []string{"create", "chat"}, usage: "/create chat"},
	{kind: CreateMe, words: []string{"create", "me"}, usage: "/create me"},
	{kind: UpdateMe, words: []string{"update", "me"}, usage: "/update me"},
	{kind: CreateGroup, words: []string{"create", "group"}, args: argsNameUsers, usage: "/create group name:{name} users:{username},{username}"},
	{kind: DeleteUsersGroup, words: []string{"delete", "users", "group"}, args: argsNameUsers, usage: "/delete users group name:{name} users:{username},{username}"},
	{kind: DeleteGroup, words: []string{"delete", "group"}, args: argsName, usage: "/delete group name:{name}"},
	{kind: AddToGroup, words: []string{"add", "to", "group"}, args: argsNameUsers, usage: "/add to group name:{name} users:{username},{username}"},
	{kind: Start, words: []string{"start"}, usage: "/start"},
	{kind: Help, words: []string{"help"}, usage: "/help"},
	{kind: Help, words: []string{"get_commands"}, usage: "/get_commands"},
	{kind: NewGroup, words: []string{"newgroup"}, usage: "/newgroup"},
	{kind: Groups, words: []string{"groups"}, usage: "/groups"},
	{kind: Say, words: []string{"say"}, usage: "/say"},
	{kind: Cancel, words: []string{"cancel"}, usage: "/cancel"},
}

// Command is a parsed text command.
type Command struct {
	Kind Kind
	// Name is the group name for group commands.
	Name string
	// Users are handles without the leading "@".
	Users []string
}

// Parse recognises one of the bot commands in the message text.
//
// The command word may be addressed to the bot ("/create@SomeBot group ..."). Words and argument
// keys are matched case-insensitively, argument values are kept as is. Every "@" is dropped.
//
// Text that is not a command yields ErrNotCommand. A recognised command with malformed arguments
// yields ErrInvalid together with its Kind, so the caller can show the usage.
func Parse(text string) (Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, ErrNotCommand
	}

	fields := strings.Fields(text)
	verb, _, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	fields[0] = verb
	for i := range fields {
		fields[i] = strings.ReplaceAll(fields[i], "@", "")
	}

	for _, def := range definitions {
		if !matchWords(fields, def.words) {
			continue
		}

		cmd := Command{Kind: def.kind}
		payload := strings.TrimSpace(strings.Join(fields[len(def.words):], " "))

		var err error
		switch def.args {
		case argsName:
			cmd.Name, err = parseName(payload)
		case argsNameUsers:
			cmd.Name, cmd.Users, err = parseNameUsers(payload)
		}
		if err != nil {
			return cmd, fmt.Errorf("%w: %w", ErrInvalid, err)
		}

		return cmd, nil
	}

	return Command{}, ErrNotCommand
}

// Usage returns the command format to show when its arguments are invalid.
func Usage(kind Kind) string {
	for _, def := range definitions {
		if def.kind == kind {
			return def.usage
		}
	}
	return ""
}

// HelpText lists the commands of the bot.
func HelpText() string {
	return `/create chat - Add current chat to bot DB
/create me - Add current user to bot DB
/update me - Update user info in bot DB
/create group name:{name} users:{username},{username} - Add group to chat
/add to group name:{name} users:{username},{username} - Add users to group
/delete group name:{name} - Delete group from chat
/delete users group name:{name} users:{username},{username} - Delete users from group
/newgroup - Create a group step by step
/groups - Manage groups of a chat
/say - Send a message to a chat on behalf of the bot (private chat only)
/cancel - Cancel the current dialog

Mention @{name} of a group to notify its members, @all to notify everyone.`
}

func matchWords(fields, words []string) bool {
	if len(fields) < len(words) {
		return false
	}
	for i, w := range words {
		if !strings.EqualFold(fields[i], w) {
			return false
		}
	}
	return true
}

// parseName accepts "name:<name>" or a bare name.
func parseName(payload string) (string, error) {
	name := payload
	if hasPrefixFold(name, "name:") {
		name = strings.TrimSpace(name[len("name:"):])
	}
	if !storage.IsValidGroupName(name) {
		return "", fmt.Errorf("%w %q", storage.ErrInvalidName, name)
	}
	return name, nil
}

func parseNameUsers(payload string) (string, []string, error) {
	if !hasPrefixFold(payload, "name:") {
		return "", nil, errors.New("name is required")
	}
	payload = payload[len("name:"):]

	namePart, usersPart := payload, ""
	if i := indexFold(payload, "users:"); i >= 0 {
		namePart, usersPart = payload[:i], payload[i+len("users:"):]
	}

	name := strings.TrimSpace(namePart)
	if !storage.IsValidGroupName(name) {
		return "", nil, fmt.Errorf("%w %q", storage.ErrInvalidName, name)
	}

	var users []string
	for _, raw := range strings.Split(usersPart, ",") {
		handle := storage.SanitizeHandle(raw)
		if handle == "" {
			continue
		}
		if !storage.IsValidHandle(handle) {
			return "", nil, fmt.Errorf("invalid username %q", handle)
		}
		users = append(users, handle)
	}

	return name, users, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// indexFold is strings.Index ignoring ASCII case of substr.
func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}
