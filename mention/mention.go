// Package mention expands @group and @all mentions into member handles.
package mention

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const (
	// All mentions every known member of the chat.
	All = "all"

	NoUsersFound   = "No users found"
	NoMembersFound = "No members found"
)

var tokenPattern = regexp.MustCompile(`@(\w+)`)

type Store interface {
	ChatHandles(ctx context.Context, chatID int64) ([]string, error)
	ResolveMentions(ctx context.Context, chatID int64, names []string) (map[string][]string, error)
}

type Resolver struct {
	store       Store
	botUsername string
}

// New creates a resolver. Mentions of botUsername are never treated as group names.
func New(store Store, botUsername string) *Resolver {
	return &Resolver{
		store:       store,
		botUsername: botUsername,
	}
}

// Tokens returns mentioned names without "@", deduplicated in order of appearance.
func Tokens(text string) []string {
	var tokens []string
	seen := make(map[string]struct{})
	for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		tokens = append(tokens, m[1])
	}
	return tokens
}

// Replies builds the messages the bot answers a text with.
//
// With @all present the only reply lists every chat member. Otherwise every mentioned group of the
// chat gets its own reply: the members' handles, then the original text without the group mention.
// Names that are not groups of the chat are ignored.
func (r *Resolver) Replies(ctx context.Context, chatID int64, text string) ([]string, error) {
	tokens := Tokens(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	for _, token := range tokens {
		if token != All {
			continue
		}

		handles, err := r.store.ChatHandles(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("failed to get chat handles: %w", err)
		}
		if len(handles) == 0 {
			return []string{NoUsersFound}, nil
		}
		return []string{Format(handles)}, nil
	}

	names := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if r.botUsername != "" && strings.EqualFold(token, r.botUsername) {
			continue
		}
		names = append(names, token)
	}
	if len(names) == 0 {
		return nil, nil
	}

	resolved, err := r.store.ResolveMentions(ctx, chatID, names)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mentions: %w", err)
	}

	var replies []string
	for _, name := range names {
		handles, ok := resolved[name]
		if !ok {
			continue
		}

		header := NoMembersFound
		if len(handles) > 0 {
			header = Format(handles)
		}
		replies = append(replies, header+"\n"+stripMention(text, name))
	}

	slog.Debug("mention: Resolved mentions", "chat_id", chatID, "tokens", tokens, "replies", len(replies))

	return replies, nil
}

// Format renders handles as "@alice, @bob".
func Format(handles []string) string {
	mentions := make([]string, 0, len(handles))
	for _, h := range handles {
		mentions = append(mentions, "@"+h)
	}
	return strings.Join(mentions, ", ")
}

// stripMention removes whole "@name" tokens, leaving longer names that share the prefix alone.
func stripMention(text, name string) string {
	re := regexp.MustCompile(`@` + regexp.QuoteMeta(name) + `\b`)
	return re.ReplaceAllString(text, "")
}
