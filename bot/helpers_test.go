package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/wizard"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := map[string]string{
		"@alice_b, @bob":     `@alice\_b, @bob`,
		"Group @x saved: 1.": `Group @x saved: 1\.`,
		"(a) [b] {c} #d !e":  `\(a\) \[b\] \{c\} \#d \!e`,
		`back\slash`:         `back\\slash`,
		"plain":              "plain",
	}
	for in, want := range tests {
		if got := escapeMarkdownV2(in); got != want {
			t.Errorf("escapeMarkdownV2(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		err  error
		want time.Duration
	}{
		{err: nil, want: 0},
		{err: errors.New("telego: sendMessage: api: 400 \"Bad Request\""), want: 0},
		{err: errors.New("telego: sendMessage: api: 429 \"Too Many Requests: retry after 5\", retry after: 5"), want: 5 * time.Second},
		{err: errors.New("telego: sendMessage: api: 429 \"Too Many Requests: retry after 500\", retry after: 500"), want: maxRetryWait},
		{err: errors.New("Too Many Requests without details"), want: 0},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.err); got != tt.want {
			t.Errorf("retryAfter(%v): expected %s, got %s", tt.err, tt.want, got)
		}
	}
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "test", func() error {
		calls++
		if calls == 1 {
			return errors.New("api: 429 \"Too Many Requests: retry after 1\", retry after: 1")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected a successful retry, got %v after %d calls", err, calls)
	}

	calls = 0
	plain := errors.New("bad request")
	if err := withRetry(context.Background(), "test", func() error { calls++; return plain }); !errors.Is(err, plain) || calls != 1 {
		t.Fatalf("expected no retry for other errors, got %v after %d calls", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = withRetry(ctx, "test", func() error {
		return errors.New("api: 429 \"Too Many Requests: retry after 10\", retry after: 10")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the wait to stop with the context, got %v", err)
	}
}

func TestInlineKeyboard(t *testing.T) {
	reply := wizard.Reply{
		Text: "Pick",
		Keyboard: [][]wizard.Button{
			{{Text: "@alice", Data: "wz:abc:user:1"}, {Text: "@bob", Data: "wz:abc:user:2"}},
			{{Text: "Save", Data: "wz:abc:ok"}},
		},
	}

	markup := inlineKeyboard(reply)
	if markup == nil || len(markup.InlineKeyboard) != 2 || len(markup.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected markup %+v", markup)
	}
	if b := markup.InlineKeyboard[0][1]; b.Text != "@bob" || b.CallbackData != "wz:abc:user:2" {
		t.Fatalf("unexpected button %+v", b)
	}

	reply.Done = true
	if inlineKeyboard(reply) != nil {
		t.Fatal("finished dialogs must not have a keyboard")
	}
	if inlineKeyboard(wizard.Reply{Text: "x"}) != nil {
		t.Fatal("empty keyboard must render as no markup")
	}
}

func TestHandleReport(t *testing.T) {
	results := []storage.HandleResult{
		{Handle: "alice", Outcome: storage.HandleAdded},
		{Handle: "bob", Outcome: storage.HandleAlreadyMember},
		{Handle: "carol", Outcome: storage.HandleNotFound},
		{Handle: "dave", Outcome: storage.HandleRemoved},
		{Handle: "erin", Outcome: storage.HandleNotInGroup},
	}
	want := "User @alice has been added\n" +
		"User @bob is already in group\n" +
		"User @carol was not found\n" +
		"User @dave has been deleted\n" +
		"User @erin was not in group"
	if got := handleReport(results); got != want {
		t.Fatalf("expected:\n%s\ngot:\n%s", want, got)
	}

	if got := batchReport(nil); got != NoUsersProvided {
		t.Fatalf("expected %q for an empty batch, got %q", NoUsersProvided, got)
	}
}

func TestErrorText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: wizard.ErrStateExpired, want: MenuExpired},
		{err: fmt.Errorf("failed to get chat: %w: %w", storage.ErrUnavailable, errors.New("conn refused")), want: DatabaseError},
		{err: errors.New("boom"), want: "Something went wrong. Try again later."},
	}
	for _, tt := range tests {
		if got := errorText(tt.err); got != tt.want {
			t.Errorf("errorText(%v): expected %q, got %q", tt.err, tt.want, got)
		}
	}
}

func TestConversationAndNames(t *testing.T) {
	msg := telego.Message{
		Chat: telego.Chat{ID: -100, Type: telego.ChatTypeSupergroup},
		From: &telego.User{ID: 7, FirstName: "Alice", LastName: "Liddell"},
	}

	conv := conversation(msg)
	if conv.ChatID != -100 || conv.UserID != 7 || conv.Private {
		t.Fatalf("unexpected conversation %+v", conv)
	}
	msg.Chat.Type = telego.ChatTypePrivate
	if !conversation(msg).Private {
		t.Fatal("private chat must be detected")
	}

	if got := displayName(msg.From); got != "Alice Liddell" {
		t.Fatalf("unexpected display name %q", got)
	}
	if got := displayName(&telego.User{FirstName: "Bob"}); got != "Bob" {
		t.Fatalf("unexpected display name %q", got)
	}

	if chatKind(telego.ChatTypeSupergroup) != storage.ChatKindSupergroup || chatKind("unknown") != "" {
		t.Fatal("unexpected chat kind mapping")
	}
}
