package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	t "github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/wizard"
)

const (
	DatabaseError = "Database error. Try again later."
	MenuExpired   = "This menu has expired, please start again"
	RelayFailed   = "Failed to send the message."
)

// maxRetryWait caps how long a single send may wait for the rate limit to pass.
const maxRetryWait = 30 * time.Second

func escapeMarkdownV2(text string) string {
	specialChars := []string{
		"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!",
	}

	for _, char := range specialChars {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

// retryAfter extracts the wait time from a "Too Many Requests" API error.
// Format: "telego: sendMessage: api: 429 \"Too Many Requests: retry after 5\", retry after: 5"
func retryAfter(err error) time.Duration {
	if err == nil || !strings.Contains(err.Error(), "Too Many Requests") {
		return 0
	}

	parts := strings.Split(err.Error(), "retry after: ")
	if len(parts) != 2 {
		return 0
	}

	var seconds int
	if _, _ = fmt.Sscanf(parts[1], "%d", &seconds); seconds <= 0 {
		return 0
	}
	return min(time.Duration(seconds)*time.Second, maxRetryWait)
}

// withRetry runs an API call and repeats it once after the rate limit wait.
func withRetry(ctx context.Context, method string, call func() error) error {
	err := call()
	wait := retryAfter(err)
	if wait == 0 {
		return err
	}

	slog.Debug("bot: API error", "error", err.Error(), "method", method)
	slog.Info("bot: Rate limit hit, waiting", "seconds", wait.Seconds(), "method", method)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err := call(); err != nil {
		return err
	}
	slog.Info("bot: Request succeeded after rate limit wait", "method", method)
	return nil
}

// sendMessage sends plain text as MarkdownV2 with everything escaped.
func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, markup *t.InlineKeyboardMarkup) (*t.Message, error) {
	message := tu.Message(tu.ID(chatID), escapeMarkdownV2(text))
	message.ParseMode = t.ModeMarkdownV2
	if markup != nil {
		message.ReplyMarkup = markup
	}

	var sent *t.Message
	err := withRetry(ctx, "sendMessage", func() error {
		var err error
		sent, err = b.bot.SendMessage(ctx, message)
		return err
	})
	if err != nil {
		slog.Error("bot: Failed to send message", "error", err, "chat_id", chatID, "text_length", len(text))
		return nil, err
	}

	slog.Debug("bot: Message sent successfully", "chat_id", chatID, "message_id", sent.MessageID)
	return sent, nil
}

// reply answers a message in its chat. Send failures are logged only.
func (b *Bot) reply(ctx context.Context, msg t.Message, text string) {
	_, _ = b.sendMessage(ctx, msg.Chat.ID, text, nil)
}

func (b *Bot) editMessage(ctx context.Context, chatID int64, messageID int, text string, markup *t.InlineKeyboardMarkup) error {
	params := &t.EditMessageTextParams{
		ChatID:      tu.ID(chatID),
		MessageID:   messageID,
		Text:        escapeMarkdownV2(text),
		ParseMode:   t.ModeMarkdownV2,
		ReplyMarkup: markup,
	}

	err := withRetry(ctx, "editMessageText", func() error {
		_, err := b.bot.EditMessageText(ctx, params)
		return err
	})
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	if err != nil {
		slog.Error("bot: Failed to edit message", "error", err, "chat_id", chatID, "message_id", messageID)
	}
	return err
}

// inlineKeyboard renders wizard buttons. A finished dialog or an empty keyboard has no markup.
func inlineKeyboard(reply wizard.Reply) *t.InlineKeyboardMarkup {
	if reply.Done || len(reply.Keyboard) == 0 {
		return nil
	}

	rows := make([][]t.InlineKeyboardButton, 0, len(reply.Keyboard))
	for _, buttons := range reply.Keyboard {
		row := make([]t.InlineKeyboardButton, 0, len(buttons))
		for _, button := range buttons {
			row = append(row, tu.InlineKeyboardButton(button.Text).WithCallbackData(button.Data))
		}
		rows = append(rows, row)
	}
	return tu.InlineKeyboard(rows...)
}

// displayName joins the first and the last name of a Telegram user
func displayName(user *t.User) string {
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}

// chatKind maps the Telegram chat type to the stored one. Unknown types are not stored.
func chatKind(chatType string) storage.ChatKind {
	switch chatType {
	case t.ChatTypePrivate:
		return storage.ChatKindPrivate
	case t.ChatTypeGroup:
		return storage.ChatKindGroup
	case t.ChatTypeSupergroup:
		return storage.ChatKindSupergroup
	case t.ChatTypeChannel:
		return storage.ChatKindChannel
	default:
		return ""
	}
}

// errorText maps errors reaching a handler to the text shown to the user.
func errorText(err error) string {
	switch {
	case errors.Is(err, wizard.ErrStateExpired):
		return MenuExpired
	case errors.Is(err, storage.ErrUnavailable):
		return DatabaseError
	default:
		return "Something went wrong. Try again later."
	}
}
