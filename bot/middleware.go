package bot

import (
	"context"
	"log/slog"

	t "github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
)

// historyMiddleware records every text message of a group chat before it is handled.
func (b *Bot) historyMiddleware(ctx *th.Context, update t.Update) error {
	if msg := update.Message; msg != nil && msg.Text != "" && msg.Chat.Type != t.ChatTypePrivate {
		entry := storage.ChatMessage{
			ChatID: msg.Chat.ID,
			Text:   msg.Text,
		}
		messageID := int64(msg.MessageID)
		entry.ExternalMessageID = &messageID
		if msg.From != nil {
			entry.UserID = &msg.From.ID
			entry.IsBot = msg.From.IsBot
		}
		b.remember(ctx, entry)
	}

	return ctx.Next(update)
}

// remember appends a message to the chat history. Failures never stop the update processing.
func (b *Bot) remember(ctx context.Context, entry storage.ChatMessage) {
	if b.cfg.HistoryLimit <= 0 {
		return
	}
	if err := b.storage.AppendChatMessage(ctx, entry, b.cfg.HistoryLimit); err != nil {
		slog.Warn("bot: Failed to record chat message", "error", err, "chat_id", entry.ChatID)
	}
}
