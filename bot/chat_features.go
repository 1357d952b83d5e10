package bot

import (
	"context"
	"errors"
	"log/slog"

	t "github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/media"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/reply"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
)

const (
	VideoDownloadFailed = "Failed to download video."
	MediaDownloadFailed = "Failed to download media."
)

// handleMedia answers a TikTok or Instagram link with the media itself.
func (b *Bot) handleMedia(ctx context.Context, msg t.Message) {
	if b.cfg.Media == nil {
		return
	}
	link := media.FindLink(msg.Text)
	service := media.Service(link)
	if service == "" {
		return
	}

	ref, err := b.cfg.Media.Fetch(ctx, link)
	if errors.Is(err, media.ErrUnsupportedLink) {
		return
	}
	if err != nil {
		slog.Warn("bot: Failed to fetch media", "error", err, "service", service, "chat_id", msg.Chat.ID)
		if service == "tiktok" {
			b.reply(ctx, msg, VideoDownloadFailed)
		} else {
			b.reply(ctx, msg, MediaDownloadFailed)
		}
		return
	}

	replyTo := &t.ReplyParameters{MessageID: msg.MessageID}
	err = withRetry(ctx, "send"+ref.Kind.String(), func() error {
		var err error
		switch ref.Kind {
		case media.Photo:
			_, err = b.bot.SendPhoto(ctx, tu.Photo(tu.ID(msg.Chat.ID), tu.FileFromURL(ref.URL)).WithReplyParameters(replyTo))
		default:
			_, err = b.bot.SendVideo(ctx, tu.Video(tu.ID(msg.Chat.ID), tu.FileFromURL(ref.URL)).WithReplyParameters(replyTo))
		}
		return err
	})
	if err != nil {
		slog.Error("bot: Failed to send media", "error", err, "kind", ref.Kind, "chat_id", msg.Chat.ID)
		b.reply(ctx, msg, MediaDownloadFailed)
		return
	}
	slog.Info("bot: Media sent", "service", service, "kind", ref.Kind, "chat_id", msg.Chat.ID)
}

func (b *Bot) handleMentions(ctx context.Context, msg t.Message) {
	replies, err := b.mentions.Replies(ctx, msg.Chat.ID, msg.Text)
	if err != nil {
		slog.Error("bot: Failed to resolve mentions", "error", err, "chat_id", msg.Chat.ID)
		b.reply(ctx, msg, errorText(err))
		return
	}
	for _, text := range replies {
		b.reply(ctx, msg, text)
	}
}

// handleConversation lets the bot answer messages addressed to it.
func (b *Bot) handleConversation(ctx context.Context, msg t.Message) {
	if b.cfg.Replies == nil || msg.Chat.Type == t.ChatTypePrivate {
		return
	}

	toBot := msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == b.me.ID
	if !reply.Triggered(msg.Text, b.me.Username, b.cfg.Name, toBot) {
		return
	}

	history, err := b.storage.RecentChatMessages(ctx, msg.Chat.ID, b.cfg.HistoryLimit)
	if err != nil {
		b.reply(ctx, msg, errorText(err))
		return
	}
	if len(history) == 0 {
		history = []storage.ChatMessage{{ChatID: msg.Chat.ID, Text: msg.Text, AuthorName: displayName(msg.From)}}
	}

	text, err := b.cfg.Replies.Generate(ctx, history)
	if err != nil {
		slog.Error("bot: Failed to generate reply", "error", err, "chat_id", msg.Chat.ID)
		text = reply.Fallback
	}

	sent, err := b.sendMessage(ctx, msg.Chat.ID, text, nil)
	if err != nil {
		return
	}
	messageID := int64(sent.MessageID)
	b.remember(ctx, storage.ChatMessage{
		ChatID:            msg.Chat.ID,
		IsBot:             true,
		Text:              text,
		ExternalMessageID: &messageID,
		UserID:            &b.me.ID,
	})
}
