package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	t "github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/command"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/media"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/mention"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/reply"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/wizard"
)

var (
	ErrGetMe          = errors.New("cannot retrieve api user")
	ErrUpdatesChannel = errors.New("cannot get updates channel")
	ErrHandlerInit    = errors.New("cannot initialize handler")
)

const stopTimeout = 10 * time.Second

type Config struct {
	Token string
	// Name is how people call the bot in chats. It triggers AI replies like the username does.
	Name string
	// HistoryLimit is the number of messages kept per chat and passed to the reply generator.
	HistoryLimit int
	// Media is optional. Links are ignored without it.
	Media media.Fetcher
	// Replies is optional. The bot does not talk without it.
	Replies reply.Generator
}

type Bot struct {
	bot      *t.Bot
	storage  *storage.Storage
	wizard   *wizard.Engine
	mentions *mention.Resolver
	cfg      Config
	me       *t.User
}

func New(cfg Config, store *storage.Storage, sessions wizard.SessionStore) (*Bot, error) {
	bot, err := t.NewBot(cfg.Token, t.WithDefaultLogger(false, true))
	if err != nil {
		slog.Error("bot: Failed to create bot API", "error", err)
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		bot:     bot,
		storage: store,
		wizard:  wizard.New(store, sessions),
		cfg:     cfg,
	}, nil
}

// Start polls updates and handles them until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	me, err := b.bot.GetMe(ctx)
	if err != nil {
		slog.Error("bot: Cannot retrieve bot user", "error", err)
		return fmt.Errorf("%w: %w", ErrGetMe, err)
	}
	b.me = me
	b.mentions = mention.New(b.storage, me.Username)

	slog.Info("bot: Running as", "id", me.ID, "username", me.Username, "name", me.FirstName)

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		slog.Error("bot: Cannot get updates channel", "error", err)
		return fmt.Errorf("%w: %w", ErrUpdatesChannel, err)
	}

	bh, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		slog.Error("bot: Cannot initialize bot handler", "error", err)
		return fmt.Errorf("%w: %w", ErrHandlerInit, err)
	}

	bh.Use(b.historyMiddleware)

	bh.Handle(b.myChatMemberHandler, th.AnyMyChatMember())
	bh.HandleCallbackQuery(b.callbackHandler, th.AnyCallbackQueryWithMessage())
	bh.HandleMessage(b.messageHandler, th.AnyMessageWithText())

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := bh.StopWithContext(stopCtx); err != nil {
			slog.Error("bot: Failed to stop bot handler", "error", err)
		}
	}()

	slog.Info("bot: Handling updates")
	return bh.Start()
}

// messageHandler routes text: commands first, then a dialog waiting for text, then the chat features.
func (b *Bot) messageHandler(ctx *th.Context, msg t.Message) error {
	if msg.From == nil {
		return nil
	}

	cmd, err := command.Parse(msg.Text)
	switch {
	case err == nil:
		b.handleCommand(ctx, msg, cmd)
		return nil
	case errors.Is(err, command.ErrInvalid):
		slog.Debug("bot: Invalid command arguments", "error", err, "kind", cmd.Kind, "chat_id", msg.Chat.ID)
		b.reply(ctx, msg, "Invalid format. Use "+command.Usage(cmd.Kind))
		return nil
	}

	wizardReply, consumed, err := b.wizard.HandleText(ctx, conversation(msg), msg.Text)
	if err != nil {
		slog.Error("bot: Dialog failed", "error", err, "chat_id", msg.Chat.ID, "user_id", msg.From.ID)
		b.reply(ctx, msg, errorText(err))
		return nil
	}
	if consumed {
		b.sendWizardReply(ctx, msg.Chat.ID, wizardReply)
		return nil
	}

	b.handleMedia(ctx, msg)
	b.handleMentions(ctx, msg)
	b.handleConversation(ctx, msg)
	return nil
}

func conversation(msg t.Message) wizard.Conversation {
	return wizard.Conversation{
		ChatID:  msg.Chat.ID,
		UserID:  msg.From.ID,
		Private: msg.Chat.Type == t.ChatTypePrivate,
	}
}

func (b *Bot) startWizard(ctx context.Context, msg t.Message, flow wizard.Flow) {
	wizardReply, err := b.wizard.Start(ctx, conversation(msg), flow)
	if err != nil {
		slog.Error("bot: Failed to start dialog", "error", err, "flow", flow, "chat_id", msg.Chat.ID, "user_id", msg.From.ID)
		b.reply(ctx, msg, errorText(err))
		return
	}
	b.sendWizardReply(ctx, msg.Chat.ID, wizardReply)
}

func (b *Bot) cancelWizard(ctx context.Context, msg t.Message) (string, error) {
	cancelled, err := b.wizard.Cancel(ctx, conversation(msg))
	if err != nil {
		return "", err
	}
	if !cancelled {
		return "Nothing to cancel.", nil
	}
	return wizard.Cancelled, nil
}

// sendWizardReply delivers the relayed message first and then the dialog message itself.
func (b *Bot) sendWizardReply(ctx context.Context, chatID int64, wizardReply wizard.Reply) {
	text := wizardReply.Text
	if relay := wizardReply.Relay; relay != nil {
		if _, err := b.sendMessage(ctx, relay.ChatID, relay.Text, nil); err != nil {
			text = RelayFailed
		} else {
			slog.Info("bot: Message relayed", "from_chat_id", chatID, "to_chat_id", relay.ChatID)
		}
	}
	if text == "" {
		return
	}
	_, _ = b.sendMessage(ctx, chatID, text, inlineKeyboard(wizardReply))
}

func (b *Bot) callbackHandler(ctx *th.Context, query t.CallbackQuery) error {
	answer := tu.CallbackQuery(query.ID)
	defer func() {
		if err := b.bot.AnswerCallbackQuery(ctx, answer); err != nil {
			slog.Error("bot: Failed to answer callback query", "error", err, "query_id", query.ID)
		}
	}()

	if !wizard.IsCallback(query.Data) {
		slog.Debug("bot: Unknown callback data", "data", query.Data, "user_id", query.From.ID)
		return nil
	}

	chat := query.Message.GetChat()
	conv := wizard.Conversation{
		ChatID:  chat.ID,
		UserID:  query.From.ID,
		Private: chat.Type == t.ChatTypePrivate,
	}

	wizardReply, err := b.wizard.HandleCallback(ctx, conv, query.Data)
	if err != nil {
		// The menu may belong to someone else, so it is never edited on failure.
		if !errors.Is(err, wizard.ErrStateExpired) {
			slog.Error("bot: Dialog failed", "error", err, "chat_id", chat.ID, "user_id", query.From.ID)
		}
		answer = answer.WithText(errorText(err))
		return nil
	}

	if relay := wizardReply.Relay; relay != nil {
		if _, err := b.sendMessage(ctx, relay.ChatID, relay.Text, nil); err != nil {
			wizardReply.Text = RelayFailed
		}
	}
	if wizardReply.Text == "" {
		return nil
	}

	_ = b.editMessage(ctx, chat.ID, query.Message.GetMessageID(), wizardReply.Text, inlineKeyboard(wizardReply))
	return nil
}

// myChatMemberHandler forgets a chat once the bot is removed from it.
func (b *Bot) myChatMemberHandler(ctx *th.Context, update t.Update) error {
	updated := update.MyChatMember
	status := updated.NewChatMember.MemberStatus()
	if status != "left" && status != "kicked" {
		slog.Debug("bot: Bot membership changed", "chat_id", updated.Chat.ID, "status", status)
		return nil
	}

	deleted, err := b.storage.DeleteChat(ctx, updated.Chat.ID)
	if err != nil {
		slog.Error("bot: Failed to forget chat", "error", err, "chat_id", updated.Chat.ID)
		return nil
	}
	slog.Info("bot: Removed from chat", "chat_id", updated.Chat.ID, "status", status, "forgotten", deleted)
	return nil
}
