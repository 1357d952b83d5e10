package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	t "github.com/mymmrac/telego"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/command"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/wizard"
)

const (
	NoUsersProvided = "No users were provided"
	StartText       = "Hi! I mention groups of chat members.\n\n" +
		"Register the chat with /create chat and yourself with /create me, then create groups with /newgroup " +
		"and mention them as @name. /groups manages the groups of a chat, /say sends a message to a chat " +
		"from a private dialog.\n\nSend /help for the list of commands."
)

// handleCommand runs a parsed command. Unknown commands are left to the other handlers.
func (b *Bot) handleCommand(ctx context.Context, msg t.Message, cmd command.Command) {
	slog.Info("bot: Command received", "kind", cmd.Kind, "chat_id", msg.Chat.ID, "user_id", msg.From.ID)

	var text string
	var err error
	switch cmd.Kind {
	case command.CreateChat:
		text, err = b.createChat(ctx, msg)
	case command.CreateMe:
		text, err = b.createMe(ctx, msg)
	case command.UpdateMe:
		text, err = b.updateMe(ctx, msg)
	case command.CreateGroup:
		text, err = b.createGroup(ctx, msg.Chat.ID, cmd)
	case command.DeleteGroup:
		text, err = b.deleteGroup(ctx, msg.Chat.ID, cmd)
	case command.AddToGroup:
		text, err = b.addToGroup(ctx, msg.Chat.ID, cmd)
	case command.DeleteUsersGroup:
		text, err = b.deleteUsersFromGroup(ctx, msg.Chat.ID, cmd)
	case command.Start:
		text = StartText
	case command.Help:
		text = command.HelpText()
	case command.NewGroup:
		b.startWizard(ctx, msg, wizard.FlowCreate)
		return
	case command.Groups:
		b.startWizard(ctx, msg, wizard.FlowManage)
		return
	case command.Say:
		b.startWizard(ctx, msg, wizard.FlowRelay)
		return
	case command.Cancel:
		text, err = b.cancelWizard(ctx, msg)
	}

	if err != nil {
		slog.Error("bot: Command failed", "error", err, "kind", cmd.Kind, "chat_id", msg.Chat.ID)
		text = errorText(err)
	}
	b.reply(ctx, msg, text)
}

func (b *Bot) createChat(ctx context.Context, msg t.Message) (string, error) {
	chat, err := storage.NewChat(msg.Chat.ID, msg.Chat.Title, chatKind(msg.Chat.Type))
	if err != nil {
		return "", err
	}

	changed, err := b.storage.UpsertChat(ctx, chat)
	if err != nil {
		return "", err
	}
	if !changed {
		return "The chat is already registered.", nil
	}

	slog.Info("bot: Chat registered", "chat_id", chat.ID, "title", msg.Chat.Title)
	return "The chat has been registered.", nil
}

func (b *Bot) createMe(ctx context.Context, msg t.Message) (string, error) {
	if _, err := b.storage.GetChat(ctx, msg.Chat.ID); errors.Is(err, storage.ErrNotFound) {
		return "Run /create chat in this chat first.", nil
	} else if err != nil {
		return "", err
	}

	user, err := storage.NewUser(msg.From.ID, displayName(msg.From), msg.From.Username)
	if err != nil {
		return "", err
	}

	created, err := b.storage.CreateUser(ctx, user)
	if err != nil {
		return "", err
	}
	linked, err := b.storage.LinkUserToChat(ctx, user.ID, msg.Chat.ID)
	if err != nil {
		return "", err
	}

	slog.Info("bot: User registered", "user_id", user.ID, "chat_id", msg.Chat.ID, "created", created, "linked", linked)
	if !linked {
		return "You are already registered in this chat.", nil
	}
	return "You have been added to this chat.", nil
}

func (b *Bot) updateMe(ctx context.Context, msg t.Message) (string, error) {
	user, err := storage.NewUser(msg.From.ID, displayName(msg.From), msg.From.Username)
	if err != nil {
		return "", err
	}

	changed, err := b.storage.UpdateUser(ctx, user)
	if err != nil {
		return "", err
	}
	if !changed {
		return "Nothing to update. Run /create me first if you are not registered.", nil
	}
	return "Your profile has been updated.", nil
}

func (b *Bot) createGroup(ctx context.Context, chatID int64, cmd command.Command) (string, error) {
	result, handles, err := b.storage.CreateGroupWithUsers(ctx, chatID, cmd.Name, cmd.Users)
	if err != nil {
		return "", err
	}

	var header string
	switch result.Outcome {
	case storage.CreateGroupCreated:
		header = fmt.Sprintf("Group @%s has been created", cmd.Name)
	case storage.CreateGroupAlreadyExists:
		header = fmt.Sprintf("Group @%s already exists", cmd.Name)
	case storage.CreateGroupChatNotFound:
		return "Run /create chat in this chat first.", nil
	default:
		return command.Usage(command.CreateGroup), nil
	}

	return strings.TrimSpace(header + "\n" + handleReport(handles)), nil
}

func (b *Bot) deleteGroup(ctx context.Context, chatID int64, cmd command.Command) (string, error) {
	deleted, err := b.storage.DeleteGroup(ctx, chatID, cmd.Name)
	if err != nil {
		return "", err
	}
	if !deleted {
		return groupNotFound(cmd.Name), nil
	}

	slog.Info("bot: Group deleted", "name", cmd.Name, "chat_id", chatID)
	return fmt.Sprintf("Group @%s has been deleted", cmd.Name), nil
}

func (b *Bot) addToGroup(ctx context.Context, chatID int64, cmd command.Command) (string, error) {
	results, err := b.storage.AddUsersToGroup(ctx, chatID, cmd.Name, cmd.Users)
	if errors.Is(err, storage.ErrNotFound) {
		return groupNotFound(cmd.Name), nil
	}
	if err != nil {
		return "", err
	}
	return batchReport(results), nil
}

func (b *Bot) deleteUsersFromGroup(ctx context.Context, chatID int64, cmd command.Command) (string, error) {
	results, err := b.storage.RemoveUsersFromGroup(ctx, chatID, cmd.Name, cmd.Users)
	if errors.Is(err, storage.ErrNotFound) {
		return groupNotFound(cmd.Name), nil
	}
	if err != nil {
		return "", err
	}
	return batchReport(results), nil
}

func groupNotFound(name string) string {
	return fmt.Sprintf("Group @%s was not found", name)
}

func batchReport(results []storage.HandleResult) string {
	if report := handleReport(results); report != "" {
		return report
	}
	return NoUsersProvided
}

// handleReport renders one line per handle of a batch command.
func handleReport(results []storage.HandleResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		var status string
		switch r.Outcome {
		case storage.HandleAdded:
			status = "has been added"
		case storage.HandleAlreadyMember:
			status = "is already in group"
		case storage.HandleRemoved:
			status = "has been deleted"
		case storage.HandleNotInGroup:
			status = "was not in group"
		default:
			status = "was not found"
		}
		lines = append(lines, fmt.Sprintf("User @%s %s", r.Handle, status))
	}
	return strings.Join(lines, "\n")
}
