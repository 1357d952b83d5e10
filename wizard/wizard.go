// Package wizard implements the multi-step dialogs of the bot: creating a group, managing groups
// of a chat and relaying a message to a chat.
//
// The engine is transport agnostic. It consumes commands, free text and button presses of one
// conversation and returns a Reply describing the message to show.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
)

// ErrStateExpired is returned when a button press or text does not match a live session.
var ErrStateExpired = errors.New("wizard state expired")

// PageSize is the number of rows on one page of a list.
const PageSize = 10

const (
	NoChatsKnown      = "I don't know any chat with you. Add me to a chat and run /create chat and /create me there."
	ChatNotRegistered = "This chat is not registered yet. Run /create chat first."
	RelayPrivateOnly  = "/say is only available in private messages."
	Cancelled         = "Cancelled."
	Closed            = "Closed."
	GroupChanged      = "The group was changed by someone else in the meantime. Please start again."
)

// Store is the part of the membership store the wizard works with.
type Store interface {
	ChatsForUser(ctx context.Context, userID int64) ([]storage.Chat, error)
	GetChat(ctx context.Context, chatID int64) (*storage.Chat, error)
	IsChatMember(ctx context.Context, userID, chatID int64) (bool, error)
	GetGroup(ctx context.Context, chatID int64, name string) (*storage.Group, error)
	GetGroupByID(ctx context.Context, chatID int64, groupID int32) (*storage.Group, error)
	PaginateChatUsers(ctx context.Context, chatID int64, limit, offset int) ([]storage.User, int64, error)
	PaginateGroups(ctx context.Context, chatID int64, limit, offset int) ([]storage.Group, int64, error)
	GroupMembers(ctx context.Context, groupID int32) ([]storage.User, error)
	GroupMemberIDs(ctx context.Context, groupID int32) ([]int64, error)
	ReplaceGroupMembership(ctx context.Context, chatID int64, name string, userIDs []int64, ifVersion int64) (storage.ReplaceResult, error)
	RenameGroup(ctx context.Context, groupID int32, chatID int64, newName string) (storage.RenameOutcome, error)
	DeleteGroupByID(ctx context.Context, chatID int64, groupID int32) (bool, error)
}

// Conversation is where the wizard is talked to and by whom.
type Conversation struct {
	ChatID  int64
	UserID  int64
	Private bool
}

func (c Conversation) key() Key {
	return Key{ChatID: c.ChatID, UserID: c.UserID}
}

type Button struct {
	Text string
	Data string
}

// Relay asks the transport to send Text to another chat.
type Relay struct {
	ChatID int64
	Text   string
}

type Reply struct {
	// Text of the message. Empty text means the current message stays as is.
	Text     string
	Keyboard [][]Button
	// Done is set when the session is over.
	Done  bool
	Relay *Relay
}

type Engine struct {
	store    Store
	sessions SessionStore
}

func New(store Store, sessions SessionStore) *Engine {
	return &Engine{
		store:    store,
		sessions: sessions,
	}
}

// Start opens a new session of the flow, replacing any previous session of the conversation.
//
// In a group chat the session is bound to that chat right away. In a private chat the user picks
// one of their chats first.
func (e *Engine) Start(ctx context.Context, conv Conversation, flow Flow) (Reply, error) {
	if flow == FlowRelay && !conv.Private {
		return Reply{Text: RelayPrivateOnly, Done: true}, nil
	}

	if err := e.sessions.Delete(ctx, conv.key()); err != nil {
		return Reply{}, err
	}

	state := newState(flow)
	slog.Debug("wizard: Starting session", "flow", flow, "session", state.ID, "chat_id", conv.ChatID, "user_id", conv.UserID)

	if conv.Private {
		chats, err := e.store.ChatsForUser(ctx, conv.UserID)
		if err != nil {
			return Reply{}, err
		}
		if len(chats) == 0 {
			return Reply{Text: NoChatsKnown, Done: true}, nil
		}

		state.Stage = StageChoosingChat
		return e.save(ctx, conv, state, renderChats(state, chats))
	}

	chat, err := e.store.GetChat(ctx, conv.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		return Reply{Text: ChatNotRegistered, Done: true}, nil
	}
	if err != nil {
		return Reply{}, err
	}

	state.ChatID, state.ChatTitle = chat.ID, chat.DisplayTitle()
	return e.enterChat(ctx, conv, state)
}

// Cancel ends the session of the conversation. It reports whether there was one.
func (e *Engine) Cancel(ctx context.Context, conv Conversation) (bool, error) {
	_, err := e.sessions.Load(ctx, conv.key())
	if errors.Is(err, ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, e.sessions.Delete(ctx, conv.key())
}

// HandleText feeds free text to a session waiting for it. The boolean result reports whether
// the text was consumed; text nobody waits for should be processed as a usual message.
func (e *Engine) HandleText(ctx context.Context, conv Conversation, text string) (Reply, bool, error) {
	state, err := e.sessions.Load(ctx, conv.key())
	if errors.Is(err, ErrNoSession) {
		return Reply{}, false, nil
	}
	if err != nil {
		return Reply{}, false, err
	}
	if !state.Stage.waitsForText() {
		return Reply{}, false, nil
	}

	text = strings.TrimSpace(text)

	var reply Reply
	switch state.Stage {
	case StageEnteringName:
		reply, err = e.enterName(ctx, conv, state, text)
	case StageRenaming:
		reply, err = e.rename(ctx, conv, state, text)
	case StageComposingMessage:
		reply, err = e.compose(ctx, conv, state, text)
	}

	return reply, true, e.expire(ctx, conv, err)
}

// HandleCallback applies a button press. Presses that do not belong to the presser's live
// session yield ErrStateExpired.
func (e *Engine) HandleCallback(ctx context.Context, conv Conversation, data string) (Reply, error) {
	cb, err := decodeCallback(data)
	if err != nil {
		return Reply{}, ErrStateExpired
	}

	state, err := e.sessions.Load(ctx, conv.key())
	if errors.Is(err, ErrNoSession) {
		return Reply{}, ErrStateExpired
	}
	if err != nil {
		return Reply{}, err
	}
	if state.ID != cb.session {
		slog.Debug("wizard: Callback of another session", "session", state.ID, "callback_session", cb.session, "user_id", conv.UserID)
		return Reply{}, ErrStateExpired
	}

	switch cb.action {
	case actionNoop:
		return Reply{}, nil
	case actionCancel:
		return e.finish(ctx, conv, Cancelled)
	}

	reply, err := e.dispatch(ctx, conv, state, cb)
	return reply, e.expire(ctx, conv, err)
}

func (e *Engine) dispatch(ctx context.Context, conv Conversation, state *State, cb callback) (Reply, error) {
	switch state.Stage {
	case StageChoosingChat:
		switch cb.action {
		case actionPage:
			chats, err := e.store.ChatsForUser(ctx, conv.UserID)
			if err != nil {
				return Reply{}, err
			}
			if len(chats) == 0 {
				return Reply{}, ErrStateExpired
			}
			state.Page = int(cb.arg)
			return e.save(ctx, conv, state, renderChats(state, chats))
		case actionChat:
			return e.chooseChat(ctx, conv, state, cb.arg)
		}

	case StageSelectingUsers, StageEditingMembers:
		switch cb.action {
		case actionUser:
			state.toggle(cb.arg)
			return e.showRoster(ctx, conv, state, "")
		case actionPage:
			state.Page = int(cb.arg)
			return e.showRoster(ctx, conv, state, "")
		case actionSubmit:
			return e.submit(ctx, conv, state)
		case actionBack:
			if state.Stage == StageEditingMembers {
				return e.showGroup(ctx, conv, state, state.GroupID, "")
			}
		}

	case StageMenu:
		switch cb.action {
		case actionList:
			state.Page = 0
			return e.showGroups(ctx, conv, state, "")
		case actionNew:
			state.Flow = FlowCreate
			return e.enterChat(ctx, conv, state)
		case actionClose:
			return e.finish(ctx, conv, Closed)
		}

	case StageListingGroups:
		switch cb.action {
		case actionPage:
			state.Page = int(cb.arg)
			return e.showGroups(ctx, conv, state, "")
		case actionGroup:
			return e.showGroup(ctx, conv, state, int32(cb.arg), "")
		case actionBack:
			state.Stage = StageMenu
			return e.save(ctx, conv, state, renderMenu(state))
		}

	case StageViewingGroup:
		switch cb.action {
		case actionRename:
			state.Stage = StageRenaming
			return e.save(ctx, conv, state, renderRenamePrompt(state, ""))
		case actionMembers:
			return e.editMembers(ctx, conv, state)
		case actionDelete:
			state.Stage = StageConfirmingDelete
			return e.save(ctx, conv, state, renderConfirmDelete(state))
		case actionBack:
			return e.showGroups(ctx, conv, state, "")
		}

	case StageRenaming:
		if cb.action == actionBack {
			return e.showGroup(ctx, conv, state, state.GroupID, "")
		}

	case StageConfirmingDelete:
		switch cb.action {
		case actionConfirm:
			return e.deleteGroup(ctx, conv, state)
		case actionBack:
			return e.showGroup(ctx, conv, state, state.GroupID, "")
		}
	}

	slog.Debug("wizard: Unexpected action for stage", "stage", state.Stage, "action", cb.action, "session", state.ID)
	return Reply{}, ErrStateExpired
}

func (e *Engine) chooseChat(ctx context.Context, conv Conversation, state *State, chatID int64) (Reply, error) {
	member, err := e.store.IsChatMember(ctx, conv.UserID, chatID)
	if err != nil {
		return Reply{}, err
	}
	if !member {
		return Reply{}, ErrStateExpired
	}

	chat, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return Reply{}, err
	}

	state.ChatID, state.ChatTitle = chat.ID, chat.DisplayTitle()
	state.Page = 0
	return e.enterChat(ctx, conv, state)
}

// enterChat moves a session with a bound chat to the first stage of its flow.
func (e *Engine) enterChat(ctx context.Context, conv Conversation, state *State) (Reply, error) {
	switch state.Flow {
	case FlowCreate:
		state.Stage = StageEnteringName
		return e.save(ctx, conv, state, renderNamePrompt(state, ""))
	case FlowManage:
		state.Stage = StageMenu
		return e.save(ctx, conv, state, renderMenu(state))
	default:
		state.Stage = StageComposingMessage
		return e.save(ctx, conv, state, renderComposePrompt(state))
	}
}

func (e *Engine) enterName(ctx context.Context, conv Conversation, state *State, text string) (Reply, error) {
	name := storage.SanitizeHandle(text)
	if !storage.IsValidGroupName(name) {
		return e.save(ctx, conv, state, renderNamePrompt(state, invalidNameNotice))
	}

	_, err := e.store.GetGroup(ctx, state.ChatID, name)
	if err == nil {
		return e.save(ctx, conv, state, renderNamePrompt(state, fmt.Sprintf("Group @%s already exists.", name)))
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Reply{}, err
	}

	state.GroupName = name
	state.Stage = StageSelectingUsers
	state.Selected = nil
	state.Page = 0
	return e.showRoster(ctx, conv, state, "")
}

func (e *Engine) rename(ctx context.Context, conv Conversation, state *State, text string) (Reply, error) {
	name := storage.SanitizeHandle(text)
	outcome, err := e.store.RenameGroup(ctx, state.GroupID, state.ChatID, name)
	if err != nil {
		return Reply{}, err
	}

	switch outcome {
	case storage.RenameInvalidName:
		return e.save(ctx, conv, state, renderRenamePrompt(state, invalidNameNotice))
	case storage.RenameNameTaken:
		return e.save(ctx, conv, state, renderRenamePrompt(state, fmt.Sprintf("Group @%s already exists.", name)))
	case storage.RenameNotFound:
		return Reply{}, ErrStateExpired
	}

	slog.Info("wizard: Group renamed", "group_id", state.GroupID, "from", state.GroupName, "to", name, "chat_id", state.ChatID)
	return e.showGroup(ctx, conv, state, state.GroupID, fmt.Sprintf("Group renamed to @%s.", name))
}

func (e *Engine) compose(ctx context.Context, conv Conversation, state *State, text string) (Reply, error) {
	if text == "" {
		return e.save(ctx, conv, state, renderComposePrompt(state))
	}

	if err := e.sessions.Delete(ctx, conv.key()); err != nil {
		return Reply{}, err
	}

	return Reply{
		Text:  fmt.Sprintf("Message sent to %s.", state.ChatTitle),
		Done:  true,
		Relay: &Relay{ChatID: state.ChatID, Text: text},
	}, nil
}

func (e *Engine) editMembers(ctx context.Context, conv Conversation, state *State) (Reply, error) {
	group, err := e.store.GetGroupByID(ctx, state.ChatID, state.GroupID)
	if err != nil {
		return Reply{}, err
	}
	ids, err := e.store.GroupMemberIDs(ctx, group.ID)
	if err != nil {
		return Reply{}, err
	}

	state.GroupName = group.Name
	state.Version = group.Version
	state.Selected = ids
	state.Page = 0
	state.Stage = StageEditingMembers
	return e.showRoster(ctx, conv, state, "")
}

func (e *Engine) submit(ctx context.Context, conv Conversation, state *State) (Reply, error) {
	ifVersion := storage.MustCreate
	if state.Stage == StageEditingMembers {
		ifVersion = state.Version
	}

	result, err := e.store.ReplaceGroupMembership(ctx, state.ChatID, state.GroupName, state.Selected, ifVersion)
	if err != nil {
		return Reply{}, err
	}

	switch result.Outcome {
	case storage.ReplaceStale:
		slog.Info("wizard: Group changed concurrently", "name", state.GroupName, "version", ifVersion, "chat_id", state.ChatID)
		return e.finish(ctx, conv, GroupChanged)
	case storage.ReplaceAlreadyExists:
		slog.Info("wizard: Group created concurrently", "name", state.GroupName, "chat_id", state.ChatID)
		return e.finish(ctx, conv, fmt.Sprintf("Group @%s already exists. Nothing was changed.", state.GroupName))
	case storage.ReplaceInvalidName:
		return Reply{}, ErrStateExpired
	}

	slog.Info("wizard: Group membership saved", "name", state.GroupName, "outcome", result.Outcome,
		"added", result.Added, "removed", result.Removed, "skipped", result.Skipped, "chat_id", state.ChatID)

	summary := fmt.Sprintf("Group @%s saved: %d added, %d removed.", state.GroupName, result.Added, result.Removed)
	if result.Skipped > 0 {
		summary += fmt.Sprintf(" %d skipped as they are not members of the chat.", result.Skipped)
	}

	if state.Stage == StageEditingMembers {
		return e.showGroup(ctx, conv, state, result.Group.ID, summary)
	}
	return e.finish(ctx, conv, summary)
}

func (e *Engine) deleteGroup(ctx context.Context, conv Conversation, state *State) (Reply, error) {
	deleted, err := e.store.DeleteGroupByID(ctx, state.ChatID, state.GroupID)
	if err != nil {
		return Reply{}, err
	}

	notice := fmt.Sprintf("Group @%s deleted.", state.GroupName)
	if !deleted {
		notice = fmt.Sprintf("Group @%s was already deleted.", state.GroupName)
	} else {
		slog.Info("wizard: Group deleted", "group_id", state.GroupID, "name", state.GroupName, "chat_id", state.ChatID)
	}

	state.GroupID, state.GroupName, state.Version = 0, "", 0
	return e.showGroups(ctx, conv, state, notice)
}

func (e *Engine) showRoster(ctx context.Context, conv Conversation, state *State, notice string) (Reply, error) {
	state.Page = max(state.Page, 0)
	users, total, err := e.store.PaginateChatUsers(ctx, state.ChatID, PageSize, state.Page*PageSize)
	if err != nil {
		return Reply{}, err
	}
	if page := clampPage(state.Page, total, PageSize); page != state.Page {
		state.Page = page
		users, total, err = e.store.PaginateChatUsers(ctx, state.ChatID, PageSize, page*PageSize)
		if err != nil {
			return Reply{}, err
		}
	}

	return e.save(ctx, conv, state, renderRoster(state, users, total, notice))
}

func (e *Engine) showGroups(ctx context.Context, conv Conversation, state *State, notice string) (Reply, error) {
	state.Page = max(state.Page, 0)
	groups, total, err := e.store.PaginateGroups(ctx, state.ChatID, PageSize, state.Page*PageSize)
	if err != nil {
		return Reply{}, err
	}
	if page := clampPage(state.Page, total, PageSize); page != state.Page {
		state.Page = page
		groups, total, err = e.store.PaginateGroups(ctx, state.ChatID, PageSize, page*PageSize)
		if err != nil {
			return Reply{}, err
		}
	}

	state.Stage = StageListingGroups
	return e.save(ctx, conv, state, renderGroups(state, groups, total, notice))
}

func (e *Engine) showGroup(ctx context.Context, conv Conversation, state *State, groupID int32, notice string) (Reply, error) {
	group, err := e.store.GetGroupByID(ctx, state.ChatID, groupID)
	if err != nil {
		return Reply{}, err
	}
	members, err := e.store.GroupMembers(ctx, group.ID)
	if err != nil {
		return Reply{}, err
	}

	state.GroupID, state.GroupName, state.Version = group.ID, group.Name, group.Version
	state.Selected = nil
	state.Stage = StageViewingGroup
	return e.save(ctx, conv, state, renderGroup(state, members, notice))
}

func (e *Engine) save(ctx context.Context, conv Conversation, state *State, reply Reply) (Reply, error) {
	if err := e.sessions.Save(ctx, conv.key(), state); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

func (e *Engine) finish(ctx context.Context, conv Conversation, text string) (Reply, error) {
	if err := e.sessions.Delete(ctx, conv.key()); err != nil {
		return Reply{}, err
	}
	return Reply{Text: text, Done: true}, nil
}

// expire ends the session when its target is gone.
func (e *Engine) expire(ctx context.Context, conv Conversation, err error) error {
	if !errors.Is(err, ErrStateExpired) && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if delErr := e.sessions.Delete(ctx, conv.key()); delErr != nil {
		slog.Warn("wizard: Failed to drop expired session", "error", delErr, "chat_id", conv.ChatID, "user_id", conv.UserID)
	}
	return ErrStateExpired
}
