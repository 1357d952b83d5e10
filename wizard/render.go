package wizard

import (
	"fmt"
	"strings"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
)

const invalidNameNotice = "Invalid name. Use 1-255 latin letters, digits or underscores."

func renderChats(state *State, chats []storage.Chat) Reply {
	total := int64(len(chats))
	state.Page = clampPage(state.Page, total, PageSize)

	from := state.Page * PageSize
	to := min(from+PageSize, len(chats))

	keyboard := make([][]Button, 0, to-from+2)
	for _, chat := range chats[from:to] {
		keyboard = append(keyboard, []Button{{Text: chat.DisplayTitle(), Data: encodeCallback(state.ID, actionChat, chat.ID)}})
	}
	if nav := navRow(state, total); nav != nil {
		keyboard = append(keyboard, nav)
	}
	keyboard = append(keyboard, []Button{cancelButton(state)})

	text := "Choose a chat:"
	if state.Flow == FlowRelay {
		text = "Choose a chat to send a message to:"
	}
	return Reply{Text: text, Keyboard: keyboard}
}

func renderNamePrompt(state *State, notice string) Reply {
	return Reply{
		Text:     withNotice(notice, fmt.Sprintf("Send a name for the new group in %s.", state.ChatTitle)),
		Keyboard: [][]Button{{cancelButton(state)}},
	}
}

func renderRenamePrompt(state *State, notice string) Reply {
	return Reply{
		Text: withNotice(notice, fmt.Sprintf("Send a new name for @%s.", state.GroupName)),
		Keyboard: [][]Button{{
			{Text: "« Back", Data: encodeCallback(state.ID, actionBack)},
		}},
	}
}

func renderComposePrompt(state *State) Reply {
	return Reply{
		Text:     fmt.Sprintf("Send the message for %s.", state.ChatTitle),
		Keyboard: [][]Button{{cancelButton(state)}},
	}
}

func renderMenu(state *State) Reply {
	return Reply{
		Text: fmt.Sprintf("Groups of %s.", state.ChatTitle),
		Keyboard: [][]Button{
			{{Text: "List groups", Data: encodeCallback(state.ID, actionList)}},
			{{Text: "New group", Data: encodeCallback(state.ID, actionNew)}},
			{{Text: "Close", Data: encodeCallback(state.ID, actionClose)}},
		},
	}
}

func renderRoster(state *State, users []storage.User, total int64, notice string) Reply {
	keyboard := make([][]Button, 0, len(users)+2)
	for _, user := range users {
		mark := "☐ "
		if state.isSelected(user.ID) {
			mark = "✅ "
		}
		keyboard = append(keyboard, []Button{{Text: mark + user.Label(), Data: encodeCallback(state.ID, actionUser, user.ID)}})
	}
	if nav := navRow(state, total); nav != nil {
		keyboard = append(keyboard, nav)
	}

	last := cancelButton(state)
	if state.Stage == StageEditingMembers {
		last = Button{Text: "« Back", Data: encodeCallback(state.ID, actionBack)}
	}
	keyboard = append(keyboard, []Button{{Text: "Save", Data: encodeCallback(state.ID, actionSubmit)}, last})

	text := fmt.Sprintf("Select members of @%s in %s (%d selected).", state.GroupName, state.ChatTitle, len(state.Selected))
	if total == 0 {
		text += "\nNobody of this chat is known yet. Members can run /create me there."
	}
	return Reply{Text: withNotice(notice, text), Keyboard: keyboard}
}

func renderGroups(state *State, groups []storage.Group, total int64, notice string) Reply {
	keyboard := make([][]Button, 0, len(groups)+2)
	for _, group := range groups {
		keyboard = append(keyboard, []Button{{Text: "@" + group.Name, Data: encodeCallback(state.ID, actionGroup, int64(group.ID))}})
	}
	if nav := navRow(state, total); nav != nil {
		keyboard = append(keyboard, nav)
	}
	keyboard = append(keyboard, []Button{{Text: "« Back", Data: encodeCallback(state.ID, actionBack)}})

	text := fmt.Sprintf("Groups of %s (%d):", state.ChatTitle, total)
	if total == 0 {
		text = fmt.Sprintf("There are no groups in %s yet.", state.ChatTitle)
	}
	return Reply{Text: withNotice(notice, text), Keyboard: keyboard}
}

func renderGroup(state *State, members []storage.User, notice string) Reply {
	labels := make([]string, 0, len(members))
	for _, m := range members {
		labels = append(labels, m.Label())
	}

	text := fmt.Sprintf("Group @%s in %s.\n", state.GroupName, state.ChatTitle)
	if len(labels) == 0 {
		text += "No members."
	} else {
		text += "Members: " + strings.Join(labels, ", ")
	}

	return Reply{
		Text: withNotice(notice, text),
		Keyboard: [][]Button{
			{
				{Text: "Rename", Data: encodeCallback(state.ID, actionRename)},
				{Text: "Members", Data: encodeCallback(state.ID, actionMembers)},
			},
			{{Text: "Delete", Data: encodeCallback(state.ID, actionDelete)}},
			{{Text: "« Back", Data: encodeCallback(state.ID, actionBack)}},
		},
	}
}

func renderConfirmDelete(state *State) Reply {
	return Reply{
		Text: fmt.Sprintf("Delete group @%s? This cannot be undone.", state.GroupName),
		Keyboard: [][]Button{{
			{Text: "Delete", Data: encodeCallback(state.ID, actionConfirm)},
			{Text: "« Back", Data: encodeCallback(state.ID, actionBack)},
		}},
	}
}

// navRow returns page buttons or nil when everything fits one page.
func navRow(state *State, total int64) []Button {
	pages := int((total + PageSize - 1) / PageSize)
	if pages <= 1 {
		return nil
	}

	row := make([]Button, 0, 3)
	if state.Page > 0 {
		row = append(row, Button{Text: "‹ Prev", Data: encodeCallback(state.ID, actionPage, int64(state.Page-1))})
	}
	row = append(row, Button{Text: fmt.Sprintf("%d/%d", state.Page+1, pages), Data: encodeCallback(state.ID, actionNoop)})
	if state.Page < pages-1 {
		row = append(row, Button{Text: "Next ›", Data: encodeCallback(state.ID, actionPage, int64(state.Page+1))})
	}
	return row
}

func cancelButton(state *State) Button {
	return Button{Text: "Cancel", Data: encodeCallback(state.ID, actionCancel)}
}

func withNotice(notice, text string) string {
	if notice == "" {
		return text
	}
	return notice + "\n\n" + text
}
