package wizard

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Flow string

const (
	FlowCreate Flow = "create"
	FlowManage Flow = "manage"
	FlowRelay  Flow = "relay"
)

type Stage string

const (
	StageChoosingChat     Stage = "choosing_chat"
	StageEnteringName     Stage = "entering_name"
	StageSelectingUsers   Stage = "selecting_users"
	StageMenu             Stage = "menu"
	StageListingGroups    Stage = "listing_groups"
	StageViewingGroup     Stage = "viewing_group"
	StageRenaming         Stage = "renaming"
	StageEditingMembers   Stage = "editing_members"
	StageConfirmingDelete Stage = "confirming_delete"
	StageComposingMessage Stage = "composing_message"
)

// waitsForText reports whether free text sent to the conversation belongs to the wizard.
func (s Stage) waitsForText() bool {
	switch s {
	case StageEnteringName, StageRenaming, StageComposingMessage:
		return true
	default:
		return false
	}
}

// Key identifies the conversation a session belongs to.
type Key struct {
	ChatID int64
	UserID int64
}

// State is the transient state of one wizard session.
// Which fields are meaningful depends on the Stage.
type State struct {
	ID    string `json:"id"`
	Flow  Flow   `json:"flow"`
	Stage Stage  `json:"stage"`

	ChatID    int64  `json:"chat_id,omitempty"`
	ChatTitle string `json:"chat_title,omitempty"`

	GroupID   int32  `json:"group_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
	// Version of the group when its editing started, 0 for new groups.
	Version int64 `json:"version,omitempty"`

	Selected []int64 `json:"selected,omitempty"`
	Page     int     `json:"page,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func newState(flow Flow) *State {
	return &State{
		ID:   newSessionID(),
		Flow: flow,
	}
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (s *State) isSelected(userID int64) bool {
	for _, id := range s.Selected {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *State) toggle(userID int64) {
	for i, id := range s.Selected {
		if id == userID {
			s.Selected = append(s.Selected[:i], s.Selected[i+1:]...)
			return
		}
	}
	s.Selected = append(s.Selected, userID)
}

// clampPage keeps page within [0, max(ceil(total/size)-1, 0)].
func clampPage(page int, total int64, size int) int {
	last := 0
	if total > 0 {
		last = int((total - 1) / int64(size))
	}
	if page > last {
		page = last
	}
	if page < 0 {
		page = 0
	}
	return page
}
