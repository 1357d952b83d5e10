package storage

import (
	"errors"
	"time"
)

var (
	ErrInvalidChat = errors.New("chat id is required")
	ErrInvalidUser = errors.New("user id is required")
)

// ChatKind is the Telegram chat type.
type ChatKind string

const (
	ChatKindPrivate    ChatKind = "private"
	ChatKindGroup      ChatKind = "group"
	ChatKindSupergroup ChatKind = "supergroup"
	ChatKindChannel    ChatKind = "channel"
)

// Chat is a Telegram conversation the bot was registered in
type Chat struct {
	ID    int64 `gorm:"primaryKey;autoIncrement:false"`
	Title *string
	Kind  *ChatKind `gorm:"size:30"`
}

func (Chat) TableName() string { return "chats" }

// NewChat validates the required fields of a chat record.
func NewChat(id int64, title string, kind ChatKind) (Chat, error) {
	if id == 0 {
		return Chat{}, ErrInvalidChat
	}

	chat := Chat{ID: id}
	if title != "" {
		chat.Title = &title
	}
	if kind != "" {
		chat.Kind = &kind
	}

	return chat, nil
}

// DisplayTitle returns the title or the numeric id when the chat has none.
func (c Chat) DisplayTitle() string {
	if c.Title != nil && *c.Title != "" {
		return *c.Title
	}
	return formatID(c.ID)
}

// User is a Telegram user known to the bot
type User struct {
	ID          int64 `gorm:"primaryKey;autoIncrement:false"`
	DisplayName *string
	Handle      *string `gorm:"size:255;index:idx_users_handle"`
}

func (User) TableName() string { return "users" }

// NewUser validates the required fields of a user record. The handle is sanitized
// the same way command arguments are: trimmed and stripped of leading "@".
func NewUser(id int64, displayName, handle string) (User, error) {
	if id == 0 {
		return User{}, ErrInvalidUser
	}

	user := User{ID: id}
	if displayName != "" {
		user.DisplayName = &displayName
	}
	if h := SanitizeHandle(handle); h != "" {
		user.Handle = &h
	}

	return user, nil
}

// HandleOrEmpty returns the handle without "@" or an empty string
func (u User) HandleOrEmpty() string {
	if u.Handle == nil {
		return ""
	}
	return *u.Handle
}

// Label is used wherever a user has to be shown in a list.
func (u User) Label() string {
	switch {
	case u.Handle != nil && *u.Handle != "":
		return "@" + *u.Handle
	case u.DisplayName != nil && *u.DisplayName != "":
		return *u.DisplayName
	default:
		return formatID(u.ID)
	}
}

// ChatMember links a user to a chat they belong to
type ChatMember struct {
	UserID int64 `gorm:"primaryKey;autoIncrement:false"`
	ChatID int64 `gorm:"primaryKey;autoIncrement:false;index:idx_chat_memberships_chat"`
	User   User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Chat   Chat  `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
}

func (ChatMember) TableName() string { return "chat_memberships" }

// Group represents a group that can be mentioned
type Group struct {
	ID      int32  `gorm:"primaryKey"`
	ChatID  int64  `gorm:"not null;uniqueIndex:idx_groups_chat_name,priority:1"`
	Name    string `gorm:"size:255;not null;uniqueIndex:idx_groups_chat_name,priority:2"`
	Version int64  `gorm:"not null;default:1"`
	Chat    Chat   `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
}

func (Group) TableName() string { return "groups" }

// GroupMember represents a user who is a member of a mention group
type GroupMember struct {
	UserID  int64 `gorm:"primaryKey;autoIncrement:false"`
	GroupID int32 `gorm:"primaryKey;autoIncrement:false;index:idx_group_memberships_group"`
	User    User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Group   Group `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
}

func (GroupMember) TableName() string { return "group_memberships" }

// ChatMessage is one entry of the rolling per-chat history.
type ChatMessage struct {
	ID                int64     `gorm:"primaryKey;index:idx_chat_messages_chat_id_id,priority:2"`
	ChatID            int64     `gorm:"not null;index:idx_chat_messages_chat_id_id,priority:1"`
	IsBot             bool      `gorm:"not null;default:false"`
	Text              string    `gorm:"type:text;not null"`
	ExternalMessageID *int64
	UserID            *int64
	AuthorName        string    `gorm:"->;-:migration"`
	CreatedAt         time.Time `gorm:"not null;autoCreateTime"`
}

func (ChatMessage) TableName() string { return "chat_messages" }
