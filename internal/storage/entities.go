package storage

import "time"

// ChatKind distinguishes two-party conversations from group ones
type ChatKind string

const (
	ChatPrivate ChatKind = "PRIVATE"
	ChatGroup   ChatKind = "GROUP"
)

// MessageKind tags what a message carries. A message has at least one kind.
type MessageKind string

const (
	KindText        MessageKind = "TEXT"
	KindMedia       MessageKind = "MEDIA"
	KindSharedPost  MessageKind = "SHARED_POST"
	KindSharedStory MessageKind = "SHARED_STORY"
	KindSharedReel  MessageKind = "SHARED_REEL"
	KindSharedUser  MessageKind = "SHARED_USER"
)

// Valid reports whether k is one of the known message kinds
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindMedia, KindSharedPost, KindSharedStory, KindSharedReel, KindSharedUser:
		return true
	}
	return false
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSummary is the display subset of User attached to chats and messages
type UserSummary struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url"`
}

type Participant struct {
	Chat     int64     `json:"chat"`
	User     int64     `json:"user"`
	JoinedAt time.Time `json:"joined_at"`
}

type Chat struct {
	ID           int64         `json:"id"`
	Kind         ChatKind      `json:"kind"`
	Name         *string       `json:"name"`
	Creator      int64         `json:"creator"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
	DeletedAt    *time.Time    `json:"-"`
}

// HasParticipant reports whether user is a member of the chat
func (c Chat) HasParticipant(user int64) bool {
	for _, p := range c.Participants {
		if p.User == user {
			return true
		}
	}
	return false
}

// PostSummary, StorySummary and ReelSummary reduce shared content to what a chat bubble shows
type PostSummary struct {
	ID           int64   `json:"id"`
	Caption      *string `json:"caption"`
	ThumbnailURL *string `json:"thumbnail_url"`
}

type StorySummary struct {
	ID       int64   `json:"id"`
	MediaURL *string `json:"media_url"`
}

type ReelSummary struct {
	ID           int64   `json:"id"`
	Caption      *string `json:"caption"`
	ThumbnailURL *string `json:"thumbnail_url"`
}

// NewMessage is the payload of a message about to be created
type NewMessage struct {
	Chat        int64
	Sender      int64
	Body        *string
	Kinds       []MessageKind
	SharedPost  *int64
	SharedStory *int64
	SharedReel  *int64
	SharedUser  *int64
	Media       *int64
}

type Message struct {
	ID          int64         `json:"id"`
	Chat        int64         `json:"chat"`
	Sender      int64         `json:"sender"`
	Body        *string       `json:"body"`
	Kinds       []MessageKind `json:"kinds"`
	SharedPost  *int64        `json:"shared_post,omitempty"`
	SharedStory *int64        `json:"shared_story,omitempty"`
	SharedReel  *int64        `json:"shared_reel,omitempty"`
	SharedUser  *int64        `json:"shared_user,omitempty"`
	Media       *int64        `json:"media,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	DeletedAt   *time.Time    `json:"deleted_at,omitempty"`

	// filled on history reads only
	SenderInfo *UserSummary  `json:"sender_info,omitempty"`
	Post       *PostSummary  `json:"post,omitempty"`
	Story      *StorySummary `json:"story,omitempty"`
	Reel       *ReelSummary  `json:"reel,omitempty"`
	User       *UserSummary  `json:"user,omitempty"`
}

// RecentMessage holds the newest live message of a chat, both fields nil when there is none
type RecentMessage struct {
	Text *string    `json:"text"`
	Time *time.Time `json:"time"`
}

type ChatSummary struct {
	ID     int64         `json:"id"`
	Kind   ChatKind      `json:"kind"`
	Name   *string       `json:"name"`
	Peers  []UserSummary `json:"peers"`
	Recent RecentMessage `json:"recent"`
}
