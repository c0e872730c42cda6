// Package protocol defines the row shapes and JSON envelopes exchanged
// between Chorus clients and the backend.
package protocol

import "encoding/json"

// Table names that can be subscribed to on the change feed.
const (
	TableMessages        = "messages"
	TableDirectMessages  = "direct_messages"
	TableFlaggedMessages = "flagged_messages"
)

// Channel types
const (
	ChannelTypeText  = "text"
	ChannelTypeVoice = "voice"
)

// Profile is the public identity of a user. Timestamps are Unix milliseconds.
type Profile struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	AvatarURL  *string `json:"avatar_url"`
	Bio        *string `json:"bio,omitempty"`
	Status     string  `json:"status,omitempty"`
	LastActive *int64  `json:"last_active,omitempty"`
	LastIP     *string `json:"last_ip,omitempty"`
	CreatedAt  int64   `json:"created_at"`
}

// Server is a community that owns channels.
type Server struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	OwnerID    string  `json:"owner_id"`
	IconURL    *string `json:"icon_url"`
	InviteCode string  `json:"invite_code"`
	CreatedAt  int64   `json:"created_at"`

	// Populated by moderation listings only
	OwnerUsername string `json:"owner_username,omitempty"`
}

// Channel belongs to exactly one server.
type Channel struct {
	ID        string `json:"id"`
	ServerID  string `json:"server_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Position  int    `json:"position"`
	CreatedAt int64  `json:"created_at"`

	// Populated by moderation listings only
	ServerName string `json:"server_name,omitempty"`
}

// Message is a channel message row.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
	IsDeleted bool   `json:"is_deleted"`
	IsEdited  bool   `json:"is_edited"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// DirectMessage is a message scoped to a sender/recipient pair.
type DirectMessage struct {
	ID          string `json:"id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	IsDeleted   bool   `json:"is_deleted"`
	IsEdited    bool   `json:"is_edited"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Ban is a user ban, either global or scoped to one server.
type Ban struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	ServerID  *string `json:"server_id"`
	Reason    string  `json:"reason"`
	IsGlobal  bool    `json:"is_global"`
	BannedBy  string  `json:"banned_by"`
	CreatedAt int64   `json:"created_at"`
}

// IPBan blocks every request from an address.
type IPBan struct {
	ID        string `json:"id"`
	IPAddress string `json:"ip_address"`
	Reason    string `json:"reason"`
	BannedBy  string `json:"banned_by"`
	CreatedAt int64  `json:"created_at"`
}

// FlaggedMessage is a report against a channel message or a DM.
// Exactly one of MessageID and DMID is set.
type FlaggedMessage struct {
	ID          string  `json:"id"`
	MessageID   *string `json:"message_id"`
	DMID        *string `json:"dm_id"`
	Reason      string  `json:"reason"`
	Severity    string  `json:"severity"`
	Reviewed    bool    `json:"reviewed"`
	ReviewedBy  *string `json:"reviewed_by"`
	ActionTaken *string `json:"action_taken"`
	CreatedAt   int64   `json:"created_at"`

	Message       *Message       `json:"messages,omitempty"`
	DirectMessage *DirectMessage `json:"direct_messages,omitempty"`
}

// ModerationLog is one audit record written by a moderation mutation.
type ModerationLog struct {
	ID           string          `json:"id"`
	ActionType   string          `json:"action_type"`
	PerformedBy  string          `json:"performed_by"`
	TargetUserID *string         `json:"target_user_id"`
	Details      json.RawMessage `json:"details"`
	CreatedAt    int64           `json:"created_at"`
}
