package protocol

import "encoding/json"

// Moderation operation names accepted by the admin-operations function.
const (
	OpGetUsers             = "get_users"
	OpGetServers           = "get_servers"
	OpGetChannels          = "get_channels"
	OpGetFlaggedMessages   = "get_flagged_messages"
	OpGetModerationLogs    = "get_moderation_logs"
	OpBanUser              = "ban_user"
	OpIPBan                = "ip_ban"
	OpDeleteMessage        = "delete_message"
	OpDeleteChannel        = "delete_channel"
	OpReviewFlaggedMessage = "review_flagged_message"
)

// Audit action types written to moderation_logs.
const (
	ActionUserBanned     = "user_banned"
	ActionIPBanned       = "ip_banned"
	ActionMessageDeleted = "message_deleted"
	ActionChannelDeleted = "channel_deleted"
	ActionFlagReviewed   = "flag_reviewed"
)

// FunctionRequest is the body of an admin-operations call.
type FunctionRequest struct {
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// FunctionResponse is the body of every function reply: {data} or {error}.
type FunctionResponse struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// AdminAuthRequest is the body of an admin-auth call.
type AdminAuthRequest struct {
	Action   string `json:"action"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AdminAuthResponse carries the signed admin token.
type AdminAuthResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// BanUserPayload is the data of ban_user.
type BanUserPayload struct {
	UserID   string  `json:"user_id"`
	ServerID *string `json:"server_id,omitempty"`
	Reason   string  `json:"reason"`
	IsGlobal bool    `json:"is_global"`
}

// IPBanPayload is the data of ip_ban.
type IPBanPayload struct {
	IPAddress string `json:"ip_address"`
	BanReason string `json:"ban_reason"`
}

// DeleteMessagePayload is the data of delete_message.
type DeleteMessagePayload struct {
	MessageID string `json:"message_id"`
	IsDM      bool   `json:"is_dm"`
}

// DeleteChannelPayload is the data of delete_channel.
type DeleteChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

// ReviewFlagPayload is the data of review_flagged_message.
type ReviewFlagPayload struct {
	FlaggedID string `json:"flagged_id"`
	Action    string `json:"action"`
}

// IsMutation reports whether an operation writes an audit record.
func IsMutation(op string) bool {
	switch op {
	case OpBanUser, OpIPBan, OpDeleteMessage, OpDeleteChannel, OpReviewFlaggedMessage:
		return true
	}
	return false
}
