package protocol

// Credentials is the body of the signup and token endpoints.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by the signup and token endpoints.
type AuthResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresAt   int64   `json:"expires_at"`
	User        Profile `json:"user"`
}

// PostMessageRequest is the body of a channel message insert.
type PostMessageRequest struct {
	Content string `json:"content"`
}

// PostDirectMessageRequest is the body of a direct message insert.
type PostDirectMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

// CreateServerRequest is the body of a server insert.
type CreateServerRequest struct {
	Name    string  `json:"name"`
	IconURL *string `json:"icon_url,omitempty"`
}

// FlagRequest reports a channel message or a DM. Exactly one id is set.
type FlagRequest struct {
	MessageID *string `json:"message_id,omitempty"`
	DMID      *string `json:"dm_id,omitempty"`
	Reason    string  `json:"reason"`
	Severity  string  `json:"severity,omitempty"`
}

// ErrorResponse is the body of every failed REST call.
type ErrorResponse struct {
	Error string `json:"error"`
}
