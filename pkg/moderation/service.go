// Package moderation implements the admin-auth and admin-operations functions
// of the Chorus backend and the console client that calls them.
//
// Every mutating operation commits its change and one moderation_logs record
// in a single transaction, attributed to the admin named in the verified token.
package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aeolun/chorus/pkg/auth"
	"github.com/aeolun/chorus/pkg/database"
	"github.com/aeolun/chorus/pkg/protocol"
	"go.uber.org/zap"
)

// LogLimit is the number of records returned by get_moderation_logs.
const LogLimit = 100

// ActionLogin is the only admin-auth action.
const ActionLogin = "login"

var (
	// ErrUnauthorized is returned when the admin token is missing or does not verify.
	ErrUnauthorized = errors.New("Unauthorized")
	// ErrUnknownOperation is returned for an operation name the function does not handle.
	ErrUnknownOperation = errors.New("Unknown operation")
	// ErrInvalidPayload is returned when data is malformed or misses a required field.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrInvalidAction is returned by admin-auth for anything but login.
	ErrInvalidAction = errors.New("Invalid action")
	// ErrInvalidCredentials is returned by admin-auth for a bad username or password.
	ErrInvalidCredentials = errors.New("Invalid credentials")
)

// Store is the slice of the database the moderation functions use.
type Store interface {
	GetAdminUser(username string) (*database.AdminUser, error)
	ListProfiles() ([]protocol.Profile, error)
	ListServersWithOwner() ([]protocol.Server, error)
	ListChannelsWithServer() ([]protocol.Channel, error)
	ListUnreviewedFlags() ([]protocol.FlaggedMessage, error)
	ListModerationLogs(limit int) ([]protocol.ModerationLog, error)
	CreateUserBan(userID string, serverID *string, reason string, isGlobal bool, adminName string) (*protocol.Ban, error)
	CreateIPBan(ipAddress, reason, adminName string) (*protocol.IPBan, error)
	AdminSoftDeleteMessage(messageID string, isDM bool, adminName string) error
	DeleteChannel(channelID, adminName string) error
	ReviewFlag(flaggedID, action, adminName string) error
}

// Metrics records one outcome per dispatched operation.
type Metrics interface {
	RecordModerationOp(op, result string)
}

// Admin is the identity carried by a verified admin token.
type Admin struct {
	Username  string
	ExpiresAt time.Time
}

// Service answers admin-auth and admin-operations requests.
type Service struct {
	store    Store
	signer   *auth.Signer
	tokenTTL time.Duration
	metrics  Metrics
	log      *zap.SugaredLogger
}

// NewService creates a moderation service. A nil logger discards output.
func NewService(store Store, signer *auth.Signer, tokenTTL time.Duration, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{store: store, signer: signer, tokenTTL: tokenTTL, log: log}
}

// SetMetrics sets the metrics sink
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// Login handles an admin-auth request and issues a signed admin token.
func (s *Service) Login(req protocol.AdminAuthRequest) (*protocol.AdminAuthResponse, error) {
	if req.Action != ActionLogin {
		return nil, ErrInvalidAction
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	admin, err := s.store.GetAdminUser(username)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load admin: %w", err)
	}
	if err := auth.CheckPassword(admin.PasswordHash, req.Password); err != nil {
		s.log.Infow("admin login rejected", "username", username)
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.signer.Issue(admin.Username, admin.Username, auth.RoleAdmin, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	s.log.Infow("admin logged in", "username", admin.Username, "expires_at", expiresAt)
	return &protocol.AdminAuthResponse{Token: token, ExpiresAt: expiresAt.UnixMilli()}, nil
}

// Authorize verifies an Authorization header value and returns the admin it names.
func (s *Service) Authorize(header string) (*Admin, error) {
	token, err := auth.ParseBearerToken(header)
	if err != nil {
		return nil, ErrUnauthorized
	}
	claims, err := s.signer.Verify(token, auth.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return &Admin{Username: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Dispatch runs one operation on behalf of admin and returns the value to
// send back as data.
func (s *Service) Dispatch(ctx context.Context, admin *Admin, op string, data json.RawMessage) (result any, err error) {
	defer func() {
		if s.metrics == nil {
			return
		}
		outcome := "ok"
		switch {
		case errors.Is(err, ErrUnknownOperation), errors.Is(err, ErrInvalidPayload):
			outcome = "invalid"
		case err != nil:
			outcome = "error"
		}
		s.metrics.RecordModerationOp(op, outcome)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch op {
	case protocol.OpGetUsers:
		return s.store.ListProfiles()
	case protocol.OpGetServers:
		return s.store.ListServersWithOwner()
	case protocol.OpGetChannels:
		return s.store.ListChannelsWithServer()
	case protocol.OpGetFlaggedMessages:
		return s.store.ListUnreviewedFlags()
	case protocol.OpGetModerationLogs:
		return s.store.ListModerationLogs(LogLimit)
	case protocol.OpBanUser:
		return s.banUser(admin, data)
	case protocol.OpIPBan:
		return s.ipBan(admin, data)
	case protocol.OpDeleteMessage:
		return s.deleteMessage(admin, data)
	case protocol.OpDeleteChannel:
		return s.deleteChannel(admin, data)
	case protocol.OpReviewFlaggedMessage:
		return s.reviewFlag(admin, data)
	}
	return nil, ErrUnknownOperation
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: data is required", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
	}
	return nil
}

func (s *Service) banUser(admin *Admin, data json.RawMessage) (any, error) {
	var p protocol.BanUserPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := required("user_id", p.UserID); err != nil {
		return nil, err
	}
	if p.ServerID != nil && *p.ServerID == "" {
		p.ServerID = nil
	}
	if !p.IsGlobal && p.ServerID == nil {
		return nil, fmt.Errorf("%w: server_id is required unless is_global", ErrInvalidPayload)
	}
	if p.IsGlobal {
		p.ServerID = nil
	}

	ban, err := s.store.CreateUserBan(p.UserID, p.ServerID, p.Reason, p.IsGlobal, admin.Username)
	if err != nil {
		return nil, fmt.Errorf("ban user: %w", err)
	}
	s.log.Infow("user banned", "admin", admin.Username, "user_id", p.UserID, "global", p.IsGlobal)
	return ban, nil
}

func (s *Service) ipBan(admin *Admin, data json.RawMessage) (any, error) {
	var p protocol.IPBanPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := required("ip_address", p.IPAddress); err != nil {
		return nil, err
	}

	ban, err := s.store.CreateIPBan(strings.TrimSpace(p.IPAddress), p.BanReason, admin.Username)
	if err != nil {
		return nil, fmt.Errorf("ban ip: %w", err)
	}
	s.log.Infow("ip banned", "admin", admin.Username, "ip", ban.IPAddress)
	return ban, nil
}

func (s *Service) deleteMessage(admin *Admin, data json.RawMessage) (any, error) {
	var p protocol.DeleteMessagePayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := required("message_id", p.MessageID); err != nil {
		return nil, err
	}

	if err := s.store.AdminSoftDeleteMessage(p.MessageID, p.IsDM, admin.Username); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	s.log.Infow("message deleted", "admin", admin.Username, "message_id", p.MessageID, "is_dm", p.IsDM)
	return map[string]any{"message_id": p.MessageID, "is_dm": p.IsDM, "is_deleted": true}, nil
}

func (s *Service) deleteChannel(admin *Admin, data json.RawMessage) (any, error) {
	var p protocol.DeleteChannelPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := required("channel_id", p.ChannelID); err != nil {
		return nil, err
	}

	if err := s.store.DeleteChannel(p.ChannelID, admin.Username); err != nil {
		return nil, fmt.Errorf("delete channel: %w", err)
	}
	s.log.Infow("channel deleted", "admin", admin.Username, "channel_id", p.ChannelID)
	return map[string]any{"channel_id": p.ChannelID}, nil
}

func (s *Service) reviewFlag(admin *Admin, data json.RawMessage) (any, error) {
	var p protocol.ReviewFlagPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := required("flagged_id", p.FlaggedID); err != nil {
		return nil, err
	}
	if err := required("action", p.Action); err != nil {
		return nil, err
	}

	if err := s.store.ReviewFlag(p.FlaggedID, p.Action, admin.Username); err != nil {
		return nil, fmt.Errorf("review flag: %w", err)
	}
	return map[string]any{"flagged_id": p.FlaggedID, "reviewed": true, "action_taken": p.Action}, nil
}
