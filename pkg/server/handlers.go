package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aeolun/chorus/pkg/auth"
	"github.com/aeolun/chorus/pkg/database"
	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/gorilla/mux"
)

const maxRequestBody = 1 << 20

// Error texts returned in {error} bodies. Clients show them verbatim.
const (
	msgEmptyMessage      = "Message cannot be empty"
	msgServerName        = "Server name is required"
	msgCredentials       = "username and password are required"
	msgInvalidLogin      = "invalid username or password"
	msgBanned            = "You are banned from this server"
	msgBannedGlobal      = "You are banned"
	msgNotMember         = "not a member of this server"
	msgRateLimited       = "rate limit exceeded, slow down"
	msgDatabase          = "Database error"
	msgChannelNotFound   = "channel not found"
	msgServerNotFound    = "server not found"
	msgProfileNotFound   = "profile not found"
	msgRecipientNotFound = "recipient not found"
	msgInvalidInvite     = "invalid invite code"
	msgReasonRequired    = "A reason is required"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debugLog.Debugw("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: message})
}

// dbError logs a database error and sends a generic 500
func dbError(w http.ResponseWriter, operation string, err error) {
	errorLog.Errorw("database operation failed", "operation", operation, "error", err)
	writeError(w, http.StatusInternalServerError, msgDatabase)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// validContent trims content and checks it against the length limit
func (s *Server) validContent(w http.ResponseWriter, content string) (string, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		writeError(w, http.StatusBadRequest, msgEmptyMessage)
		return "", false
	}
	if n := utf8.RuneCountInString(content); n > s.config.MaxMessageLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Message too long (%d > %d characters)", n, s.config.MaxMessageLength))
		return "", false
	}
	return content, true
}

// ===== Auth =====

func (s *Server) issueSession(w http.ResponseWriter, status int, profile *protocol.Profile) {
	token, expiresAt, err := s.signer.Issue(profile.ID, profile.Username, auth.RoleUser, s.config.SessionTokenTTL)
	if err != nil {
		errorLog.Errorw("issue session token", "error", err)
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, status, protocol.AuthResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.UnixMilli(),
		User:        *profile,
	})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req protocol.Credentials
	if !decodeBody(w, r, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, msgCredentials)
		return
	}
	if n := utf8.RuneCountInString(username); n > s.config.MaxUsernameLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("username too long (%d > %d characters)", n, s.config.MaxUsernameLength))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		errorLog.Errorw("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}
	profile, err := s.db.CreateProfile(username, hash)
	if errors.Is(err, database.ErrUsernameTaken) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		dbError(w, "create profile", err)
		return
	}

	debugLog.Infow("profile created", "user_id", profile.ID, "username", profile.Username)
	s.issueSession(w, http.StatusCreated, profile)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req protocol.Credentials
	if !decodeBody(w, r, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, msgCredentials)
		return
	}

	profile, hash, err := s.db.GetProfileCredentials(username)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, msgInvalidLogin)
		return
	}
	if err != nil {
		dbError(w, "load credentials", err)
		return
	}
	if err := auth.CheckPassword(hash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, msgInvalidLogin)
		return
	}

	if err := s.db.TouchProfile(profile.ID, clientIP(r)); err != nil {
		errorLog.Warnw("touch profile", "user_id", profile.ID, "error", err)
	}
	s.issueSession(w, http.StatusOK, profile)
}

// ===== Profiles =====

func (s *Server) handleGetProfiles(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusOK, []protocol.Profile{})
		return
	}
	profiles, err := s.db.GetProfilesByIDs(ids)
	if err != nil {
		dbError(w, "get profiles", err)
		return
	}
	writeJSON(w, http.StatusOK, publicProfiles(profiles))
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.db.GetProfile(mux.Vars(r)["id"])
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgProfileNotFound)
		return
	}
	if err != nil {
		dbError(w, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, publicProfile(*profile))
}

// publicProfile strips fields only moderators may see
func publicProfile(p protocol.Profile) protocol.Profile {
	p.LastIP = nil
	return p
}

func publicProfiles(profiles []protocol.Profile) []protocol.Profile {
	out := make([]protocol.Profile, len(profiles))
	for i, p := range profiles {
		out[i] = publicProfile(p)
	}
	return out
}

// ===== Channel messages =====

// memberChannel loads a channel and checks the caller belongs to its server
func (s *Server) memberChannel(w http.ResponseWriter, channelID, userID string) (*protocol.Channel, bool) {
	channel, err := s.db.GetChannel(channelID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgChannelNotFound)
		return nil, false
	}
	if err != nil {
		dbError(w, "get channel", err)
		return nil, false
	}
	if !s.requireMember(w, channel.ServerID, userID) {
		return nil, false
	}
	return channel, true
}

func (s *Server) requireMember(w http.ResponseWriter, serverID, userID string) bool {
	member, err := s.db.IsMember(serverID, userID)
	if err != nil {
		dbError(w, "check membership", err)
		return false
	}
	if !member {
		writeError(w, http.StatusForbidden, msgNotMember)
		return false
	}
	return true
}

// checkBan refuses a caller with a global ban or, when serverID is set, a
// ban for that server
func (s *Server) checkBan(w http.ResponseWriter, userID, serverID string) bool {
	ban, err := s.db.GetActiveBan(userID, serverID)
	if err != nil {
		dbError(w, "check ban", err)
		return false
	}
	if ban == nil {
		return true
	}
	msg := msgBanned
	if ban.IsGlobal && serverID == "" {
		msg = msgBannedGlobal
	}
	if ban.Reason != "" {
		msg += ": " + ban.Reason
	}
	writeError(w, http.StatusForbidden, msg)
	return false
}

func (s *Server) allowMessage(w http.ResponseWriter, userID string) bool {
	if s.limiter.allow(userID) {
		return true
	}
	s.metrics.RecordRateLimited()
	writeError(w, http.StatusTooManyRequests, msgRateLimited)
	return false
}

func (s *Server) handleListChannelMessages(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	channel, ok := s.memberChannel(w, mux.Vars(r)["id"], claims.Subject)
	if !ok {
		return
	}
	messages, err := s.db.ListChannelMessages(channel.ID)
	if err != nil {
		dbError(w, "list channel messages", err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handlePostChannelMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req protocol.PostMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	content, ok := s.validContent(w, req.Content)
	if !ok {
		return
	}
	channel, ok := s.memberChannel(w, mux.Vars(r)["id"], claims.Subject)
	if !ok {
		return
	}
	if !s.checkBan(w, claims.Subject, channel.ServerID) || !s.allowMessage(w, claims.Subject) {
		return
	}

	msg, err := s.db.InsertMessage(channel.ID, claims.Subject, content)
	if err != nil {
		dbError(w, "insert message", err)
		return
	}
	s.metrics.RecordMessagePosted(protocol.TableMessages)
	writeJSON(w, http.StatusCreated, msg)
}

// ===== Direct messages =====

func (s *Server) handleListDirectMessages(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	peer := strings.TrimSpace(r.URL.Query().Get("peer"))
	if peer == "" {
		writeError(w, http.StatusBadRequest, "peer is required")
		return
	}
	// Scoped to pairs containing the caller
	messages, err := s.db.ListDirectMessages(claims.Subject, peer)
	if err != nil {
		dbError(w, "list direct messages", err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handlePostDirectMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req protocol.PostDirectMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	recipient := strings.TrimSpace(req.RecipientID)
	if recipient == "" {
		writeError(w, http.StatusBadRequest, "recipient_id is required")
		return
	}
	if recipient == claims.Subject {
		writeError(w, http.StatusBadRequest, "cannot send a direct message to yourself")
		return
	}
	content, ok := s.validContent(w, req.Content)
	if !ok {
		return
	}
	if _, err := s.db.GetProfile(recipient); errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgRecipientNotFound)
		return
	} else if err != nil {
		dbError(w, "get recipient", err)
		return
	}
	if !s.checkBan(w, claims.Subject, "") || !s.allowMessage(w, claims.Subject) {
		return
	}

	dm, err := s.db.InsertDirectMessage(claims.Subject, recipient, content)
	if err != nil {
		dbError(w, "insert direct message", err)
		return
	}
	s.metrics.RecordMessagePosted(protocol.TableDirectMessages)
	writeJSON(w, http.StatusCreated, dm)
}

func (s *Server) handleListDMPeers(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	peers, err := s.db.ListDMPeers(claims.Subject)
	if err != nil {
		dbError(w, "list dm peers", err)
		return
	}
	writeJSON(w, http.StatusOK, publicProfiles(peers))
}

// ===== Servers and channels =====

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	servers, err := s.db.ListServersForUser(claims.Subject)
	if err != nil {
		dbError(w, "list servers", err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req protocol.CreateServerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, msgServerName)
		return
	}
	if !s.checkBan(w, claims.Subject, "") {
		return
	}

	srv, general, err := s.db.CreateServer(claims.Subject, name, req.IconURL)
	if err != nil {
		dbError(w, "create server", err)
		return
	}
	debugLog.Infow("server created", "server_id", srv.ID, "owner", claims.Subject, "general", general.ID)
	writeJSON(w, http.StatusCreated, srv)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	srv, err := s.db.GetServer(mux.Vars(r)["id"])
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgServerNotFound)
		return
	}
	if err != nil {
		dbError(w, "get server", err)
		return
	}
	if !s.requireMember(w, srv.ID, claims.Subject) {
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	serverID := mux.Vars(r)["id"]
	if !s.requireMember(w, serverID, claims.Subject) {
		return
	}
	channels, err := s.db.ListChannels(serverID)
	if err != nil {
		dbError(w, "list channels", err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleJoinServer(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	code := strings.TrimSpace(mux.Vars(r)["code"])
	srv, err := s.db.JoinServer(code, claims.Subject)
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, msgInvalidInvite)
		return
	case errors.Is(err, database.ErrAlreadyMember):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		dbError(w, "join server", err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

// ===== Reports =====

func (s *Server) handleFlagMessage(w http.ResponseWriter, r *http.Request) {
	var req protocol.FlagRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		writeError(w, http.StatusBadRequest, msgReasonRequired)
		return
	}
	flag, err := s.db.FlagMessage(req.MessageID, req.DMID, reason, req.Severity)
	if errors.Is(err, database.ErrInvalidFlag) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		dbError(w, "flag message", err)
		return
	}
	writeJSON(w, http.StatusCreated, flag)
}

// HealthHandler reports liveness for the internal metrics listener
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
		"realtime_sessions": s.sessions.Count(),
	})
}
