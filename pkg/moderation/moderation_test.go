package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/chorus/pkg/auth"
	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/database"
	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test-secret"
	testAdmin    = "root"
	testPassword = "hunter2"
)

type opMetrics struct {
	mu   sync.Mutex
	seen map[string]int
}

func (m *opMetrics) RecordModerationOp(op, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]int)
	}
	m.seen[op+"/"+result]++
}

func (m *opMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[key]
}

type fixture struct {
	db      *database.DB
	signer  *auth.Signer
	metrics *opMetrics
	console *Console
	token   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "chorus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	require.NoError(t, db.UpsertAdminUser(testAdmin, hash))

	signer := auth.NewSigner(testSecret)
	svc := NewService(db, signer, time.Hour, nil)
	metrics := &opMetrics{}
	svc.SetMetrics(metrics)

	mux := http.NewServeMux()
	mux.Handle("/functions/v1/"+FunctionAdminAuth, svc.AuthHandler())
	mux.Handle("/functions/v1/"+FunctionAdminOperations, svc.OperationsHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	console := NewConsole(srv.URL, nil)
	resp, err := console.Login(context.Background(), testAdmin, testPassword)
	require.NoError(t, err)

	return &fixture{db: db, signer: signer, metrics: metrics, console: console, token: resp.Token}
}

func (f *fixture) logs(t *testing.T) []protocol.ModerationLog {
	t.Helper()
	logs, err := f.db.ListModerationLogs(LogLimit)
	require.NoError(t, err)
	return logs
}

func TestLoginIssuesVerifiableAdminToken(t *testing.T) {
	f := newFixture(t)

	claims, err := f.signer.Verify(f.token, auth.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, testAdmin, claims.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)

	_, err = f.console.Login(context.Background(), testAdmin, "wrong")
	assert.Equal(t, client.AuthorizationFailure, client.KindOf(err))
	assert.Contains(t, err.Error(), "Invalid credentials")

	_, err = f.console.Login(context.Background(), "", "x")
	assert.Equal(t, client.ValidationFailure, client.KindOf(err))
}

func TestLoginRejectsOtherActions(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.db, f.signer, time.Hour, nil)

	_, err := svc.Login(protocol.AdminAuthRequest{Action: "logout", Username: testAdmin, Password: testPassword})
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.Equal(t, http.StatusBadRequest, StatusFor(err))
}

func TestInvokeRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	userToken, _, err := f.signer.Issue("u1", "alice", auth.RoleUser, time.Hour)
	require.NoError(t, err)
	expired, _, err := f.signer.Issue(testAdmin, testAdmin, auth.RoleAdmin, -time.Minute)
	require.NoError(t, err)
	forged, _, err := auth.NewSigner("other-secret").Issue(testAdmin, testAdmin, auth.RoleAdmin, time.Hour)
	require.NoError(t, err)

	tests := map[string]string{
		"missing":       "",
		"malformed":     "not-a-jwt",
		"legacy base64": "cm9vdDoxNzAwMDAwMDAwMDAw",
		"user role":     userToken,
		"expired":       expired,
		"wrong secret":  forged,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.console.Invoke(context.Background(), protocol.OpGetUsers, nil, token)
			require.Error(t, err)
			assert.Equal(t, client.AuthorizationFailure, client.KindOf(err))
			assert.Contains(t, err.Error(), "Unauthorized")
		})
	}
	assert.Empty(t, f.logs(t))
}

func TestInvokeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.console.Invoke(ctx, "drop_tables", nil, f.token)
	assert.Equal(t, client.ValidationFailure, client.KindOf(err))
	assert.Contains(t, err.Error(), "Unknown operation")

	tests := []struct {
		op      string
		payload any
	}{
		{op: protocol.OpBanUser, payload: nil},
		{op: protocol.OpBanUser, payload: map[string]any{"reason": "spam", "is_global": true}},
		{op: protocol.OpBanUser, payload: map[string]any{"user_id": "u1", "is_global": false}},
		{op: protocol.OpBanUser, payload: map[string]any{"user_id": 42}},
		{op: protocol.OpIPBan, payload: map[string]any{"ban_reason": "x"}},
		{op: protocol.OpDeleteMessage, payload: map[string]any{"is_dm": true}},
		{op: protocol.OpDeleteChannel, payload: map[string]any{}},
		{op: protocol.OpReviewFlaggedMessage, payload: map[string]any{"flagged_id": "f1"}},
	}
	for _, tt := range tests {
		_, err := f.console.Invoke(ctx, tt.op, tt.payload, f.token)
		assert.Equal(t, client.ValidationFailure, client.KindOf(err), "%s %v", tt.op, tt.payload)
	}
	assert.Empty(t, f.logs(t))
	assert.Equal(t, 1, f.metrics.count("drop_tables/invalid"))
}

func TestEachMutationWritesOneAuditRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.db.CreateProfile("alice", "hash")
	require.NoError(t, err)
	srv, general, err := f.db.CreateServer(alice.ID, "Gophers", nil)
	require.NoError(t, err)
	random, err := f.db.CreateChannel(srv.ID, "random", protocol.ChannelTypeText)
	require.NoError(t, err)
	msg, err := f.db.InsertMessage(general.ID, alice.ID, "buy cheap pills")
	require.NoError(t, err)
	flag, err := f.db.FlagMessage(&msg.ID, nil, "spam", "high")
	require.NoError(t, err)

	tests := []struct {
		op      string
		payload any
		action  string
	}{
		{op: protocol.OpBanUser, payload: protocol.BanUserPayload{UserID: alice.ID, ServerID: &srv.ID, Reason: "spam"}, action: protocol.ActionUserBanned},
		{op: protocol.OpIPBan, payload: protocol.IPBanPayload{IPAddress: "10.0.0.1", BanReason: "abuse"}, action: protocol.ActionIPBanned},
		{op: protocol.OpDeleteMessage, payload: protocol.DeleteMessagePayload{MessageID: msg.ID}, action: protocol.ActionMessageDeleted},
		{op: protocol.OpDeleteChannel, payload: protocol.DeleteChannelPayload{ChannelID: random.ID}, action: protocol.ActionChannelDeleted},
		{op: protocol.OpReviewFlaggedMessage, payload: protocol.ReviewFlagPayload{FlaggedID: flag.ID, Action: "deleted"}, action: protocol.ActionFlagReviewed},
	}
	for i, tt := range tests {
		_, err := f.console.Invoke(ctx, tt.op, tt.payload, f.token)
		require.NoError(t, err, tt.op)

		logs := f.logs(t)
		require.Len(t, logs, i+1, tt.op)
		assert.Equal(t, tt.action, logs[0].ActionType)
		assert.Equal(t, testAdmin, logs[0].PerformedBy)
		assert.Equal(t, 1, f.metrics.count(tt.op+"/ok"))
	}

	ban, err := f.db.GetActiveBan(alice.ID, srv.ID)
	require.NoError(t, err)
	require.NotNil(t, ban)
	assert.Equal(t, testAdmin, ban.BannedBy)

	banned, err := f.db.IsIPBanned("10.0.0.1")
	require.NoError(t, err)
	assert.True(t, banned)

	kept, err := f.db.GetMessage(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, kept.ID)
	assert.True(t, kept.IsDeleted)

	_, err = f.db.GetChannel(random.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	var flags []protocol.FlaggedMessage
	require.NoError(t, f.console.InvokeInto(ctx, protocol.OpGetFlaggedMessages, nil, f.token, &flags))
	assert.Empty(t, flags)
}

func TestReadOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.db.CreateProfile("alice", "hash")
	require.NoError(t, err)
	_, general, err := f.db.CreateServer(alice.ID, "Gophers", nil)
	require.NoError(t, err)
	msg, err := f.db.InsertMessage(general.ID, alice.ID, "hello")
	require.NoError(t, err)
	_, err = f.db.FlagMessage(&msg.ID, nil, "rude", "low")
	require.NoError(t, err)

	var users []protocol.Profile
	require.NoError(t, f.console.InvokeInto(ctx, protocol.OpGetUsers, nil, f.token, &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)

	var servers []protocol.Server
	require.NoError(t, f.console.InvokeInto(ctx, protocol.OpGetServers, nil, f.token, &servers))
	require.Len(t, servers, 1)
	assert.Equal(t, "Gophers", servers[0].Name)

	var channels []protocol.Channel
	require.NoError(t, f.console.InvokeInto(ctx, protocol.OpGetChannels, nil, f.token, &channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "general", channels[0].Name)

	var flags []protocol.FlaggedMessage
	require.NoError(t, f.console.InvokeInto(ctx, protocol.OpGetFlaggedMessages, nil, f.token, &flags))
	require.Len(t, flags, 1)
	require.NotNil(t, flags[0].Message)
	assert.Equal(t, "hello", flags[0].Message.Content)

	raw, err := f.console.Invoke(ctx, protocol.OpGetModerationLogs, nil, f.token)
	require.NoError(t, err)
	var logs []protocol.ModerationLog
	require.NoError(t, json.Unmarshal(raw, &logs))
	assert.Empty(t, logs)
	assert.Empty(t, f.logs(t), "reads are not audited")
}

func TestModerationLogsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		_, err := f.console.Invoke(ctx, protocol.OpIPBan, protocol.IPBanPayload{IPAddress: ip}, f.token)
		require.NoError(t, err)
	}

	var logs []protocol.ModerationLog
	require.NoError(t, f.console.InvokeInto(ctx, protocol.OpGetModerationLogs, nil, f.token, &logs))
	require.Len(t, logs, 3)
	for i := 1; i < len(logs); i++ {
		assert.GreaterOrEqual(t, logs[i-1].CreatedAt, logs[i].CreatedAt)
	}

	var details map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Details, &details))
	assert.Equal(t, "10.0.0.3", details["ip_address"])
}

func TestMutationOnMissingTargetFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.console.Invoke(context.Background(), protocol.OpDeleteMessage, protocol.DeleteMessagePayload{MessageID: "ghost"}, f.token)
	require.Error(t, err)
	assert.Equal(t, client.MutationFailure, client.KindOf(err))
	assert.Contains(t, err.Error(), "not found")
	assert.Empty(t, f.logs(t))
	assert.Equal(t, 1, f.metrics.count(protocol.OpDeleteMessage+"/error"))
}

func TestOptionsReturnsCORSHeaders(t *testing.T) {
	svc := NewService(nil, auth.NewSigner(testSecret), time.Hour, nil)
	rec := httptest.NewRecorder()
	svc.OperationsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/functions/v1/admin-operations", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "authorization")
}
