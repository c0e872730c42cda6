package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	requestTimeout     = 15 * time.Second
	breakerMaxFailures = 5
)

// restClient performs JSON requests against the backend through a circuit
// breaker. Only transport errors and 5xx responses count as failures.
type restClient struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newRestClient(baseURL, token string, log *zap.SugaredLogger) *restClient {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	st := gobreaker.Settings{
		Name:        "chorus-backend",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// do sends body (if non-nil) as JSON and decodes a 2xx response into out
// (if non-nil). Non-2xx responses become *APIError.
func (c *restClient) do(ctx context.Context, method, path string, body, out any) error {
	return c.doAs(ctx, c.token, method, path, body, out)
}

// doAs is do with an explicit bearer token.
func (c *restClient) doAs(ctx context.Context, token, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, token, method, path, body, out)
	})
	return err
}

func (c *restClient) roundTrip(ctx context.Context, token, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody protocol.ErrorResponse
		json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&errBody)
		return &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HTTPBackend implements Backend against the Chorus REST surface.
type HTTPBackend struct {
	rest *restClient
}

// NewHTTPBackend creates a backend for baseURL authenticated with token.
func NewHTTPBackend(baseURL, token string, log *zap.SugaredLogger) *HTTPBackend {
	return &HTTPBackend{rest: newRestClient(baseURL, token, log)}
}

// ListChannelMessages returns a channel's messages oldest first.
func (b *HTTPBackend) ListChannelMessages(ctx context.Context, channelID string) ([]protocol.Message, error) {
	var rows []protocol.Message
	err := b.rest.do(ctx, http.MethodGet, "/rest/v1/channels/"+url.PathEscape(channelID)+"/messages", nil, &rows)
	return rows, err
}

// ListDirectMessages returns the conversation with peerID oldest first.
func (b *HTTPBackend) ListDirectMessages(ctx context.Context, peerID string) ([]protocol.DirectMessage, error) {
	var rows []protocol.DirectMessage
	err := b.rest.do(ctx, http.MethodGet, "/rest/v1/direct_messages?peer="+url.QueryEscape(peerID), nil, &rows)
	return rows, err
}

// InsertMessage posts to a channel as the token's user.
func (b *HTTPBackend) InsertMessage(ctx context.Context, channelID, content string) (*protocol.Message, error) {
	var row protocol.Message
	err := b.rest.do(ctx, http.MethodPost, "/rest/v1/channels/"+url.PathEscape(channelID)+"/messages",
		protocol.PostMessageRequest{Content: content}, &row)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// InsertDirectMessage sends a DM as the token's user.
func (b *HTTPBackend) InsertDirectMessage(ctx context.Context, recipientID, content string) (*protocol.DirectMessage, error) {
	var row protocol.DirectMessage
	err := b.rest.do(ctx, http.MethodPost, "/rest/v1/direct_messages",
		protocol.PostDirectMessageRequest{RecipientID: recipientID, Content: content}, &row)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FlagMessage reports a message or DM to moderators.
func (b *HTTPBackend) FlagMessage(ctx context.Context, req protocol.FlagRequest) error {
	return b.rest.do(ctx, http.MethodPost, "/rest/v1/flagged_messages", req, nil)
}

// GetProfiles looks up every id in one request.
func (b *HTTPBackend) GetProfiles(ctx context.Context, ids []string) ([]protocol.Profile, error) {
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = url.QueryEscape(id)
	}
	var rows []protocol.Profile
	err := b.rest.do(ctx, http.MethodGet, "/rest/v1/profiles?ids="+strings.Join(escaped, ","), nil, &rows)
	return rows, err
}

// GetProfile looks up one profile. A missing profile is (nil, nil).
func (b *HTTPBackend) GetProfile(ctx context.Context, id string) (*protocol.Profile, error) {
	var row protocol.Profile
	err := b.rest.do(ctx, http.MethodGet, "/rest/v1/profiles/"+url.PathEscape(id), nil, &row)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListDMPeers returns everyone the user has exchanged DMs with.
func (b *HTTPBackend) ListDMPeers(ctx context.Context) ([]protocol.Profile, error) {
	var rows []protocol.Profile
	err := b.rest.do(ctx, http.MethodGet, "/rest/v1/dm_peers", nil, &rows)
	return rows, err
}

// ListServers returns the servers the user is a member of.
func (b *HTTPBackend) ListServers(ctx context.Context) ([]protocol.Server, error) {
	var rows []protocol.Server
	err := b.rest.do(ctx, http.MethodGet, "/rest/v1/servers", nil, &rows)
	return rows, err
}

// GetServer returns one server.
func (b *HTTPBackend) GetServer(ctx context.Context, id string) (*protocol.Server, error) {
	var row protocol.Server
	if err := b.rest.do(ctx, http.MethodGet, "/rest/v1/servers/"+url.PathEscape(id), nil, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListChannels returns a server's channels by position.
func (b *HTTPBackend) ListChannels(ctx context.Context, serverID string) ([]protocol.Channel, error) {
	var rows []protocol.Channel
	err := b.rest.do(ctx, http.MethodGet, "/rest/v1/servers/"+url.PathEscape(serverID)+"/channels", nil, &rows)
	return rows, err
}

// CreateServer creates a server owned by the user.
func (b *HTTPBackend) CreateServer(ctx context.Context, name string) (*protocol.Server, error) {
	var row protocol.Server
	if err := b.rest.do(ctx, http.MethodPost, "/rest/v1/servers", protocol.CreateServerRequest{Name: name}, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// JoinServer joins the server with the given invite code.
func (b *HTTPBackend) JoinServer(ctx context.Context, inviteCode string) (*protocol.Server, error) {
	var row protocol.Server
	if err := b.rest.do(ctx, http.MethodPost, "/rest/v1/invites/"+url.PathEscape(inviteCode), nil, &row); err != nil {
		return nil, err
	}
	return &row, nil
}
