package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/protocol"
	"go.uber.org/zap"
)

// Function names under /functions/v1.
const (
	FunctionAdminAuth       = "admin-auth"
	FunctionAdminOperations = "admin-operations"
)

// Console is the client side of the moderation functions. It is stateless:
// the caller keeps the token returned by Login and passes it to every Invoke.
type Console struct {
	functions *client.FunctionsClient
	log       *zap.SugaredLogger
}

// NewConsole creates a console for the backend at baseURL.
func NewConsole(baseURL string, log *zap.SugaredLogger) *Console {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Console{functions: client.NewFunctionsClient(baseURL, log), log: log}
}

// Login exchanges admin credentials for a signed admin token.
func (c *Console) Login(ctx context.Context, username, password string) (*protocol.AdminAuthResponse, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, &client.Failure{Kind: client.ValidationFailure, Op: "admin login", Err: client.ErrCredentialsRequired}
	}
	req := protocol.AdminAuthRequest{Action: ActionLogin, Username: strings.TrimSpace(username), Password: password}
	var resp protocol.AdminAuthResponse
	if err := c.functions.Call(ctx, FunctionAdminAuth, "", req, &resp); err != nil {
		return nil, failure("admin login", client.AuthorizationFailure, err)
	}
	return &resp, nil
}

// Invoke runs one moderation operation and returns its data verbatim. A
// nil payload sends no data. Server errors come back unchanged inside a
// client.Failure.
func (c *Console) Invoke(ctx context.Context, op string, payload any, token string) (json.RawMessage, error) {
	fallback := client.TransientReadFailure
	if protocol.IsMutation(op) {
		fallback = client.MutationFailure
	}

	req := protocol.FunctionRequest{Operation: op}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, &client.Failure{Kind: client.ValidationFailure, Op: op, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
		}
		req.Data = raw
	}

	var resp protocol.FunctionResponse
	if err := c.functions.Call(ctx, FunctionAdminOperations, token, req, &resp); err != nil {
		c.log.Debugw("moderation operation failed", "op", op, "error", err)
		return nil, failure(op, fallback, err)
	}
	if resp.Error != "" {
		return nil, &client.Failure{Kind: fallback, Op: op, Err: errors.New(resp.Error)}
	}
	return resp.Data, nil
}

// InvokeInto is Invoke followed by decoding the data into out.
func (c *Console) InvokeInto(ctx context.Context, op string, payload any, token string, out any) error {
	data, err := c.Invoke(ctx, op, payload, token)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &client.Failure{Kind: client.TransientReadFailure, Op: op, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// failure maps a function reply onto the client failure taxonomy.
func failure(op string, fallback client.Kind, err error) *client.Failure {
	kind := fallback
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = client.AuthorizationFailure
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			kind = client.ValidationFailure
		}
	}
	return &client.Failure{Kind: kind, Op: op, Err: err}
}
