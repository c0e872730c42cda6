package client

import (
	"context"
	"net/http"
	"strings"

	"github.com/aeolun/chorus/pkg/protocol"
	"go.uber.org/zap"
)

// Session is a signed-in user.
type Session struct {
	AccessToken string
	UserID      string
	Username    string
	ExpiresAt   int64 // Unix milliseconds
}

// AuthClient signs users up and in.
type AuthClient struct {
	rest *restClient
}

// NewAuthClient creates an auth client for baseURL.
func NewAuthClient(baseURL string, log *zap.SugaredLogger) *AuthClient {
	return &AuthClient{rest: newRestClient(baseURL, "", log)}
}

// SignUp creates an account and returns its session.
func (a *AuthClient) SignUp(ctx context.Context, username, password string) (*Session, error) {
	return a.authenticate(ctx, "sign up", "/auth/v1/signup", MutationFailure, username, password)
}

// SignIn exchanges credentials for a session.
func (a *AuthClient) SignIn(ctx context.Context, username, password string) (*Session, error) {
	return a.authenticate(ctx, "sign in", "/auth/v1/token", AuthorizationFailure, username, password)
}

func (a *AuthClient) authenticate(ctx context.Context, op, path string, fallback Kind, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, &Failure{Kind: ValidationFailure, Op: op, Err: ErrCredentialsRequired}
	}
	var resp protocol.AuthResponse
	err := a.rest.do(ctx, http.MethodPost, path, protocol.Credentials{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, classify(op, fallback, err)
	}
	return &Session{
		AccessToken: resp.AccessToken,
		UserID:      resp.User.ID,
		Username:    resp.User.Username,
		ExpiresAt:   resp.ExpiresAt,
	}, nil
}
