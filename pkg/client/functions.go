package client

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// FunctionsClient calls the backend's functions under /functions/v1. Each
// call carries its own token.
type FunctionsClient struct {
	rest *restClient
}

// NewFunctionsClient creates a functions client for baseURL.
func NewFunctionsClient(baseURL string, log *zap.SugaredLogger) *FunctionsClient {
	return &FunctionsClient{rest: newRestClient(baseURL, "", log)}
}

// Call posts body to the named function and decodes the reply into out.
// Non-2xx replies are returned as *APIError carrying the {error} text.
func (c *FunctionsClient) Call(ctx context.Context, name, token string, body, out any) error {
	return c.rest.doAs(ctx, token, http.MethodPost, "/functions/v1/"+url.PathEscape(name), body, out)
}
