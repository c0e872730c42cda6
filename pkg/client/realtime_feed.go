package client

import (
	"context"
	"net/url"
	"strings"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/aeolun/chorus/pkg/realtime"
	"go.uber.org/zap"
)

// RealtimeFeed adapts a realtime.Client to Feed.
type RealtimeFeed struct {
	Client *realtime.Client
}

// Subscribe opens topic on the underlying connection.
func (f RealtimeFeed) Subscribe(ctx context.Context, topic string, req protocol.SubscribeRequest) (FeedSubscription, error) {
	sub, err := f.Client.Subscribe(ctx, topic, req)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// RealtimeURL derives the change feed websocket URL from the backend base URL.
func RealtimeURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/realtime/v1/websocket"
	return u.String(), nil
}

// DialFeed connects to the change feed of baseURL as sess.
func DialFeed(ctx context.Context, baseURL string, sess *Session, log *zap.SugaredLogger) (*realtime.Client, error) {
	wsURL, err := RealtimeURL(baseURL)
	if err != nil {
		return nil, err
	}
	return realtime.Dial(ctx, wsURL, sess.AccessToken, log)
}
