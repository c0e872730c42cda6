package client

import (
	"context"

	"github.com/aeolun/chorus/pkg/protocol"
)

// Backend is the data API the client core reads and writes through.
// HTTPBackend implements it against the Chorus REST surface; MockBackend
// implements it in memory for tests.
type Backend interface {
	// Messages
	ListChannelMessages(ctx context.Context, channelID string) ([]protocol.Message, error)
	ListDirectMessages(ctx context.Context, peerID string) ([]protocol.DirectMessage, error)
	InsertMessage(ctx context.Context, channelID, content string) (*protocol.Message, error)
	InsertDirectMessage(ctx context.Context, recipientID, content string) (*protocol.DirectMessage, error)
	FlagMessage(ctx context.Context, req protocol.FlagRequest) error

	// Profiles
	GetProfiles(ctx context.Context, ids []string) ([]protocol.Profile, error)
	GetProfile(ctx context.Context, id string) (*protocol.Profile, error)
	ListDMPeers(ctx context.Context) ([]protocol.Profile, error)

	// Servers and channels
	ListServers(ctx context.Context) ([]protocol.Server, error)
	GetServer(ctx context.Context, id string) (*protocol.Server, error)
	ListChannels(ctx context.Context, serverID string) ([]protocol.Channel, error)
	CreateServer(ctx context.Context, name string) (*protocol.Server, error)
	JoinServer(ctx context.Context, inviteCode string) (*protocol.Server, error)
}

// Feed opens change feed subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, topic string, req protocol.SubscribeRequest) (FeedSubscription, error)
}

// FeedSubscription is one open topic on a Feed.
type FeedSubscription interface {
	Events() <-chan protocol.InsertEvent
	Done() <-chan struct{}
	Close() error
}

// StateInterface defines the interface for client state persistence
// This allows for mocking in tests while the real State implements all these methods
type StateInterface interface {
	// Configuration
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	// Last used server and username
	GetServerURL() string
	SetServerURL(url string) error
	GetLastUsername() string
	SetLastUsername(username string) error

	// Saved session
	GetSession() *Session
	SaveSession(sess *Session) error
	ClearSession() error

	// State directory
	GetStateDir() string

	// Close the state
	Close() error
}
