package client

import (
	"context"
	"sort"

	"github.com/aeolun/chorus/pkg/protocol"
)

// Navigator loads the lists the user picks conversations from. Read
// failures post a notice and yield an empty list.
type Navigator struct {
	backend Backend
	notices *Notices
}

// NewNavigator creates a navigator. notices may be nil.
func NewNavigator(backend Backend, notices *Notices) *Navigator {
	return &Navigator{backend: backend, notices: notices}
}

func (n *Navigator) fail(op string, err error) {
	if n.notices != nil {
		n.notices.PostError(classify(op, TransientReadFailure, err))
	}
}

// Servers returns the user's servers by creation time.
func (n *Navigator) Servers(ctx context.Context) []protocol.Server {
	servers, err := n.backend.ListServers(ctx)
	if err != nil {
		n.fail("load servers", err)
		return nil
	}
	sort.SliceStable(servers, func(i, j int) bool {
		return servers[i].CreatedAt < servers[j].CreatedAt
	})
	return servers
}

// Channels returns a server's channels by position.
func (n *Navigator) Channels(ctx context.Context, serverID string) []protocol.Channel {
	channels, err := n.backend.ListChannels(ctx, serverID)
	if err != nil {
		n.fail("load channels", err)
		return nil
	}
	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].Position < channels[j].Position
	})
	return channels
}

// DMPeers returns everyone the user has exchanged direct messages with.
func (n *Navigator) DMPeers(ctx context.Context) []protocol.Profile {
	peers, err := n.backend.ListDMPeers(ctx)
	if err != nil {
		n.fail("load conversations", err)
		return nil
	}
	return peers
}

// FirstTextChannel returns the lowest-positioned text channel.
func FirstTextChannel(channels []protocol.Channel) (protocol.Channel, bool) {
	for _, ch := range channels {
		if ch.Type == protocol.ChannelTypeText {
			return ch, true
		}
	}
	return protocol.Channel{}, false
}
