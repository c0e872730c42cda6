package client

import (
	"context"
	"strings"

	"github.com/aeolun/chorus/pkg/protocol"
)

// Sender performs the user's writes. Nothing is applied to local state
// here; sent messages appear through the realtime echo.
type Sender struct {
	backend Backend
	notices *Notices
}

// NewSender creates a sender. notices may be nil.
func NewSender(backend Backend, notices *Notices) *Sender {
	return &Sender{backend: backend, notices: notices}
}

func (s *Sender) fail(f *Failure) error {
	if s.notices != nil {
		s.notices.PostError(f)
	}
	return f
}

// SendChannelMessage posts content to a channel. Blank content is rejected
// without a network call.
func (s *Sender) SendChannelMessage(ctx context.Context, channelID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return s.fail(&Failure{Kind: ValidationFailure, Op: "send message", Err: ErrEmptyMessage})
	}
	if _, err := s.backend.InsertMessage(ctx, channelID, content); err != nil {
		return s.fail(classify("send message", MutationFailure, err))
	}
	return nil
}

// SendDirectMessage sends content to peerID. Blank content is rejected
// without a network call.
func (s *Sender) SendDirectMessage(ctx context.Context, peerID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return s.fail(&Failure{Kind: ValidationFailure, Op: "send direct message", Err: ErrEmptyMessage})
	}
	if _, err := s.backend.InsertDirectMessage(ctx, peerID, content); err != nil {
		return s.fail(classify("send direct message", MutationFailure, err))
	}
	return nil
}

// Send posts content to the conversation named by key.
func (s *Sender) Send(ctx context.Context, key ConversationKey, content string) error {
	switch {
	case key.IsDM():
		return s.SendDirectMessage(ctx, key.PeerID, content)
	case key.ChannelID != "":
		return s.SendChannelMessage(ctx, key.ChannelID, content)
	default:
		return s.fail(&Failure{Kind: ValidationFailure, Op: "send message", Err: ErrNoConversation})
	}
}

// CreateServer creates a server owned by the user. The backend adds the
// owner as a member and creates its general channel.
func (s *Sender) CreateServer(ctx context.Context, name string) (*protocol.Server, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, s.fail(&Failure{Kind: ValidationFailure, Op: "create server", Err: ErrServerNameRequired})
	}
	srv, err := s.backend.CreateServer(ctx, name)
	if err != nil {
		return nil, s.fail(classify("create server", MutationFailure, err))
	}
	return srv, nil
}

// JoinServer joins the server with inviteCode.
func (s *Sender) JoinServer(ctx context.Context, inviteCode string) (*protocol.Server, error) {
	inviteCode = strings.TrimSpace(inviteCode)
	if inviteCode == "" {
		return nil, s.fail(&Failure{Kind: ValidationFailure, Op: "join server", Err: ErrInviteCodeRequired})
	}
	srv, err := s.backend.JoinServer(ctx, inviteCode)
	if err != nil {
		return nil, s.fail(classify("join server", MutationFailure, err))
	}
	return srv, nil
}

// ReportMessage flags m for moderator review.
func (s *Sender) ReportMessage(ctx context.Context, m Message, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return s.fail(&Failure{Kind: ValidationFailure, Op: "report message", Err: ErrReasonRequired})
	}
	id := m.ID
	req := protocol.FlagRequest{Reason: reason}
	if m.RecipientID != "" {
		req.DMID = &id
	} else {
		req.MessageID = &id
	}
	if err := s.backend.FlagMessage(ctx, req); err != nil {
		return s.fail(classify("report message", MutationFailure, err))
	}
	return nil
}
