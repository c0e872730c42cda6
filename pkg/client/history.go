package client

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// MessageStore loads conversation history and joins it with author profiles.
type MessageStore struct {
	backend  Backend
	profiles *ProfileResolver
	notices  *Notices
	log      *zap.SugaredLogger
}

// NewMessageStore creates a store. notices may be nil.
func NewMessageStore(backend Backend, profiles *ProfileResolver, notices *Notices, log *zap.SugaredLogger) *MessageStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MessageStore{backend: backend, profiles: profiles, notices: notices, log: log}
}

// LoadHistory returns the conversation's messages oldest first, without
// duplicate ids. It issues one query for the rows and one batched profile
// lookup. Failures post a notice and yield an empty list.
func (s *MessageStore) LoadHistory(ctx context.Context, key ConversationKey) []Message {
	if key.IsZero() {
		return nil
	}

	msgs, err := s.fetch(ctx, key)
	if err != nil {
		s.fail("load messages", err)
		return []Message{}
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.AuthorID)
	}
	profiles, err := s.profiles.Resolve(ctx, ids)
	if err != nil {
		s.fail("load authors", err)
		return []Message{}
	}
	for i := range msgs {
		if p, ok := profiles[msgs[i].AuthorID]; ok {
			p := p
			msgs[i].Author = &p
		}
	}
	return sortAndDedupe(msgs)
}

func (s *MessageStore) fetch(ctx context.Context, key ConversationKey) ([]Message, error) {
	if key.IsDM() {
		rows, err := s.backend.ListDirectMessages(ctx, key.PeerID)
		if err != nil {
			return nil, err
		}
		msgs := make([]Message, 0, len(rows))
		for _, row := range rows {
			msgs = append(msgs, FromDirectRow(row))
		}
		return msgs, nil
	}

	rows, err := s.backend.ListChannelMessages(ctx, key.ChannelID)
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, FromChannelRow(row))
	}
	return msgs, nil
}

func (s *MessageStore) fail(op string, err error) {
	// An abandoned load is not a failure the user needs to see
	if errors.Is(err, context.Canceled) {
		return
	}
	s.log.Warnw("history read failed", "op", op, "error", err)
	if s.notices != nil {
		s.notices.PostError(classify(op, TransientReadFailure, err))
	}
}
