package client

import (
	"errors"
	"sync"
	"time"
)

const defaultNoticeLimit = 20

// Notice is a dismissable message shown to the user.
type Notice struct {
	ID   uint64
	Kind Kind
	Text string
	At   time.Time
}

// Notices is a bounded in-memory sink of user-visible failures. When full,
// the oldest notice is dropped.
type Notices struct {
	mu     sync.Mutex
	items  []Notice
	nextID uint64
	limit  int
	subs   map[uint64]chan Notice
	subID  uint64
}

// NewNotices creates a sink holding at most limit notices (0 = default).
func NewNotices(limit int) *Notices {
	if limit <= 0 {
		limit = defaultNoticeLimit
	}
	return &Notices{limit: limit, nextID: 1, subs: make(map[uint64]chan Notice)}
}

// Post records a notice and hands it to every subscriber that has room.
func (n *Notices) Post(kind Kind, text string) Notice {
	n.mu.Lock()
	notice := Notice{ID: n.nextID, Kind: kind, Text: text, At: time.Now()}
	n.nextID++
	n.items = append(n.items, notice)
	if len(n.items) > n.limit {
		n.items = append([]Notice(nil), n.items[len(n.items)-n.limit:]...)
	}
	for _, ch := range n.subs {
		select {
		case ch <- notice:
		default:
		}
	}
	n.mu.Unlock()
	return notice
}

// PostError records err as a notice. The kind is taken from a Failure in
// err's chain, defaulting to MutationFailure. The text is the innermost
// message so server errors are shown verbatim.
func (n *Notices) PostError(err error) Notice {
	kind := KindOf(err)
	if kind == 0 {
		kind = MutationFailure
	}
	text := err.Error()
	var f *Failure
	if errors.As(err, &f) && f.Err != nil {
		text = f.Err.Error()
	}
	return n.Post(kind, text)
}

// List returns the current notices, oldest first.
func (n *Notices) List() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.items...)
}

// Dismiss removes a notice. Returns false if it was not present.
func (n *Notices) Dismiss(id uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, item := range n.items {
		if item.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return true
		}
	}
	return false
}

// Subscribe returns a channel of future notices and a function that stops
// delivery. Notices are dropped for a subscriber that does not keep up.
func (n *Notices) Subscribe() (<-chan Notice, func()) {
	ch := make(chan Notice, 8)
	n.mu.Lock()
	id := n.subID
	n.subID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}
