package agents

import (
	"sync"

	"github.com/cortexd/cortexd/internal/domain"
)

// boundedInbox is a fixed-capacity FIFO queue with drop-oldest overflow
// semantics (spec §4.8: "drops oldest if inbox full"). Registry.Send pushes
// into it directly; the inbox lives in process and is not fed by a NATS
// subscription.
type boundedInbox struct {
	mu   sync.Mutex
	cap  int
	msgs []domain.Message
}

func newBoundedInbox(capacity int) *boundedInbox {
	if capacity <= 0 {
		capacity = 1000
	}
	return &boundedInbox{cap: capacity}
}

// push appends msg, evicting and returning the oldest message if the
// queue was already at capacity.
func (b *boundedInbox) push(msg domain.Message) (dropped domain.Message, didDrop bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.msgs) >= b.cap {
		dropped, didDrop = b.msgs[0], true
		b.msgs = b.msgs[1:]
	}
	b.msgs = append(b.msgs, msg)
	return dropped, didDrop
}

// pop removes and returns the oldest message, if any.
func (b *boundedInbox) pop() (domain.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.msgs) == 0 {
		return domain.Message{}, false
	}
	msg := b.msgs[0]
	b.msgs = b.msgs[1:]
	return msg, true
}

// drain empties and returns every message still queued.
func (b *boundedInbox) drain() []domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.msgs
	b.msgs = nil
	return out
}
