package session

import (
	"sync"

	"github.com/danmuck/cellsync/internal/protocol"
)

// Inbox is the FIFO handoff between the receive goroutine (single writer)
// and the tick loop (single reader). Its lock is never shared with the send path.
type Inbox struct {
	mu    sync.Mutex
	items []protocol.Message
	head  int
	total uint64
}

func NewInbox() *Inbox {
	return &Inbox{}
}

func (q *Inbox) Push(msg protocol.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
	q.total++
}

// Pop removes the oldest message without blocking.
func (q *Inbox) Pop() (protocol.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return protocol.Message{}, false
	}
	msg := q.items[q.head]
	q.items[q.head] = protocol.Message{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return msg, true
}

func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Total is the number of messages ever pushed.
func (q *Inbox) Total() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Reset discards every queued message.
func (q *Inbox) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.head = 0
}
