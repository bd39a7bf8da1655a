package session

import (
	"sync"

	"voice-bridge/backend/internal/turn"
)

// turnQueue is an unbounded FIFO of turns waiting for the flush worker.
// push never blocks, so the event loop cannot stall behind persistence.
type turnQueue struct {
	mu     sync.Mutex
	items  []turn.Turn
	signal chan struct{}
}

func newTurnQueue() *turnQueue {
	return &turnQueue{signal: make(chan struct{}, 1)}
}

func (q *turnQueue) push(t turn.Turn) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *turnQueue) pop() (turn.Turn, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return turn.Turn{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}
