package session

import (
	"context"
	"sync"
)

// lineQueue is an unbounded FIFO of log lines. push never blocks, so a slow
// or absent reader can not stall the job producing the lines.
type lineQueue struct {
	mx     sync.Mutex
	lines  []string
	closed bool
	ready  chan struct{}
}

func newLineQueue() *lineQueue {
	return &lineQueue{ready: make(chan struct{}, 1)}
}

// push appends a line, it returns false if the queue is already closed.
func (q *lineQueue) push(line string) bool {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.closed {
		return false
	}
	q.lines = append(q.lines, line)
	q.signal()
	return true
}

func (q *lineQueue) close() {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}

// caller must hold q.mx
func (q *lineQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks until a line is available. Lines queued before close are still
// returned, then ErrStreamClosed.
func (q *lineQueue) pop(ctx context.Context) (string, error) {
	for {
		q.mx.Lock()
		if len(q.lines) > 0 {
			line := q.lines[0]
			q.lines[0] = ""
			q.lines = q.lines[1:]
			q.mx.Unlock()
			return line, nil
		}
		closed := q.closed
		q.mx.Unlock()
		if closed {
			return "", ErrStreamClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *lineQueue) len() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.lines)
}
