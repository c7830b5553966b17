package pipeline

import (
	"sync"

	"github.com/MrWong99/talkinghead/internal/frame"
)

// queue is the unbounded two-lane inbox of one stage.
type queue struct {
	mu   sync.Mutex
	up   []frame.Frame
	down []frame.Frame
	wake chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

func (q *queue) push(f frame.Frame, dir frame.Direction) {
	q.mu.Lock()
	if dir == frame.Upstream {
		q.up = append(q.up, f)
	} else {
		q.down = append(q.down, f)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop returns the next frame, upstream first.
func (q *queue) pop() (frame.Frame, frame.Direction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.up) > 0 {
		f := q.up[0]
		q.up[0] = nil
		q.up = q.up[1:]
		return f, frame.Upstream, true
	}
	if len(q.down) > 0 {
		f := q.down[0]
		q.down[0] = nil
		q.down = q.down[1:]
		return f, frame.Downstream, true
	}
	return nil, 0, false
}
