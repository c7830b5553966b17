package pipeline

import (
	"errors"
	"sync"

	"github.com/MrWong99/talkinghead/internal/frame"
)

// errCancelled is the cancellation cause set by [Task.Cancel].
var errCancelled = errors.New("pipeline: task cancelled")

// Params holds the per-session settings announced in the [frame.Start] frame.
type Params struct {
	// AllowInterruptions lets participant speech abandon an in-flight bot
	// response. When false, new input waits for the current turn.
	AllowInterruptions bool
}

type taskState int

const (
	taskIdle taskState = iota
	taskRunning
	taskDone
)

// Task owns one pipeline instance for the lifetime of a session.
type Task struct {
	pipeline *Pipeline
	params   Params

	mu        sync.Mutex
	state     taskState
	pending   []frame.Frame
	head      *queue
	cancel    func(error)
	cancelled bool
}

// NewTask binds params to p. A pipeline must not be shared between tasks.
func NewTask(p *Pipeline, params Params) *Task {
	return &Task{pipeline: p, params: params}
}

// Params returns the task settings.
func (t *Task) Params() Params { return t.params }

// QueueFrame enqueues f at the head of the pipeline. See [Task.QueueFrames].
func (t *Task) QueueFrame(f frame.Frame) error {
	return t.QueueFrames([]frame.Frame{f})
}

// QueueFrames enqueues frames downstream at the head of the pipeline in
// order. Frames queued before the run starts are delivered right after
// [frame.Start] and ahead of anything the input transport produces. It
// returns [ErrStopped] once the run has ended.
func (t *Task) QueueFrames(fs []frame.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case taskDone:
		return ErrStopped
	case taskIdle:
		t.pending = append(t.pending, fs...)
	default:
		for _, f := range fs {
			t.head.push(f, frame.Downstream)
		}
	}
	return nil
}

// Stop ends the run gracefully: an [frame.End] is queued behind every frame
// already queued, and the run completes once it has passed all stages.
func (t *Task) Stop() error {
	return t.QueueFrame(frame.End{})
}

// Cancel ends the run immediately without draining queued frames. The run
// returns nil.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	if t.cancel != nil {
		t.cancel(errCancelled)
	}
}

// begin seeds head with Start and the pending frames and marks the task as
// running.
func (t *Task) begin(head *queue, cancel func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != taskIdle {
		return errors.New("pipeline: task already ran")
	}
	if t.cancelled {
		t.state = taskDone
		return errCancelled
	}
	head.push(frame.Start{AllowInterruptions: t.params.AllowInterruptions}, frame.Downstream)
	for _, f := range t.pending {
		head.push(f, frame.Downstream)
	}
	t.pending = nil
	t.head = head
	t.cancel = cancel
	t.state = taskRunning
	return nil
}

func (t *Task) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = taskDone
	t.head = nil
	t.cancel = nil
}
