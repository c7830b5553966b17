// Package pipeline runs an ordered chain of frame processors.
//
// # Architecture
//
// Every processor runs on its own goroutine and owns two FIFO queues, one per
// [frame.Direction]. Upstream frames are always drained first so control
// frames such as [frame.Interruption] never wait behind queued media. A
// processor handles one frame at a time; work that has to wait on a remote
// provider is moved to a goroutine owned by the processor, which pushes its
// results through the same concurrency-safe [Pusher].
//
// Frames pushed downstream past the last processor, or upstream past the
// first, leave the pipeline. A [frame.End] leaving the tail completes the run;
// a fatal [frame.Error] leaving the head terminates it.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/talkinghead/internal/frame"
)

// ErrStopped is returned when frames are queued on a task that has finished.
var ErrStopped = errors.New("pipeline: task stopped")

// Pusher forwards frames to the neighbour of the processor it was handed to.
// It never blocks and is safe for concurrent use.
type Pusher interface {
	Push(f frame.Frame, dir frame.Direction)
}

// Processor is one stage of a pipeline.
type Processor interface {
	// Name identifies the stage in logs, metrics and errors.
	Name() string

	// Process handles a single frame travelling in dir. Frames the stage does
	// not consume must be pushed on in the same direction. A returned error
	// is fatal for the run.
	Process(ctx context.Context, f frame.Frame, dir frame.Direction, out Pusher) error
}

// Source is implemented by processors that produce frames on their own, such
// as an input transport. Produce is started once the task's seed frames are
// queued; every emitted frame enters the pipeline through the source's own
// downstream queue, behind anything queued before it.
type Source interface {
	Processor
	Produce(ctx context.Context, emit func(frame.Frame)) error
}

// Closer is implemented by processors holding resources that must be
// released after the run ends. Close is called once all stage goroutines
// have returned.
type Closer interface {
	Close() error
}

// StageError describes a stage failure.
type StageError struct {
	Stage string
	Err   error

	// Fatal is false for failures the stage recovered from, which are only
	// reported, and true for those that end the run.
	Fatal bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline is a fixed, ordered list of processors.
type Pipeline struct {
	procs []Processor
}

// New builds a pipeline from processors in order. The order cannot change
// afterwards.
func New(processors ...Processor) (*Pipeline, error) {
	if len(processors) == 0 {
		return nil, errors.New("pipeline: at least one processor is required")
	}
	seen := make(map[string]bool, len(processors))
	for i, p := range processors {
		if p == nil {
			return nil, fmt.Errorf("pipeline: processor %d is nil", i)
		}
		if seen[p.Name()] {
			return nil, fmt.Errorf("pipeline: duplicate processor name %q", p.Name())
		}
		seen[p.Name()] = true
	}
	return &Pipeline{procs: append([]Processor(nil), processors...)}, nil
}

// Processors returns the processors in order.
func (p *Pipeline) Processors() []Processor {
	return append([]Processor(nil), p.procs...)
}
