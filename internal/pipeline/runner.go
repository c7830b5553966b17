package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/observe"
)

// Runner drives tasks.
type Runner struct {
	logger  *slog.Logger
	metrics *observe.Metrics
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithLogger sets the logger used for run lifecycle and non-fatal stage
// errors. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics sets the metrics that count pipeline frames. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Run drives task until an [frame.End] leaves the pipeline, a stage fails
// fatally, the task is cancelled, or ctx ends. It returns nil for a clean
// end or a cancel, the fatal error (a *[StageError]) for a failure, and
// ctx's error when ctx ended first. A task can run only once.
func (r *Runner) Run(ctx context.Context, task *Task) (err error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanPipelineRun,
		trace.WithAttributes(attribute.Int("pipeline.stages", len(task.pipeline.procs))))
	defer func() { observe.EndSpan(span, err) }()
	log := observe.WithTrace(ctx, r.logger)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	procs := task.pipeline.procs
	rn := &run{
		runner: r,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	rn.nodes = make([]*node, len(procs))
	for i, p := range procs {
		rn.nodes[i] = &node{proc: p, idx: i, q: newQueue(), run: rn}
	}

	if err := task.begin(rn.nodes[0].q, cancel); err != nil {
		if errors.Is(err, errCancelled) {
			return nil
		}
		return err
	}
	defer task.finish()

	log.Debug("pipeline run started", "stages", len(procs))

	var wg sync.WaitGroup
	for _, n := range rn.nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.loop(runCtx)
		}()
	}
	for _, n := range rn.nodes {
		src, ok := n.proc.(Source)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := src.Produce(runCtx, func(f frame.Frame) {
				n.q.push(f, frame.Downstream)
			})
			if err != nil && runCtx.Err() == nil {
				rn.fail(src.Name(), err)
			}
		}()
	}

	select {
	case <-rn.done:
	case <-runCtx.Done():
	}
	cancel(nil)
	wg.Wait()

	for _, p := range procs {
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil {
				log.Warn("pipeline stage close failed", "stage", p.Name(), "err", err)
			}
		}
	}

	select {
	case <-rn.done:
		if rn.err != nil {
			log.Error("pipeline run failed", "err", rn.err)
		} else {
			log.Info("pipeline run finished")
		}
		return rn.err
	default:
	}
	if errors.Is(context.Cause(runCtx), errCancelled) {
		log.Info("pipeline run cancelled")
		return nil
	}
	return ctx.Err()
}

// run is the state of one Runner.Run call.
type run struct {
	runner *Runner
	nodes  []*node
	cancel func(error)

	once sync.Once
	err  error
	done chan struct{}
}

func (rn *run) finish(err error) {
	rn.once.Do(func() {
		rn.err = err
		close(rn.done)
		rn.cancel(nil)
	})
}

func (rn *run) fail(stage string, err error) {
	var se *StageError
	switch {
	case !errors.As(err, &se):
		err = &StageError{Stage: stage, Err: err, Fatal: true}
	case !se.Fatal:
		err = &StageError{Stage: se.Stage, Err: se.Err, Fatal: true}
	}
	rn.finish(err)
}

// sink handles a frame that left the pipeline at either end.
func (rn *run) sink(f frame.Frame, dir frame.Direction) {
	switch f := f.(type) {
	case frame.End:
		if dir == frame.Downstream {
			rn.finish(nil)
		}
	case frame.Error:
		if f.Fatal {
			rn.fail("unknown", f.Err)
			return
		}
		rn.runner.logger.Warn("pipeline stage reported error", "err", f.Err)
	}
}

// node binds a processor to its position and inbox. It is the Pusher handed
// to the processor.
type node struct {
	proc Processor
	idx  int
	q    *queue
	run  *run
}

func (n *node) Push(f frame.Frame, dir frame.Direction) {
	n.run.runner.metrics.RecordFrame(context.Background(), frame.Name(f), dir.String())
	next := n.idx + 1
	if dir == frame.Upstream {
		next = n.idx - 1
	}
	if next < 0 || next >= len(n.run.nodes) {
		n.run.sink(f, dir)
		return
	}
	n.run.nodes[next].q.push(f, dir)
}

func (n *node) loop(ctx context.Context) {
	for {
		f, dir, ok := n.q.pop()
		if !ok {
			select {
			case <-n.q.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := n.proc.Process(ctx, f, dir, n); err != nil {
			if ctx.Err() == nil {
				n.run.fail(n.proc.Name(), err)
			}
			return
		}
	}
}
