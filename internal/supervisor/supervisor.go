// Package supervisor abstracts the worker processes the control plane starts,
// one per session.
//
// A [Spawner] starts a worker and returns a [Process] handle that can be
// polled for exit, terminated, and waited on. [ExecSpawner] runs the worker
// binary with os/exec; tests substitute the mock subpackage. The control
// plane only depends on the interfaces, so an in-process implementation can
// replace process isolation without touching it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// Args is what a worker needs to join its session.
type Args struct {
	// RoomURL is the room to join.
	RoomURL string

	// Token is the room credential.
	Token string

	// Config is the encoded bot configuration (see botconfig.Encode).
	Config string
}

// argv renders a as worker command-line flags.
func (a Args) argv() []string {
	return []string{"--url", a.RoomURL, "--token", a.Token, "--config", a.Config}
}

// Spawner starts worker processes.
type Spawner interface {
	// Spawn starts one worker. ctx bounds only the start itself; the worker
	// outlives it.
	Spawn(ctx context.Context, args Args) (Process, error)
}

// Process is a handle to a started worker.
//
// Implementations must be safe for concurrent use.
type Process interface {
	// PID is the operating system process id.
	PID() int

	// Exited reports, without blocking, whether the worker has terminated.
	Exited() bool

	// Terminate asks the worker to stop. Terminating an exited worker is a
	// no-op.
	Terminate() error

	// Wait blocks until the worker exits or ctx ends, and returns the exit
	// error.
	Wait(ctx context.Context) error
}

// ExecSpawner starts workers as child processes. Arguments are passed
// directly to the binary; no shell is involved.
type ExecSpawner struct {
	// Command is the worker binary.
	Command string

	// Args are placed before the session flags (e.g. "--settings", path).
	Args []string

	// Env is appended to the control plane's environment.
	Env []string

	// Logger receives lifecycle events. Nil means slog.Default().
	Logger *slog.Logger
}

var _ Spawner = (*ExecSpawner)(nil)

// Spawn implements [Spawner].
func (s *ExecSpawner) Spawn(ctx context.Context, args Args) (Process, error) {
	if s.Command == "" {
		return nil, errors.New("supervisor: no worker command configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}

	argv := append(append([]string{}, s.Args...), args.argv()...)
	// Not CommandContext: the worker must outlive the request that started it.
	cmd := exec.Command(s.Command, argv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start %s: %w", s.Command, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
		log.Info("worker exited", "pid", cmd.Process.Pid, "room_url", args.RoomURL, "err", p.err)
	}()
	log.Info("worker started", "pid", cmd.Process.Pid, "room_url", args.RoomURL)
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error // valid after done is closed

	termOnce sync.Once
	termErr  error
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *execProcess) Terminate() error {
	if p.Exited() {
		return nil
	}
	p.termOnce.Do(func() {
		err := p.cmd.Process.Signal(syscall.SIGTERM)
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.termErr = fmt.Errorf("supervisor: terminate %d: %w", p.PID(), err)
		}
	})
	return p.termErr
}

// Wait kills the worker if ctx ends first so no child is left behind.
func (p *execProcess) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-p.done
		return ctx.Err()
	}
}
