// Package mock provides test doubles for the supervisor interfaces.
//
// Processes never exit on their own: call [Process.Exit] to simulate a
// worker finishing. Terminate exits the process unless IgnoreTerminate is
// set.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkinghead/internal/supervisor"
)

// Spawner is a mock implementation of supervisor.Spawner. PIDs start at 1000
// and increase by one per successful spawn.
type Spawner struct {
	mu sync.Mutex

	// SpawnErr, if non-nil, is returned by Spawn.
	SpawnErr error

	// IgnoreTerminate makes spawned processes ignore Terminate.
	IgnoreTerminate bool

	// OnSpawn, if set, is called with the args before Spawn returns.
	OnSpawn func(supervisor.Args)

	calls     []supervisor.Args
	processes []*Process
	nextPID   int
}

// Spawn records the call and returns a new running [Process].
func (s *Spawner) Spawn(ctx context.Context, args supervisor.Args) (supervisor.Process, error) {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	if s.SpawnErr != nil {
		err := s.SpawnErr
		s.mu.Unlock()
		return nil, err
	}
	if s.nextPID == 0 {
		s.nextPID = 1000
	}
	p := &Process{pid: s.nextPID, done: make(chan struct{}), ignoreTerm: s.IgnoreTerminate}
	s.nextPID++
	s.processes = append(s.processes, p)
	hook := s.OnSpawn
	s.mu.Unlock()

	if hook != nil {
		hook(args)
	}
	return p, nil
}

// Calls returns the args of every Spawn call.
func (s *Spawner) Calls() []supervisor.Args {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]supervisor.Args, len(s.calls))
	copy(out, s.calls)
	return out
}

// Processes returns every process spawned so far.
func (s *Spawner) Processes() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Process, len(s.processes))
	copy(out, s.processes)
	return out
}

// Process is a mock implementation of supervisor.Process.
type Process struct {
	pid        int
	ignoreTerm bool

	mu         sync.Mutex
	done       chan struct{}
	exitErr    error
	terminated int
	polls      int
}

// Exit marks the process as exited with err. Repeated calls are ignored.
func (p *Process) Exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
	default:
		p.exitErr = err
		close(p.done)
	}
}

// PID implements supervisor.Process.
func (p *Process) PID() int { return p.pid }

// Exited implements supervisor.Process.
func (p *Process) Exited() bool {
	p.mu.Lock()
	p.polls++
	p.mu.Unlock()
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Terminate implements supervisor.Process.
func (p *Process) Terminate() error {
	p.mu.Lock()
	p.terminated++
	ignore := p.ignoreTerm
	p.mu.Unlock()
	if !ignore {
		p.Exit(nil)
	}
	return nil
}

// Wait implements supervisor.Process.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminated returns how often Terminate was called.
func (p *Process) Terminated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Polls returns how often Exited was called.
func (p *Process) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

var (
	_ supervisor.Spawner = (*Spawner)(nil)
	_ supervisor.Process = (*Process)(nil)
)
