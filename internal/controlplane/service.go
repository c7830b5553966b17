// Package controlplane provisions bot sessions and supervises their workers.
//
// # Architecture
//
// A start request flows through [Service.StartSession]:
//
//	validate config → create room → reserve room slot → issue token →
//	encode config → spawn worker → register session
//
// The session table is the only shared mutable state. Every mutation
// (register, poll, cleanup) happens under one mutex. A room slot is reserved
// before the token is issued and released once the worker is registered or
// the request fails, so concurrent requests that land on the same room can
// never exceed the per-room cap. Nothing is registered for a failed request.
//
// Sessions stay in the table for the life of the process so their status can
// still be queried after the worker exits. [Service.Shutdown] terminates every
// tracked worker and waits for each to exit.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkinghead/internal/botconfig"
	"github.com/MrWong99/talkinghead/internal/observe"
	"github.com/MrWong99/talkinghead/internal/room"
	"github.com/MrWong99/talkinghead/internal/supervisor"
)

// DefaultMaxBotsPerRoom is the per-room worker cap.
const DefaultMaxBotsPerRoom = 1

// Sentinel errors classifying a failed request. Every error returned by
// [Service] matches exactly one of these (or [botconfig.ErrInvalid]).
var (
	ErrProvisioning = errors.New("controlplane: provisioning failed")
	ErrCapacity     = errors.New("controlplane: room at capacity")
	ErrSpawn        = errors.New("controlplane: worker spawn failed")
	ErrNotFound     = errors.New("controlplane: session not found")
	ErrShutdown     = errors.New("controlplane: shutting down")
)

// Error is a classified control plane failure. Detail is safe to show to
// API clients; Err carries the underlying cause for logs.
type Error struct {
	Kind   error
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Detail + ": " + e.Err.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Status is the lifecycle state of a session's worker.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
)

// Session is what a successful start returns to the caller.
type Session struct {
	RoomURL string
	Token   string
	PID     int
}

// Option is a functional option for configuring a [Service].
type Option func(*Service)

// WithMaxBotsPerRoom sets the per-room worker cap. Values below 1 are ignored.
func WithMaxBotsPerRoom(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPerRoom = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

type entry struct {
	proc     supervisor.Process
	roomURL  string
	finished bool
}

// Service implements the session control plane. It is safe for concurrent
// use.
type Service struct {
	rooms      room.Provisioner
	spawner    supervisor.Spawner
	maxPerRoom int
	log        *slog.Logger
	metrics    *observe.Metrics

	mu       sync.Mutex
	sessions map[int]*entry
	reserved map[string]int
	closed   bool
}

// NewService creates a [Service].
func NewService(rooms room.Provisioner, spawner supervisor.Spawner, opts ...Option) *Service {
	s := &Service{
		rooms:      rooms,
		spawner:    spawner,
		maxPerRoom: DefaultMaxBotsPerRoom,
		sessions:   make(map[int]*entry),
		reserved:   make(map[string]int),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// StartSession provisions a room, issues a token and spawns one worker for
// cfg. Invalid configuration is rejected before anything external happens.
func (s *Service) StartSession(ctx context.Context, cfg botconfig.Config) (Session, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanStartSession)
	sess, reason, err := s.start(ctx, cfg)
	if err != nil {
		span.SetAttributes(attribute.String("session.failure", reason))
		observe.EndSpan(span, err)
		s.metrics.RecordSessionFailure(ctx, reason)
		observe.Logger(ctx).Warn("session start failed", "reason", reason, "err", err)
		return Session{}, err
	}
	span.SetAttributes(attribute.Int("worker.pid", sess.PID), attribute.String("room.url", sess.RoomURL))
	observe.EndSpan(span, nil)
	s.metrics.RecordSessionStarted(ctx)
	observe.Logger(ctx).Info("session started", "pid", sess.PID, "room_url", sess.RoomURL)
	return sess, nil
}

func (s *Service) start(ctx context.Context, cfg botconfig.Config) (Session, string, error) {
	payload, err := botconfig.Encode(cfg)
	if err != nil {
		return Session{}, "config", err
	}
	ttl := cfg.SessionDuration()

	rm, err := s.rooms.CreateRoom(ctx, room.Params{TTL: ttl})
	if err != nil {
		return Session{}, "provisioning", &Error{Kind: ErrProvisioning, Detail: "Failed to create room", Err: err}
	}
	if rm.URL == "" {
		return Session{}, "provisioning", &Error{Kind: ErrProvisioning, Detail: "Failed to create room"}
	}

	if err := s.reserve(rm.URL); err != nil {
		reason := "capacity"
		if errors.Is(err, ErrShutdown) {
			reason = "shutdown"
		}
		return Session{}, reason, err
	}
	registered := false
	defer func() {
		if !registered {
			s.release(rm.URL)
		}
	}()

	token, err := s.rooms.GetToken(ctx, rm, ttl)
	if err != nil || token == "" {
		return Session{}, "provisioning", &Error{Kind: ErrProvisioning, Detail: "Failed to get token for room: " + rm.URL, Err: err}
	}

	proc, err := s.spawner.Spawn(ctx, supervisor.Args{RoomURL: rm.URL, Token: token, Config: payload})
	if err != nil {
		return Session{}, "spawn", &Error{Kind: ErrSpawn, Detail: "Failed to start worker for room: " + rm.URL, Err: err}
	}

	if err := s.register(proc, rm.URL); err != nil {
		if terr := proc.Terminate(); terr != nil {
			s.log.Warn("terminate worker spawned during shutdown", "pid", proc.PID(), "err", terr)
		}
		return Session{}, "shutdown", err
	}
	registered = true
	return Session{RoomURL: rm.URL, Token: token, PID: proc.PID()}, "", nil
}

// reserve claims a worker slot in roomURL. Live workers and outstanding
// reservations both count against the cap.
func (s *Service) reserve(roomURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &Error{Kind: ErrShutdown, Detail: "Server is shutting down"}
	}
	n := s.reserved[roomURL]
	for _, e := range s.sessions {
		if e.roomURL == roomURL && !s.pollLocked(e) {
			n++
		}
	}
	if n >= s.maxPerRoom {
		return &Error{Kind: ErrCapacity, Detail: "Max bot limit reached for room: " + roomURL}
	}
	s.reserved[roomURL]++
	return nil
}

// SetMaxBotsPerRoom changes the per-room cap for future admissions. Workers
// already running are left alone. Values below one are ignored.
func (s *Service) SetMaxBotsPerRoom(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPerRoom = n
}

func (s *Service) release(roomURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(roomURL)
}

func (s *Service) releaseLocked(roomURL string) {
	if s.reserved[roomURL] <= 1 {
		delete(s.reserved, roomURL)
		return
	}
	s.reserved[roomURL]--
}

// register turns a reservation into a tracked session.
func (s *Service) register(proc supervisor.Process, roomURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &Error{Kind: ErrShutdown, Detail: "Server is shutting down"}
	}
	s.sessions[proc.PID()] = &entry{proc: proc, roomURL: roomURL}
	s.releaseLocked(roomURL)
	return nil
}

// pollLocked reports whether e's worker has exited. Finished is terminal:
// the process handle is not consulted again. Must be called with s.mu held.
func (s *Service) pollLocked(e *entry) bool {
	if e.finished {
		return true
	}
	if e.proc.Exited() {
		e.finished = true
		s.metrics.RecordWorkerExited(context.Background())
	}
	return e.finished
}

// Status reports whether the worker with the given pid is still running.
func (s *Service) Status(pid int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[pid]
	if !ok {
		return "", &Error{Kind: ErrNotFound, Detail: fmt.Sprintf("Bot with process id: %d not found", pid)}
	}
	if s.pollLocked(e) {
		return StatusFinished, nil
	}
	return StatusRunning, nil
}

// Shutdown stops accepting sessions, terminates every tracked worker and
// waits for all of them to exit or ctx to end. Workers still running when
// ctx ends are killed by [supervisor.Process.Wait].
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	clear(s.sessions)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			pid := e.proc.PID()
			if err := e.proc.Terminate(); err != nil {
				s.log.Warn("terminate worker", "pid", pid, "err", err)
			}
			err := e.proc.Wait(gctx)
			if ctxErr := gctx.Err(); ctxErr != nil && err != nil && errors.Is(err, ctxErr) {
				return fmt.Errorf("controlplane: wait for worker %d: %w", pid, err)
			}
			s.log.Debug("worker reaped", "pid", pid, "room_url", e.roomURL, "exit", err)
			s.mu.Lock()
			if !e.finished {
				e.finished = true
				s.metrics.RecordWorkerExited(context.Background())
			}
			s.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}
