package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/logging"
	"github.com/smazurov/relaynode/internal/types"
)

// RegistryOptions contains options for creating a Registry.
type RegistryOptions struct {
	Launcher Launcher
	Events   Publisher // optional
	Recorder Recorder  // optional
	Config   Config
}

// Registry owns every relay session by name.
//
// Lock order is registry then session. A session lock is never held while
// acquiring the registry lock, and no lock is held across a grace period,
// a restart delay or an output poll.
type Registry struct {
	launcher Launcher
	events   Publisher
	recorder Recorder
	cfg      Config
	policy   RestartPolicy
	logger   *slog.Logger
	output   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts *RegistryOptions) *Registry {
	cfg := opts.Config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		launcher: opts.Launcher,
		events:   opts.Events,
		recorder: opts.Recorder,
		cfg:      cfg,
		policy:   cfg.Policy(),
		logger:   logging.GetLogger("relay"),
		output:   logging.GetLogger("ffmpeg"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
	if r.events == nil {
		r.events = nopPublisher{}
	}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	return r
}

// Start registers a session and launches its first process. The name is
// reserved before launching, so a concurrent duplicate start is rejected
// and a failed launch leaves no trace.
func (r *Registry) Start(_ context.Context, p StartParams) error {
	params, err := p.relayParams()
	if err != nil {
		return err
	}
	sourceName := p.SourceName
	if sourceName == "" {
		sourceName = DefaultSourceName
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return NewRelayError(ErrCodeShuttingDown, "registry is shutting down", nil)
	}
	if _, exists := r.sessions[p.Name]; exists {
		r.mu.Unlock()
		return NewRelayError(ErrCodeSessionExists, "session "+p.Name+" already exists", nil)
	}

	ctx, cancel := context.WithCancel(r.ctx)
	s := &session{
		name:       p.Name,
		params:     params,
		owner:      p.Owner,
		sourceName: sourceName,
		ctx:        ctx,
		cancel:     cancel,
		pending:    true,
	}
	r.sessions[p.Name] = s
	r.wg.Add(1)
	r.mu.Unlock()

	// No lock is held while spawning. The pending entry keeps the name
	// reserved and hides it from Snapshot, Get and Stop.
	proc, err := r.launcher.Launch(s.name, s.params)
	if err != nil {
		s.mu.Lock()
		s.removed = true
		s.mu.Unlock()
		r.forget(s)
		cancel()
		r.wg.Done()
		r.recorder.LaunchFailed(s.name)
		r.logger.Error("Failed to start session", "session", s.name, "error", s.redact(err.Error()))
		return NewRelayError(ErrCodeLaunchFailed, "failed to launch relay process", err)
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.removed = true
		s.mu.Unlock()
		code := proc.Stop(r.cfg.GracePeriod, r.cfg.KillTimeout)
		proc.Release()
		r.forget(s)
		cancel()
		r.wg.Done()
		r.logger.Info("Session launched during shutdown, stopped", "session", s.name, "exit_code", code)
		return NewRelayError(ErrCodeShuttingDown, "registry is shutting down", nil)
	}

	now := time.Now()
	s.pending = false
	s.proc = proc
	s.status = types.StatusActive
	s.startedAt = now
	s.generation = 1
	s.health = initialHealth(now)
	s.mu.Unlock()

	go r.supervise(s, proc, 1)

	r.logger.Info("Session started", "session", s.name, "owner", s.owner, "pid", proc.PID())
	r.events.Publish(events.SessionStartedEvent{Session: s.name, Owner: s.owner, Timestamp: timestamp()})
	r.broadcast()
	return nil
}

// Stop removes a session and terminates its process. Elevated roles may
// stop any session; other users only their own. On success the process
// has exited and a snapshot has been broadcast before Stop returns. A
// relaunch already spawning when Stop runs is stopped by its supervisor.
func (r *Registry) Stop(_ context.Context, name, role, userID string) error {
	r.mu.RLock()
	s := r.sessions[name]
	r.mu.RUnlock()
	if s == nil {
		return NewRelayError(ErrCodeSessionNotFound, "session "+name+" not found", nil)
	}

	s.mu.Lock()
	if s.removed || s.pending {
		s.mu.Unlock()
		return NewRelayError(ErrCodeSessionNotFound, "session "+name+" not found", nil)
	}
	if !canStop(role, userID, s.owner) {
		s.mu.Unlock()
		r.logger.Warn("Stop denied", "session", name, "user", userID, "role", role)
		return NewRelayError(ErrCodePermissionDenied, "user "+userID+" may not stop session "+name, nil)
	}
	s.status = types.StatusStopped
	s.removed = true
	proc := s.proc
	s.mu.Unlock()

	r.broadcast()
	exitCode := r.teardown(s, proc)

	r.logger.Info("Session stopped", "session", name, "user", userID, "exit_code", exitCode)
	r.events.Publish(events.SessionStoppedEvent{
		Session:   name,
		StoppedBy: userID,
		ExitCode:  exitCode,
		Timestamp: timestamp(),
	})
	r.broadcast()
	return nil
}

// teardown removes s from the map, wakes its supervisor and stops proc.
// s must already be marked removed.
func (r *Registry) teardown(s *session, proc Process) int {
	r.forget(s)
	s.cancel()
	r.recorder.SessionRemoved(s.name)
	if proc == nil {
		return 0
	}
	return proc.Stop(r.cfg.GracePeriod, r.cfg.KillTimeout)
}

// forget deletes s from the map if it is still the entry for its name.
func (r *Registry) forget(s *session) {
	r.mu.Lock()
	if r.sessions[s.name] == s {
		delete(r.sessions, s.name)
	}
	r.mu.Unlock()
}

// Snapshot returns a view of every registered session. Membership is read
// under the registry lock and each view is copied under its session lock.
func (r *Registry) Snapshot() map[string]types.SessionView {
	r.mu.RLock()
	list := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	out := make(map[string]types.SessionView, len(list))
	for _, s := range list {
		s.mu.Lock()
		if !s.pending {
			out[s.name] = s.viewLocked()
		}
		s.mu.Unlock()
	}
	return out
}

// Get returns the view of one session.
func (r *Registry) Get(name string) (types.SessionView, bool) {
	r.mu.RLock()
	s := r.sessions[name]
	r.mu.RUnlock()
	if s == nil {
		return types.SessionView{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return types.SessionView{}, false
	}
	return s.viewLocked(), true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown stops every session, cancels pending restarts and waits for
// all supervisors to return. Start fails afterwards.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	list := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range list {
		s.mu.Lock()
		if s.removed || s.pending {
			s.mu.Unlock()
			continue
		}
		s.status = types.StatusStopped
		s.removed = true
		proc := s.proc
		s.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			code := r.teardown(s, proc)
			r.logger.Info("Session stopped on shutdown", "session", s.name, "exit_code", code)
		}()
	}
	wg.Wait()

	r.cancel()
	r.wg.Wait()
	r.broadcast()
}
