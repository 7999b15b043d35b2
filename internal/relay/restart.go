package relay

import (
	"time"

	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/types"
)

// restart applies the restart policy after a generation ended on its own.
// It returns the relaunched process, or false when the session was removed
// meanwhile or has used up its attempts. A failed relaunch consumes an
// attempt and the policy is applied again.
func (r *Registry) restart(s *session) (Process, bool) {
	for {
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			return nil, false
		}
		if !r.policy.Allow(s.health.RestartCount) {
			r.exhausted(s)
			return nil, false
		}
		now := time.Now()
		s.health.RestartCount++
		s.health.LastRestartAt = &now
		attempt := s.health.RestartCount
		s.mu.Unlock()

		r.logger.Info("Restarting session", "session", s.name,
			"attempt", attempt, "max_attempts", r.policy.MaxAttempts, "delay", r.policy.Delay)
		r.recorder.SessionRestarted(s.name)
		r.broadcast()

		timer := time.NewTimer(r.policy.Delay)
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
			return nil, false
		}

		proc, ok := r.relaunch(s, attempt)
		if ok {
			return proc, true
		}
	}
}

// relaunch starts the next generation. The spawn runs without the session
// lock; a stop that lands meanwhile is seen afterwards and the new process
// is stopped here.
func (r *Registry) relaunch(s *session, attempt int) (Process, bool) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return nil, false
	}
	s.mu.Unlock()

	proc, err := r.launcher.Launch(s.name, s.params)

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		if err == nil {
			code := proc.Stop(r.cfg.GracePeriod, r.cfg.KillTimeout)
			proc.Release()
			r.logger.Info("Session stopped while relaunching", "session", s.name, "exit_code", code)
		}
		return nil, false
	}
	if err != nil {
		msg := s.redact(err.Error())
		s.health.LastError = &msg
		s.mu.Unlock()
		r.recorder.LaunchFailed(s.name)
		r.logger.Error("Relaunch failed", "session", s.name, "attempt", attempt, "error", msg)
		r.broadcast()
		return nil, false
	}

	now := time.Now()
	s.proc = proc
	s.generation++
	s.status = types.StatusActive
	s.startedAt = now
	s.terminateRequested = false
	s.health.FPS = 0
	s.health.Bitrate = ZeroBitrate
	s.health.LastError = nil
	s.health.LastHealthCheckAt = now
	s.mu.Unlock()

	r.logger.Info("Session restarted", "session", s.name, "attempt", attempt, "pid", proc.PID())
	r.events.Publish(events.SessionRestartedEvent{
		Session:     s.name,
		Attempt:     attempt,
		MaxAttempts: r.policy.MaxAttempts,
		Timestamp:   timestamp(),
	})
	r.broadcast()
	return proc, true
}

// exhausted marks s failed, broadcasts it once and removes it. Called with
// s.mu held; releases it.
func (r *Registry) exhausted(s *session) {
	s.status = types.StatusFailed
	s.removed = true
	lastError := ""
	if s.health.LastError != nil {
		lastError = *s.health.LastError
	}
	restarts := s.health.RestartCount
	s.mu.Unlock()

	r.logger.Error("Session failed after restart attempts", "session", s.name,
		"restarts", restarts, "last_error", lastError)
	r.broadcast()

	r.forget(s)
	s.cancel()
	r.recorder.SessionRemoved(s.name)
	r.events.Publish(events.SessionFailedEvent{
		Session:      s.name,
		LastError:    lastError,
		RestartCount: restarts,
		Timestamp:    timestamp(),
	})
	r.broadcast()
}
