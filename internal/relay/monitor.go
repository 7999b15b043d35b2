package relay

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/smazurov/relaynode/internal/ffmpeg"
	"github.com/smazurov/relaynode/internal/types"
)

// maxPendingLine bounds the buffered partial line; longer runs without a
// terminator are parsed as they are.
const maxPendingLine = 64 * 1024

// endReason says why a generation left the Running phase.
type endReason int

const (
	endExited    endReason = iota // process exited on its own
	endFatal                      // parser requested termination
	endHeartbeat                  // no output within the heartbeat timeout
	endCancelled                  // session stopped or registry shut down
)

func (e endReason) String() string {
	switch e {
	case endFatal:
		return "fatal error"
	case endHeartbeat:
		return "heartbeat timeout"
	case endCancelled:
		return "cancelled"
	default:
		return "exited"
	}
}

// supervise runs generations of s until the session is removed or its
// restart attempts are exhausted.
func (r *Registry) supervise(s *session, proc Process, gen int) {
	defer r.wg.Done()
	for {
		reason := r.watch(s, proc)
		r.detach(s, proc)
		r.logger.Info("Relay process ended", "session", s.name, "generation", gen, "reason", reason.String())
		if reason == endCancelled {
			return
		}

		next, ok := r.restart(s)
		if !ok {
			return
		}
		proc = next
		gen++
	}
}

// watch runs one generation: Running until the process exits, the parser
// asks for termination, the heartbeat expires or the session is cancelled;
// then Terminating until the process is gone.
func (r *Registry) watch(s *session, proc Process) endReason {
	defer proc.Release()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	output := proc.Output()
	lastActivity := time.Now()
	var partial []byte
	var reason endReason

running:
	for {
		select {
		case chunk, ok := <-output:
			if !ok {
				// Pipe closed; keep waiting for the exit status.
				output = nil
				continue
			}
			if len(chunk) > 0 {
				lastActivity = time.Now()
				partial = r.consume(s, append(partial, chunk...))
			}
		case <-proc.Done():
			partial = r.drain(s, output, partial)
			r.flush(s, partial)
			reason = endExited
			break running
		case <-s.ctx.Done():
			reason = endCancelled
			break running
		case <-ticker.C:
		}

		if r.takeTerminate(s) {
			reason = endFatal
			break running
		}
		if idle := time.Since(lastActivity); idle > r.cfg.HeartbeatTimeout {
			r.heartbeatExpired(s, idle)
			reason = endHeartbeat
			break running
		}
	}

	switch reason {
	case endCancelled:
		s.mu.Lock()
		stopping := s.removed
		s.removed = true
		s.status = types.StatusStopped
		s.mu.Unlock()
		if !stopping {
			// Shutdown raced the first launch; nobody else owns the process.
			proc.Stop(r.cfg.GracePeriod, r.cfg.KillTimeout)
			r.forget(s)
			r.recorder.SessionRemoved(s.name)
			break
		}
		// The canceller stops the process; wait for it within the same bound.
		select {
		case <-proc.Done():
		case <-time.After(r.cfg.GracePeriod + r.cfg.KillTimeout):
			_ = proc.Kill()
		}
	default:
		code := proc.Stop(r.cfg.GracePeriod, r.cfg.KillTimeout)
		r.logger.Debug("Relay process reaped", "session", s.name, "exit_code", code)
	}
	return reason
}

// detach clears the session's process handle once its generation ended,
// so a later stop never signals a reaped process group.
func (r *Registry) detach(s *session, proc Process) {
	s.mu.Lock()
	if s.proc == proc {
		s.proc = nil
	}
	s.mu.Unlock()
}

// consume parses every complete line in buf and returns the remainder.
// Lines end at \n or \r; ffmpeg rewrites its progress line with \r.
func (r *Registry) consume(s *session, buf []byte) []byte {
	for {
		i := bytes.IndexAny(buf, "\r\n")
		if i < 0 {
			break
		}
		r.handleLine(s, string(buf[:i]))
		buf = buf[i+1:]
	}
	if len(buf) > maxPendingLine {
		r.handleLine(s, string(buf))
		return nil
	}
	// Compact so the backing array does not grow without bound.
	return append([]byte(nil), buf...)
}

// drain reads output left after exit, bounded by DrainTimeout, so a fatal
// line written just before exit is still recorded.
func (r *Registry) drain(s *session, output <-chan []byte, partial []byte) []byte {
	if output == nil {
		return partial
	}
	deadline := time.NewTimer(r.cfg.DrainTimeout)
	defer deadline.Stop()
	for {
		select {
		case chunk, ok := <-output:
			if !ok {
				return partial
			}
			partial = r.consume(s, append(partial, chunk...))
		case <-deadline.C:
			return partial
		}
	}
}

// flush parses an unterminated final line.
func (r *Registry) flush(s *session, partial []byte) {
	if len(partial) > 0 {
		r.handleLine(s, string(partial))
	}
}

// handleLine logs one output line and folds it into the session health.
// It broadcasts when anything observable changed, and at most once per
// poll interval otherwise so the last health check time stays current.
func (r *Registry) handleLine(s *session, raw string) {
	line := strings.TrimSpace(s.redact(raw))
	if line == "" {
		return
	}
	r.logOutput(s.name, line)

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	prev, prevStatus := s.health, s.status
	h, tr := ParseLine(line, s.health, now)
	s.health = h
	switch tr {
	case TransitionDegraded:
		if s.status != types.StatusFailed {
			s.status = types.StatusWarning
		}
	case TransitionFatal:
		s.status = types.StatusFailed
		s.terminateRequested = true
	}
	changed := healthChanged(prev, h) || prevStatus != s.status ||
		now.Sub(s.publishedAt) >= r.cfg.PollInterval
	if changed {
		s.publishedAt = now
	}
	s.mu.Unlock()

	r.recorder.SessionHealth(s.name, h.FPS)
	if tr == TransitionFatal {
		sig, _ := ffmpeg.MatchFatal(line)
		r.recorder.FatalError(sig.Name)
		r.logger.Warn("Fatal relay error, terminating process", "session", s.name, "signature", sig.Name)
	}
	if changed {
		r.broadcast()
	}
}

func (r *Registry) logOutput(name, line string) {
	level, msg := ffmpeg.ParseLogLevel(line)
	switch level {
	case "panic", "fatal", "error":
		r.output.Error(msg, "session", name)
	case "warning":
		r.output.Warn(msg, "session", name)
	case "verbose", "debug", "trace":
		r.output.Debug(msg, "session", name)
	default:
		r.output.Info(msg, "session", name)
	}
}

func (r *Registry) takeTerminate(s *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	requested := s.terminateRequested
	s.terminateRequested = false
	return requested
}

func (r *Registry) heartbeatExpired(s *session, idle time.Duration) {
	msg := fmt.Sprintf("no output for %s", idle.Round(100*time.Millisecond))
	r.logger.Warn("Relay heartbeat timeout", "session", s.name, "idle", idle)
	r.recorder.HeartbeatTimeout(s.name)

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.health.LastError = &msg
	s.mu.Unlock()
	r.broadcast()
}

func healthChanged(a, b Health) bool {
	if a.FPS != b.FPS || a.Bitrate != b.Bitrate {
		return true
	}
	switch {
	case a.LastError == nil && b.LastError == nil:
		return false
	case a.LastError == nil || b.LastError == nil:
		return true
	default:
		return *a.LastError != *b.LastError
	}
}
