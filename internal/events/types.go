package events

import "github.com/smazurov/relaynode/internal/types"

// Event type constants for kelindar/event.
const (
	TypeSessionsUpdated uint32 = iota + 1
	TypeSessionStarted
	TypeSessionStopped
	TypeSessionRestarted
	TypeSessionFailed
	TypeLogEntry
	TypeSessionMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionsUpdatedEvent carries the full snapshot after a state change.
type SessionsUpdatedEvent struct {
	Sessions  map[string]types.SessionView `json:"sessions" doc:"All registered sessions by name"`
	Timestamp string                       `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Snapshot time"`
}

// Type returns the event type identifier for SessionsUpdatedEvent.
func (e SessionsUpdatedEvent) Type() uint32 { return TypeSessionsUpdated }

// SessionStartedEvent is published when a session is registered.
type SessionStartedEvent struct {
	Session   string `json:"session" example:"morning-show" doc:"Session name"`
	Owner     string `json:"owner" example:"alice" doc:"User that started the session"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStartedEvent.
func (e SessionStartedEvent) Type() uint32 { return TypeSessionStarted }

// SessionStoppedEvent is published after an explicit stop.
type SessionStoppedEvent struct {
	Session   string `json:"session" example:"morning-show" doc:"Session name"`
	StoppedBy string `json:"stopped_by" example:"admin" doc:"User that requested the stop"`
	ExitCode  int    `json:"exit_code" example:"0" doc:"Exit code of the relay process"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStoppedEvent.
func (e SessionStoppedEvent) Type() uint32 { return TypeSessionStopped }

// SessionRestartedEvent is published after an automatic relaunch.
type SessionRestartedEvent struct {
	Session     string `json:"session" example:"morning-show" doc:"Session name"`
	Attempt     int    `json:"attempt" example:"1" doc:"Restart attempt number"`
	MaxAttempts int    `json:"max_attempts" example:"3" doc:"Restart attempts allowed"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionRestartedEvent.
func (e SessionRestartedEvent) Type() uint32 { return TypeSessionRestarted }

// SessionFailedEvent is published when a session is removed after using
// up its restart attempts.
type SessionFailedEvent struct {
	Session      string `json:"session" example:"morning-show" doc:"Session name"`
	LastError    string `json:"last_error" doc:"Last error line seen"`
	RestartCount int    `json:"restart_count" example:"3" doc:"Restarts performed"`
	Timestamp    string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionFailedEvent.
func (e SessionFailedEvent) Type() uint32 { return TypeSessionFailed }

// LogEntryEvent carries one log record to log stream clients.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"relay" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// SessionMetricsEvent carries the periodic metric sample of one session.
type SessionMetricsEvent struct {
	Session           string `json:"session" example:"morning-show" doc:"Session name"`
	FPS               string `json:"fps" example:"30" doc:"Frames per second reported by the relay"`
	Restarts          string `json:"restarts" example:"1" doc:"Restarts since the session started"`
	HeartbeatTimeouts string `json:"heartbeat_timeouts" example:"0" doc:"Generations ended for lack of output"`
}

// Type returns the event type identifier for SessionMetricsEvent.
func (e SessionMetricsEvent) Type() uint32 { return TypeSessionMetrics }
