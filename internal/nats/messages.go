package nats

import (
	"encoding/json"
	"strings"

	"github.com/smazurov/relaynode/internal/types"
)

// Subject prefixes for NATS topics.
const (
	SubjectSessionsPrefix = "relaynode.sessions"
	SubjectStatus         = SubjectSessionsPrefix + ".status"
)

// Session lifecycle actions used as the last subject token.
const (
	ActionStarted   = "started"
	ActionStopped   = "stopped"
	ActionRestarted = "restarted"
	ActionFailed    = "failed"
)

// SubjectSessionEvent returns the subject for a lifecycle event of one
// session, e.g. relaynode.sessions.morning_show.failed.
func SubjectSessionEvent(session, action string) string {
	return SubjectSessionsPrefix + "." + SubjectToken(session) + "." + action
}

// SubjectToken maps a session name to a single subject token. Characters
// other than letters, digits, '-' and '_' become '_'.
func SubjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// StatusMessage is the full session snapshot sent on SubjectStatus.
type StatusMessage struct {
	Timestamp string                       `json:"timestamp"`
	Sessions  map[string]types.SessionView `json:"sessions"`
}

// Marshal serializes the message to JSON.
func (m StatusMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// SessionEventMessage is a lifecycle event of one session.
type SessionEventMessage struct {
	Session   string         `json:"session"`
	Action    string         `json:"action"` // started, stopped, restarted, failed
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Marshal serializes the message to JSON.
func (m SessionEventMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalStatus deserializes a StatusMessage from JSON.
func UnmarshalStatus(data []byte) (StatusMessage, error) {
	var m StatusMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalSessionEvent deserializes a SessionEventMessage from JSON.
func UnmarshalSessionEvent(data []byte) (SessionEventMessage, error) {
	var m SessionEventMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
