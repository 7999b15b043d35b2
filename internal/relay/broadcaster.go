package relay

import (
	"time"

	"github.com/smazurov/relaynode/internal/events"
)

// Publisher delivers events to observers. *events.Bus satisfies it.
type Publisher interface {
	Publish(ev events.Event)
}

// Recorder receives supervisor measurements. The metrics package provides
// the Prometheus implementation.
type Recorder interface {
	SessionsActive(n int)
	SessionHealth(name string, fps int)
	SessionRemoved(name string)
	SessionRestarted(name string)
	FatalError(signature string)
	HeartbeatTimeout(name string)
	LaunchFailed(name string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

type nopRecorder struct{}

func (nopRecorder) SessionsActive(int)        {}
func (nopRecorder) SessionHealth(string, int) {}
func (nopRecorder) SessionRemoved(string)     {}
func (nopRecorder) SessionRestarted(string)   {}
func (nopRecorder) FatalError(string)         {}
func (nopRecorder) HeartbeatTimeout(string)   {}
func (nopRecorder) LaunchFailed(string)       {}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// broadcast publishes a fresh snapshot of every session. It must not be
// called with any session lock held.
func (r *Registry) broadcast() {
	snap := r.Snapshot()
	r.recorder.SessionsActive(len(snap))
	r.events.Publish(events.SessionsUpdatedEvent{
		Sessions:  snap,
		Timestamp: timestamp(),
	})
}
