// Package metrics provides Prometheus metrics for relay sessions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "relaynode"

// SessionMetrics holds current metric values for a session.
type SessionMetrics struct {
	FPS               float64
	Restarts          float64
	HeartbeatTimeouts float64
}

// Recorder records supervisor measurements as Prometheus metrics and keeps
// the latest per-session values for the SSE exporter.
type Recorder struct {
	sessionsActive    prometheus.Gauge
	sessionFPS        *prometheus.GaugeVec
	sessionRestarts   *prometheus.CounterVec
	fatalErrors       *prometheus.CounterVec
	heartbeatTimeouts prometheus.Counter
	launchFailures    prometheus.Counter

	mu    sync.RWMutex
	cache map[string]*SessionMetrics
}

// NewRecorder registers the relay metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_active",
			Help:      "Number of registered relay sessions",
		}),
		sessionFPS: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "fps",
			Help:      "Frames per second reported by the relay process",
		}, []string{"session"}),
		sessionRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "restarts_total",
			Help:      "Automatic restarts of a relay session",
		}, []string{"session"}),
		fatalErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fatal_errors_total",
			Help:      "Fatal relay errors by matched signature",
		}, []string{"signature"}),
		heartbeatTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Relay generations ended for lack of output",
		}),
		launchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "launch_failures_total",
			Help:      "Relay processes that failed to spawn",
		}),
		cache: make(map[string]*SessionMetrics),
	}
}

var defaultRecorder = sync.OnceValue(func() *Recorder {
	return NewRecorder(prometheus.DefaultRegisterer)
})

// Default returns the recorder registered with the default Prometheus
// registry, which exporters.HTTPHandler serves.
func Default() *Recorder {
	return defaultRecorder()
}

// SessionsActive sets the number of registered sessions.
func (r *Recorder) SessionsActive(n int) {
	r.sessionsActive.Set(float64(n))
}

// SessionHealth sets the current FPS of a session.
func (r *Recorder) SessionHealth(name string, fps int) {
	r.sessionFPS.WithLabelValues(name).Set(float64(fps))
	r.update(name, func(m *SessionMetrics) { m.FPS = float64(fps) })
}

// SessionRestarted counts one automatic restart.
func (r *Recorder) SessionRestarted(name string) {
	r.sessionRestarts.WithLabelValues(name).Inc()
	r.update(name, func(m *SessionMetrics) { m.Restarts++ })
}

// FatalError counts one fatal line by signature name.
func (r *Recorder) FatalError(signature string) {
	r.fatalErrors.WithLabelValues(signature).Inc()
}

// HeartbeatTimeout counts one heartbeat expiry.
func (r *Recorder) HeartbeatTimeout(name string) {
	r.heartbeatTimeouts.Inc()
	r.update(name, func(m *SessionMetrics) { m.HeartbeatTimeouts++ })
}

// LaunchFailed counts one spawn failure.
func (r *Recorder) LaunchFailed(string) {
	r.launchFailures.Inc()
}

// SessionRemoved drops every per-session series of name.
func (r *Recorder) SessionRemoved(name string) {
	r.sessionFPS.DeleteLabelValues(name)
	r.sessionRestarts.DeleteLabelValues(name)

	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}

// Get returns current metric values for a session.
func (r *Recorder) Get(name string) *SessionMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.cache[name]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// All returns metrics for every tracked session.
func (r *Recorder) All() map[string]*SessionMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*SessionMetrics, len(r.cache))
	for name, m := range r.cache {
		dup := *m
		result[name] = &dup
	}
	return result
}

func (r *Recorder) update(name string, fn func(*SessionMetrics)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.cache[name]
	if !ok {
		m = &SessionMetrics{}
		r.cache[name] = m
	}
	fn(m)
}
