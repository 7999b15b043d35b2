package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRecorder(t *testing.T) (*Recorder, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewRecorder(reg), reg
}

func TestSessionMetricsCache(t *testing.T) {
	r, _ := newTestRecorder(t)

	if m := r.Get("studio"); m != nil {
		t.Error("expected nil for unknown session")
	}

	r.SessionHealth("studio", 30)
	r.SessionRestarted("studio")
	r.SessionRestarted("studio")
	r.HeartbeatTimeout("studio")

	m := r.Get("studio")
	if m == nil {
		t.Fatal("expected metrics for studio")
	}
	if m.FPS != 30 || m.Restarts != 2 || m.HeartbeatTimeouts != 1 {
		t.Errorf("cached = %+v", *m)
	}

	// Returned values are copies.
	m.FPS = 999
	if r.Get("studio").FPS != 30 {
		t.Error("cache modified through returned value")
	}

	r.SessionRemoved("studio")
	if r.Get("studio") != nil {
		t.Error("expected nil after removal")
	}
}

func TestAll(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.SessionHealth("a", 25)
	r.SessionHealth("b", 50)

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d sessions, want 2", len(all))
	}
	if all["a"].FPS != 25 || all["b"].FPS != 50 {
		t.Errorf("All() = a:%v b:%v", all["a"].FPS, all["b"].FPS)
	}
}

func TestPrometheusSeries(t *testing.T) {
	r, reg := newTestRecorder(t)

	r.SessionsActive(2)
	r.SessionHealth("studio", 24)
	r.SessionRestarted("studio")
	r.FatalError("connection_refused")
	r.FatalError("connection_refused")
	r.FatalError("http_404")
	r.HeartbeatTimeout("studio")
	r.LaunchFailed("studio")

	if v := testutil.ToFloat64(r.sessionsActive); v != 2 {
		t.Errorf("sessions_active = %v", v)
	}
	if v := testutil.ToFloat64(r.sessionFPS.WithLabelValues("studio")); v != 24 {
		t.Errorf("session_fps = %v", v)
	}
	if v := testutil.ToFloat64(r.fatalErrors.WithLabelValues("connection_refused")); v != 2 {
		t.Errorf("fatal_errors_total{connection_refused} = %v", v)
	}
	if v := testutil.ToFloat64(r.heartbeatTimeouts); v != 1 {
		t.Errorf("heartbeat_timeouts_total = %v", v)
	}
	if v := testutil.ToFloat64(r.launchFailures); v != 1 {
		t.Errorf("launch_failures_total = %v", v)
	}

	expected := `
		# HELP relaynode_session_restarts_total Automatic restarts of a relay session
		# TYPE relaynode_session_restarts_total counter
		relaynode_session_restarts_total{session="studio"} 1
	`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "relaynode_session_restarts_total"); err != nil {
		t.Error(err)
	}
}

func TestSessionRemovedDropsSeries(t *testing.T) {
	r, reg := newTestRecorder(t)
	r.SessionHealth("gone", 10)
	r.SessionRestarted("gone")
	r.FatalError("io_error")

	r.SessionRemoved("gone")

	for _, name := range []string{"relaynode_session_fps", "relaynode_session_restarts_total"} {
		n, err := testutil.GatherAndCount(reg, name)
		if err != nil {
			t.Fatalf("gather %s: %v", name, err)
		}
		if n != 0 {
			t.Errorf("%s has %d series after removal", name, n)
		}
	}
	// Signature counters are not per session.
	if n, _ := testutil.GatherAndCount(reg, "relaynode_fatal_errors_total"); n != 1 {
		t.Errorf("fatal_errors_total series = %d, want 1", n)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	r, _ := newTestRecorder(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.SessionHealth("busy", j)
				r.SessionRestarted("busy")
				_ = r.All()
			}
		}()
	}
	wg.Wait()

	if m := r.Get("busy"); m == nil || m.Restarts != 1000 {
		t.Errorf("restarts = %v, want 1000", m)
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different recorders")
	}
}
