package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/ffmpeg"
)

func testConfig() Config {
	return Config{
		MaxRestartAttempts: 3,
		RestartDelay:       10 * time.Millisecond,
		HeartbeatTimeout:   5 * time.Second,
		PollInterval:       10 * time.Millisecond,
		GracePeriod:        50 * time.Millisecond,
		KillTimeout:        50 * time.Millisecond,
		DrainTimeout:       20 * time.Millisecond,
	}
}

type fakeProcess struct {
	pid  int
	out  chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	stops    int
	released bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{
		pid:  pid,
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Output() <-chan []byte { return p.out }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) write(s string)        { p.out <- []byte(s) }

func (p *fakeProcess) Kill() error {
	p.exit()
	return nil
}

func (p *fakeProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// exit simulates the process ending. Output is closed with it, so tests
// must not write after calling exit.
func (p *fakeProcess) exit() {
	p.once.Do(func() {
		close(p.out)
		close(p.done)
	})
}

func (p *fakeProcess) Stop(_, _ time.Duration) int {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	p.exit()
	return 130
}

func (p *fakeProcess) Release() {
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()
}

func (p *fakeProcess) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

var errSpawn = errors.New("exec: \"ffmpeg\": executable file not found in $PATH")

type fakeLauncher struct {
	mu       sync.Mutex
	launches []ffmpeg.RelayParams
	procs    []*fakeProcess
	// failOn reports whether the n-th launch (1-based) fails.
	failOn  func(n int) bool
	started chan *fakeProcess
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{started: make(chan *fakeProcess, 64)}
}

func (l *fakeLauncher) Launch(_ string, params ffmpeg.RelayParams) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, params)
	if l.failOn != nil && l.failOn(len(l.launches)) {
		return nil, errSpawn
	}
	p := newFakeProcess(1000 + len(l.launches))
	l.procs = append(l.procs, p)
	l.started <- p
	return p, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launches)
}

// next returns the next launched process.
func (l *fakeLauncher) next(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-l.started:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for launch")
		return nil
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

func (p *recordingPublisher) count(typ uint32) int {
	n := 0
	for _, ev := range p.all() {
		if ev.Type() == typ {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) snapshots() []events.SessionsUpdatedEvent {
	var out []events.SessionsUpdatedEvent
	for _, ev := range p.all() {
		if e, ok := ev.(events.SessionsUpdatedEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

type countingRecorder struct {
	mu         sync.Mutex
	fatal      map[string]int
	heartbeats int
	restarts   int
	launchFail int
	removed    int
	active     int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{fatal: make(map[string]int)}
}

func (c *countingRecorder) update(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

func (c *countingRecorder) SessionsActive(n int)      { c.update(func() { c.active = n }) }
func (c *countingRecorder) SessionHealth(string, int) {}
func (c *countingRecorder) SessionRemoved(string)     { c.update(func() { c.removed++ }) }
func (c *countingRecorder) SessionRestarted(string)   { c.update(func() { c.restarts++ }) }
func (c *countingRecorder) FatalError(sig string)     { c.update(func() { c.fatal[sig]++ }) }
func (c *countingRecorder) HeartbeatTimeout(string)   { c.update(func() { c.heartbeats++ }) }
func (c *countingRecorder) LaunchFailed(string)       { c.update(func() { c.launchFail++ }) }

func (c *countingRecorder) get(fn func(*countingRecorder) int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c)
}

type harness struct {
	reg      *Registry
	launcher *fakeLauncher
	events   *recordingPublisher
	recorder *countingRecorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		launcher: newFakeLauncher(),
		events:   &recordingPublisher{},
		recorder: newCountingRecorder(),
	}
	h.reg = NewRegistry(&RegistryOptions{
		Launcher: h.launcher,
		Events:   h.events,
		Recorder: h.recorder,
		Config:   cfg,
	})
	t.Cleanup(h.reg.Shutdown)
	return h
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf(format, args...)
}
