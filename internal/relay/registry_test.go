package relay

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/ffmpeg"
	"github.com/smazurov/relaynode/internal/types"
)

const testKey = "live_8f3k-2hq9-zz71"

func youtubeParams(name string) StartParams {
	return StartParams{
		Name:        name,
		Input:       "rtsp://camera.local:8554/main",
		Destination: "youtube",
		StreamKey:   testKey,
		Owner:       "alice",
	}
}

func mustStart(t *testing.T, h *harness, p StartParams) *fakeProcess {
	t.Helper()
	if err := h.reg.Start(context.Background(), p); err != nil {
		t.Fatalf("Start(%s) error = %v", p.Name, err)
	}
	return h.launcher.next(t)
}

func mustGet(t *testing.T, r *Registry, name string) types.SessionView {
	t.Helper()
	v, ok := r.Get(name)
	if !ok {
		t.Fatalf("session %s not found", name)
	}
	return v
}

func TestStartRegistersSession(t *testing.T) {
	h := newHarness(t, testConfig())
	p := youtubeParams("studio")
	p.SourceName = "Studio A"
	mustStart(t, h, p)

	v := mustGet(t, h.reg, "studio")
	if v.Status != types.StatusActive {
		t.Errorf("status = %s, want active", v.Status)
	}
	if v.Generation != 1 {
		t.Errorf("generation = %d, want 1", v.Generation)
	}
	if v.Health.FPS != 0 || v.Health.Bitrate != ZeroBitrate {
		t.Errorf("initial health = %+v", v.Health)
	}
	if v.Health.RestartCount != 0 || v.Health.LastError != nil || v.Health.LastRestartAt != nil {
		t.Errorf("initial health carries history: %+v", v.Health)
	}
	if v.SourceName != "Studio A" || v.Owner != "alice" {
		t.Errorf("labels = %q/%q", v.SourceName, v.Owner)
	}
	if v.Destination != string(ffmpeg.DestinationYouTube) || v.Endpoint != "" {
		t.Errorf("destination = %q endpoint = %q", v.Destination, v.Endpoint)
	}

	if got := h.events.count(events.TypeSessionStarted); got != 1 {
		t.Errorf("started events = %d, want 1", got)
	}
	snaps := h.events.snapshots()
	if len(snaps) == 0 {
		t.Fatal("no snapshot broadcast after start")
	}
	if _, ok := snaps[len(snaps)-1].Sessions["studio"]; !ok {
		t.Error("latest snapshot is missing the new session")
	}
	if h.recorder.get(func(c *countingRecorder) int { return c.active }) != 1 {
		t.Error("active gauge not updated")
	}
}

func TestStartDefaultsSourceName(t *testing.T) {
	h := newHarness(t, testConfig())
	mustStart(t, h, youtubeParams("cam"))
	if v := mustGet(t, h.reg, "cam"); v.SourceName != DefaultSourceName {
		t.Errorf("source name = %q, want %q", v.SourceName, DefaultSourceName)
	}
}

func TestSnapshotNeverContainsStreamKey(t *testing.T) {
	h := newHarness(t, testConfig())
	mustStart(t, h, youtubeParams("yt"))
	mustStart(t, h, StartParams{
		Name:        "custom",
		Input:       "srt://10.0.0.5:9000",
		Destination: "rtmp://ingest.example.com/live/",
		StreamKey:   testKey,
		Owner:       "bob",
	})

	v := mustGet(t, h.reg, "custom")
	if v.Endpoint != "rtmp://ingest.example.com/live/" {
		t.Errorf("custom endpoint = %q", v.Endpoint)
	}

	data, err := json.Marshal(h.reg.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if strings.Contains(string(data), testKey) {
		t.Errorf("snapshot leaks stream key: %s", data)
	}
	for _, snap := range h.events.snapshots() {
		data, _ := json.Marshal(snap)
		if strings.Contains(string(data), testKey) {
			t.Fatalf("broadcast leaks stream key: %s", data)
		}
	}
}

func TestStartRejectsDuplicateName(t *testing.T) {
	h := newHarness(t, testConfig())
	mustStart(t, h, youtubeParams("dup"))

	err := h.reg.Start(context.Background(), youtubeParams("dup"))
	if !IsCode(err, ErrCodeSessionExists) {
		t.Fatalf("duplicate start error = %v, want %s", err, ErrCodeSessionExists)
	}
	if h.launcher.launchCount() != 1 {
		t.Errorf("duplicate start launched a process")
	}
}

func TestStartConcurrentDuplicates(t *testing.T) {
	h := newHarness(t, testConfig())

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.reg.Start(context.Background(), youtubeParams("race"))
		}()
	}
	wg.Wait()
	close(errs)

	ok, exists := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case IsCode(err, ErrCodeSessionExists):
			exists++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || exists != n-1 {
		t.Errorf("successes = %d, duplicates = %d", ok, exists)
	}
	if h.launcher.launchCount() != 1 {
		t.Errorf("launches = %d, want 1", h.launcher.launchCount())
	}
}

func TestStartInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		params StartParams
	}{
		{"empty name", StartParams{Input: "a.mp4", Destination: "youtube", StreamKey: "k"}},
		{"blank name", StartParams{Name: "  ", Input: "a.mp4", Destination: "youtube"}},
		{"empty input", StartParams{Name: "x", Destination: "youtube", StreamKey: "k"}},
		{"no destination", StartParams{Name: "x", Input: "a.mp4", StreamKey: "k"}},
	}

	h := newHarness(t, testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.reg.Start(context.Background(), tt.params)
			if !IsCode(err, ErrCodeInvalidParams) {
				t.Errorf("error = %v, want %s", err, ErrCodeInvalidParams)
			}
		})
	}
	if h.launcher.launchCount() != 0 {
		t.Errorf("invalid params reached the launcher")
	}
	if h.reg.Len() != 0 {
		t.Errorf("registry not empty")
	}
}

func TestStartLaunchFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t, testConfig())
	h.launcher.failOn = func(n int) bool { return n == 1 }

	err := h.reg.Start(context.Background(), youtubeParams("broken"))
	if !IsCode(err, ErrCodeLaunchFailed) {
		t.Fatalf("error = %v, want %s", err, ErrCodeLaunchFailed)
	}
	if h.reg.Len() != 0 {
		t.Errorf("failed session still registered")
	}
	if h.events.count(events.TypeSessionStarted) != 0 {
		t.Errorf("started event published for failed launch")
	}
	if h.recorder.get(func(c *countingRecorder) int { return c.launchFail }) != 1 {
		t.Errorf("launch failure not recorded")
	}

	// The name is free again.
	mustStart(t, h, youtubeParams("broken"))
}

func TestStopPermissions(t *testing.T) {
	tests := []struct {
		name   string
		role   string
		user   string
		wantOK bool
	}{
		{"owner", RoleUser, "alice", true},
		{"other user", RoleUser, "mallory", false},
		{"anonymous", RoleUser, "", false},
		{"admin", RoleAdmin, "root", true},
		{"master admin", RoleMasterAdmin, "boss", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			proc := mustStart(t, h, youtubeParams("perm"))

			err := h.reg.Stop(context.Background(), "perm", tt.role, tt.user)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("Stop error = %v", err)
				}
				if StopMessage(err) != MsgStopped {
					t.Errorf("message = %q", StopMessage(err))
				}
				if !proc.exited() {
					t.Error("process still running after Stop")
				}
				if h.reg.Len() != 0 {
					t.Error("session still registered after Stop")
				}
				return
			}
			if !IsCode(err, ErrCodePermissionDenied) {
				t.Fatalf("Stop error = %v, want %s", err, ErrCodePermissionDenied)
			}
			if StopMessage(err) != MsgPermissionDenied {
				t.Errorf("message = %q", StopMessage(err))
			}
			if proc.exited() {
				t.Error("denied stop terminated the process")
			}
			if v := mustGet(t, h.reg, "perm"); v.Status != types.StatusActive {
				t.Errorf("status = %s after denied stop", v.Status)
			}
		})
	}
}

func TestStopUnknownSession(t *testing.T) {
	h := newHarness(t, testConfig())
	err := h.reg.Stop(context.Background(), "ghost", RoleMasterAdmin, "boss")
	if !IsCode(err, ErrCodeSessionNotFound) {
		t.Fatalf("error = %v, want %s", err, ErrCodeSessionNotFound)
	}
	if StopMessage(err) != MsgNotFound {
		t.Errorf("message = %q", StopMessage(err))
	}
}

func TestStopBroadcastsStoppedThenRemoves(t *testing.T) {
	h := newHarness(t, testConfig())
	mustStart(t, h, youtubeParams("bye"))

	if err := h.reg.Stop(context.Background(), "bye", RoleUser, "alice"); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
	// A second stop finds nothing.
	if err := h.reg.Stop(context.Background(), "bye", RoleUser, "alice"); !IsCode(err, ErrCodeSessionNotFound) {
		t.Errorf("second Stop error = %v", err)
	}

	sawStopped := false
	for _, snap := range h.events.snapshots() {
		if v, ok := snap.Sessions["bye"]; ok && v.Status == types.StatusStopped {
			sawStopped = true
		}
	}
	if !sawStopped {
		t.Error("no snapshot carried the stopped status")
	}
	snaps := h.events.snapshots()
	if _, ok := snaps[len(snaps)-1].Sessions["bye"]; ok {
		t.Error("final snapshot still lists the stopped session")
	}

	var stopped *events.SessionStoppedEvent
	for _, ev := range h.events.all() {
		if e, ok := ev.(events.SessionStoppedEvent); ok {
			stopped = &e
		}
	}
	if stopped == nil {
		t.Fatal("no stopped event")
	}
	if stopped.StoppedBy != "alice" || stopped.ExitCode != 130 {
		t.Errorf("stopped event = %+v", *stopped)
	}
	if h.recorder.get(func(c *countingRecorder) int { return c.removed }) != 1 {
		t.Error("removal not recorded")
	}
}

func TestProgressUpdatesHealth(t *testing.T) {
	h := newHarness(t, testConfig())
	proc := mustStart(t, h, youtubeParams("prog"))

	proc.write("frame=  250 fps= 25 q=-1.0 size=  2048kB time=00:00:10.00 bitrate=1677.7kbits/s speed=1x\r")
	eventually(t, time.Second, func() bool {
		v := mustGet(t, h.reg, "prog")
		return v.Health.FPS == 25 && v.Health.Bitrate == "1677.7kbits/s"
	}, "progress line not applied: %+v", mustGet(t, h.reg, "prog").Health)

	// Split across reads, then a malformed value.
	proc.write("frame=  300 fps=3")
	proc.write("0 bitrate=1700kbits/s\n")
	eventually(t, time.Second, func() bool {
		return mustGet(t, h.reg, "prog").Health.FPS == 30
	}, "split progress line not reassembled")

	proc.write("fps=abc\n")
	time.Sleep(50 * time.Millisecond)
	if v := mustGet(t, h.reg, "prog"); v.Health.FPS != 30 || v.Status != types.StatusActive {
		t.Errorf("malformed fps changed state: %+v", v)
	}
}

func TestErrorLineSetsWarning(t *testing.T) {
	h := newHarness(t, testConfig())
	proc := mustStart(t, h, youtubeParams("warn"))

	proc.write("[h264 @ 0x55d] error while decoding MB 12 34\n")
	eventually(t, time.Second, func() bool {
		return mustGet(t, h.reg, "warn").Status == types.StatusWarning
	}, "error line did not set warning")

	v := mustGet(t, h.reg, "warn")
	if v.Health.LastError == nil || !strings.Contains(*v.Health.LastError, "error while decoding") {
		t.Errorf("last error = %v", v.Health.LastError)
	}
	if proc.stopCount() != 0 || h.launcher.launchCount() != 1 {
		t.Error("non-fatal error restarted the process")
	}
}

func TestFatalLineRestartsWithFreshHealth(t *testing.T) {
	h := newHarness(t, testConfig())
	first := mustStart(t, h, youtubeParams("fatal"))

	first.write("frame=10 fps=24 bitrate=800kbits/s\n")
	first.write("[rtmp @ 0x1] Connection refused rtmp://a.rtmp.youtube.com/live2/" + testKey + "\n")

	second := h.launcher.next(t)
	if !first.exited() {
		t.Error("first generation not terminated")
	}
	eventually(t, time.Second, func() bool {
		return mustGet(t, h.reg, "fatal").Generation == 2
	}, "generation did not advance")

	v := mustGet(t, h.reg, "fatal")
	if v.Status != types.StatusActive {
		t.Errorf("status = %s, want active", v.Status)
	}
	if v.Health.FPS != 0 || v.Health.Bitrate != ZeroBitrate || v.Health.LastError != nil {
		t.Errorf("health not reset: %+v", v.Health)
	}
	if v.Health.RestartCount != 1 || v.Health.LastRestartAt == nil {
		t.Errorf("restart not counted: %+v", v.Health)
	}
	if h.events.count(events.TypeSessionRestarted) != 1 {
		t.Errorf("restarted events = %d", h.events.count(events.TypeSessionRestarted))
	}
	if h.recorder.get(func(c *countingRecorder) int { return c.fatal["connection_refused"] }) != 1 {
		t.Error("fatal signature not recorded")
	}

	sawFailed := false
	for _, snap := range h.events.snapshots() {
		s, ok := snap.Sessions["fatal"]
		if !ok || s.Status != types.StatusFailed {
			continue
		}
		sawFailed = true
		if s.Health.LastError == nil {
			t.Fatal("failed snapshot without last error")
		}
		if strings.Contains(*s.Health.LastError, testKey) {
			t.Errorf("last error leaks stream key: %s", *s.Health.LastError)
		}
		if !strings.Contains(*s.Health.LastError, ffmpeg.RedactedKey) {
			t.Errorf("last error not redacted: %s", *s.Health.LastError)
		}
	}
	if !sawFailed {
		t.Error("failed status never broadcast")
	}

	// The new generation is monitored.
	second.write("fps=29\n")
	eventually(t, time.Second, func() bool {
		return mustGet(t, h.reg, "fatal").Health.FPS == 29
	}, "second generation output ignored")
}

func TestFatalLineBeforeExitIsDrained(t *testing.T) {
	h := newHarness(t, testConfig())
	first := mustStart(t, h, youtubeParams("drain"))

	first.write("av_interleaved_write_frame(): Broken pipe\nInput/output error")
	first.exit()

	h.launcher.next(t)
	eventually(t, time.Second, func() bool {
		return h.recorder.get(func(c *countingRecorder) int { return c.fatal["io_error"] }) == 1
	}, "unterminated fatal line lost at exit")
}

func TestRestartsExhausted(t *testing.T) {
	h := newHarness(t, testConfig())

	stopExits := make(chan struct{})
	defer close(stopExits)
	go func() {
		for {
			select {
			case p := <-h.launcher.started:
				p.exit()
			case <-stopExits:
				return
			}
		}
	}()

	if err := h.reg.Start(context.Background(), youtubeParams("flaky")); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	eventually(t, 2*time.Second, func() bool {
		return h.events.count(events.TypeSessionFailed) == 1
	}, "session never failed")

	if got := h.launcher.launchCount(); got != 4 {
		t.Errorf("launches = %d, want 1 + 3 restarts", got)
	}
	if h.reg.Len() != 0 {
		t.Error("failed session still registered")
	}
	if got := h.events.count(events.TypeSessionRestarted); got != 3 {
		t.Errorf("restarted events = %d, want 3", got)
	}

	sawFailed := false
	for _, snap := range h.events.snapshots() {
		if v, ok := snap.Sessions["flaky"]; ok && v.Status == types.StatusFailed && v.Health.RestartCount == 3 {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Error("failed status never broadcast before removal")
	}
	snaps := h.events.snapshots()
	if len(snaps[len(snaps)-1].Sessions) != 0 {
		t.Error("final snapshot not empty")
	}
}

func TestRelaunchFailureConsumesAttempt(t *testing.T) {
	h := newHarness(t, testConfig())
	h.launcher.failOn = func(n int) bool { return n > 1 }

	first := mustStart(t, h, youtubeParams("nobin"))
	first.exit()

	eventually(t, 2*time.Second, func() bool {
		return h.events.count(events.TypeSessionFailed) == 1
	}, "session never failed")

	if got := h.launcher.launchCount(); got != 4 {
		t.Errorf("launches = %d, want 4", got)
	}
	if got := h.recorder.get(func(c *countingRecorder) int { return c.launchFail }); got != 3 {
		t.Errorf("launch failures = %d, want 3", got)
	}
	if h.events.count(events.TypeSessionRestarted) != 0 {
		t.Error("restarted event published for failed relaunch")
	}

	for _, ev := range h.events.all() {
		if e, ok := ev.(events.SessionFailedEvent); ok {
			if !strings.Contains(e.LastError, "executable file not found") {
				t.Errorf("failed event last error = %q", e.LastError)
			}
			if e.RestartCount != 3 {
				t.Errorf("failed event restart count = %d", e.RestartCount)
			}
		}
	}
}

func TestHeartbeatTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatTimeout = 60 * time.Millisecond
	cfg.MaxRestartAttempts = -1
	h := newHarness(t, cfg)

	proc := mustStart(t, h, youtubeParams("silent"))

	eventually(t, 2*time.Second, func() bool {
		return h.events.count(events.TypeSessionFailed) == 1
	}, "silent process not failed")

	if !proc.exited() || proc.stopCount() == 0 {
		t.Error("silent process not stopped")
	}
	if h.recorder.get(func(c *countingRecorder) int { return c.heartbeats }) != 1 {
		t.Error("heartbeat timeout not recorded")
	}
	if h.launcher.launchCount() != 1 {
		t.Errorf("restarted with restarts disabled")
	}
	for _, ev := range h.events.all() {
		if e, ok := ev.(events.SessionFailedEvent); ok && !strings.HasPrefix(e.LastError, "no output for") {
			t.Errorf("failed event last error = %q", e.LastError)
		}
	}
}

func TestOutputResetsHeartbeat(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatTimeout = 80 * time.Millisecond
	h := newHarness(t, cfg)
	proc := mustStart(t, h, youtubeParams("chatty"))

	for i := 0; i < 8; i++ {
		proc.write("fps=30\n")
		time.Sleep(25 * time.Millisecond)
	}
	if h.recorder.get(func(c *countingRecorder) int { return c.heartbeats }) != 0 {
		t.Error("heartbeat expired while output was flowing")
	}
	if proc.exited() {
		t.Error("healthy process terminated")
	}
}

func TestStopDuringRestartDelay(t *testing.T) {
	cfg := testConfig()
	cfg.RestartDelay = time.Second
	h := newHarness(t, cfg)

	proc := mustStart(t, h, youtubeParams("pause"))
	proc.exit()

	eventually(t, time.Second, func() bool {
		return mustGet(t, h.reg, "pause").Health.RestartCount == 1
	}, "restart not scheduled")

	start := time.Now()
	if err := h.reg.Stop(context.Background(), "pause", RoleAdmin, "root"); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Stop waited for the restart delay")
	}
	if got := proc.stopCount(); got != 1 {
		t.Errorf("ended generation stopped %d times, want 1", got)
	}

	time.Sleep(1200 * time.Millisecond)
	if got := h.launcher.launchCount(); got != 1 {
		t.Errorf("launches = %d after stop, want 1", got)
	}
	if h.reg.Len() != 0 {
		t.Error("session still registered")
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	h := newHarness(t, testConfig())
	a := mustStart(t, h, youtubeParams("a"))
	b := mustStart(t, h, youtubeParams("b"))

	h.reg.Shutdown()

	if !a.exited() || !b.exited() {
		t.Error("processes still running after shutdown")
	}
	if h.reg.Len() != 0 {
		t.Errorf("sessions left: %d", h.reg.Len())
	}
	err := h.reg.Start(context.Background(), youtubeParams("late"))
	if !IsCode(err, ErrCodeShuttingDown) {
		t.Errorf("Start after shutdown error = %v", err)
	}
	snaps := h.events.snapshots()
	if len(snaps[len(snaps)-1].Sessions) != 0 {
		t.Error("final snapshot not empty")
	}
}

func TestFatalLineTerminatesWithinPollInterval(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 200 * time.Millisecond
	cfg.RestartDelay = time.Second
	h := newHarness(t, cfg)
	proc := mustStart(t, h, youtubeParams("bound"))

	start := time.Now()
	proc.write("Connection timed out\n")
	eventually(t, cfg.PollInterval, func() bool {
		return proc.stopCount() == 1
	}, "fatal line not acted on within %v", cfg.PollInterval)
	t.Logf("terminated %v after the fatal line", time.Since(start))
}

func TestSteadyProgressRefreshesHealthCheck(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 20 * time.Millisecond
	h := newHarness(t, cfg)
	proc := mustStart(t, h, youtubeParams("steady"))

	const line = "frame=1 fps=30 bitrate=900kbits/s\r"
	proc.write(line)
	eventually(t, time.Second, func() bool {
		return mustGet(t, h.reg, "steady").Health.FPS == 30
	}, "progress not applied")

	// A burst of identical lines is not a broadcast per line.
	before := len(h.events.snapshots())
	proc.write(strings.Repeat(line, 50))
	time.Sleep(50 * time.Millisecond)
	if got := len(h.events.snapshots()) - before; got > 2 {
		t.Errorf("burst of unchanged lines caused %d snapshots", got)
	}

	before = len(h.events.snapshots())
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		proc.write(line)
	}
	eventually(t, time.Second, func() bool {
		return len(h.events.snapshots())-before >= 4
	}, "unchanged progress never refreshed observers")

	snaps := h.events.snapshots()
	last := snaps[len(snaps)-1].Sessions["steady"]
	if age := time.Since(last.Health.LastHealthCheckAt); age > 200*time.Millisecond {
		t.Errorf("broadcast health check is %v old", age)
	}
}

// gatedLauncher blocks the launch numbered blockOn until release is called.
type gatedLauncher struct {
	*fakeLauncher
	blockOn int
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (l *gatedLauncher) Launch(name string, params ffmpeg.RelayParams) (Process, error) {
	if l.launchCount()+1 == l.blockOn {
		close(l.entered)
		<-l.gate
	}
	return l.fakeLauncher.Launch(name, params)
}

func (l *gatedLauncher) release() { l.once.Do(func() { close(l.gate) }) }

func newGatedHarness(t *testing.T, cfg Config, blockOn int) (*harness, *gatedLauncher) {
	t.Helper()
	gl := &gatedLauncher{
		fakeLauncher: newFakeLauncher(),
		blockOn:      blockOn,
		entered:      make(chan struct{}),
		gate:         make(chan struct{}),
	}
	h := &harness{launcher: gl.fakeLauncher, events: &recordingPublisher{}, recorder: newCountingRecorder()}
	h.reg = NewRegistry(&RegistryOptions{Launcher: gl, Events: h.events, Recorder: h.recorder, Config: cfg})
	t.Cleanup(h.reg.Shutdown)
	t.Cleanup(gl.release)
	return h, gl
}

// within fails the test if fn does not return in d.
func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s blocked behind a launch", what)
	}
}

func TestSlowStartDoesNotBlockQueries(t *testing.T) {
	h, gl := newGatedHarness(t, testConfig(), 2)
	mustStart(t, h, youtubeParams("fast"))

	startErr := make(chan error, 1)
	go func() { startErr <- h.reg.Start(context.Background(), youtubeParams("slow")) }()
	<-gl.entered

	within(t, 200*time.Millisecond, "Snapshot", func() {
		snap := h.reg.Snapshot()
		if _, ok := snap["fast"]; !ok {
			t.Error("snapshot lost the running session")
		}
		if _, ok := snap["slow"]; ok {
			t.Error("snapshot lists a session still launching")
		}
	})
	within(t, 200*time.Millisecond, "Stop", func() {
		if err := h.reg.Stop(context.Background(), "slow", RoleAdmin, "root"); !IsCode(err, ErrCodeSessionNotFound) {
			t.Errorf("Stop of launching session error = %v", err)
		}
	})
	if err := h.reg.Start(context.Background(), youtubeParams("slow")); !IsCode(err, ErrCodeSessionExists) {
		t.Errorf("duplicate Start during launch error = %v", err)
	}

	gl.release()
	if err := <-startErr; err != nil {
		t.Fatalf("Start error = %v", err)
	}
	h.launcher.next(t)
	if v := mustGet(t, h.reg, "slow"); v.Status != types.StatusActive {
		t.Errorf("status = %s, want active", v.Status)
	}
}

func TestStopDuringSlowRelaunch(t *testing.T) {
	h, gl := newGatedHarness(t, testConfig(), 2)
	first := mustStart(t, h, youtubeParams("respawn"))
	first.exit()
	<-gl.entered

	within(t, 200*time.Millisecond, "Snapshot", func() {
		if _, ok := h.reg.Snapshot()["respawn"]; !ok {
			t.Error("session missing while relaunching")
		}
	})
	within(t, 200*time.Millisecond, "Stop", func() {
		if err := h.reg.Stop(context.Background(), "respawn", RoleUser, "alice"); err != nil {
			t.Errorf("Stop error = %v", err)
		}
	})

	gl.release()
	second := h.launcher.next(t)
	eventually(t, time.Second, second.exited, "process spawned after stop left running")
	if got := second.stopCount(); got != 1 {
		t.Errorf("late process stopped %d times, want 1", got)
	}
	if h.reg.Len() != 0 {
		t.Error("stopped session still registered")
	}
	if h.events.count(events.TypeSessionRestarted) != 0 {
		t.Error("restart announced for a stopped session")
	}
}

func TestShutdownDuringFirstLaunch(t *testing.T) {
	h, gl := newGatedHarness(t, testConfig(), 1)

	startErr := make(chan error, 1)
	go func() { startErr <- h.reg.Start(context.Background(), youtubeParams("late")) }()
	<-gl.entered

	shutdown := make(chan struct{})
	go func() {
		h.reg.Shutdown()
		close(shutdown)
	}()
	eventually(t, time.Second, func() bool { return h.reg.ctx.Err() != nil }, "shutdown never cancelled")
	gl.release()

	if err := <-startErr; !IsCode(err, ErrCodeShuttingDown) {
		t.Errorf("Start error = %v, want shutting down", err)
	}
	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}
	if p := h.launcher.next(t); !p.exited() {
		t.Error("process launched during shutdown left running")
	}
	if h.reg.Len() != 0 {
		t.Errorf("sessions left: %d", h.reg.Len())
	}
}
