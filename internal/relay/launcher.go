package relay

import (
	"time"

	"github.com/smazurov/relaynode/internal/ffmpeg"
	"github.com/smazurov/relaynode/internal/logging"
	"github.com/smazurov/relaynode/internal/process"
)

// Process is a launched relay process as seen by the supervisor.
// *process.Process satisfies it.
type Process interface {
	PID() int
	Output() <-chan []byte
	Done() <-chan struct{}
	Stop(grace, killTimeout time.Duration) int
	Kill() error
	Release()
}

// Launcher starts relay processes. Spawn failures are returned, never
// retried.
type Launcher interface {
	Launch(name string, params ffmpeg.RelayParams) (Process, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(name string, params ffmpeg.RelayParams) (Process, error)

// Launch calls f.
func (f LauncherFunc) Launch(name string, params ffmpeg.RelayParams) (Process, error) {
	return f(name, params)
}

// ProcessLauncher runs ffmpeg through the process package.
type ProcessLauncher struct {
	// Binary overrides the ffmpeg executable when params leave it empty.
	Binary string
	logger logging.Logger
}

// NewProcessLauncher creates a launcher for the given ffmpeg binary.
func NewProcessLauncher(binary string) *ProcessLauncher {
	return &ProcessLauncher{Binary: binary, logger: logging.GetLogger("process")}
}

// Launch builds the relay command and starts it. Only the redacted form of
// the command is logged.
func (l *ProcessLauncher) Launch(name string, params ffmpeg.RelayParams) (Process, error) {
	if params.Binary == "" {
		params.Binary = l.Binary
	}
	inv, err := ffmpeg.BuildRelayCommand(params)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Launching relay process", "session", name, "command", inv.String())
	p, err := process.Start(inv.Args, l.logger)
	if err != nil {
		l.logger.Error("Failed to launch relay process", "session", name, "error", ffmpeg.Redact(err.Error(), params.StreamKey))
		return nil, err
	}
	l.logger.Info("Relay process started", "session", name, "pid", p.PID())
	return p, nil
}
