package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/relaynode/internal/catalog"
	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/logging"
	"github.com/smazurov/relaynode/internal/relay"
)

// StreamKeyEnv supplies the stream key when --key is not given, keeping
// it out of the process list.
const StreamKeyEnv = "RELAYNODE_STREAM_KEY"

// cliUser owns sessions started from the command line.
const cliUser = "cli"

// RelayOptions describes one foreground relay.
type RelayOptions struct {
	Input       string
	Source      string
	CatalogFile string
	Destination string
	Endpoint    string
	StreamKey   string
	Binary      string
	Config      relay.Config
}

// params resolves the input against the catalog when a source is named.
func (o RelayOptions) params(name string) (relay.StartParams, error) {
	p := relay.StartParams{
		Name:        name,
		Input:       o.Input,
		Destination: o.Destination,
		Endpoint:    o.Endpoint,
		StreamKey:   o.StreamKey,
		Owner:       cliUser,
	}
	if p.StreamKey == "" {
		return p, fmt.Errorf("stream key required: pass --key or set %s", StreamKeyEnv)
	}

	switch {
	case o.Source != "" && o.Input != "":
		return p, errors.New("give either --source or --input, not both")
	case o.Source != "":
		cat := catalog.New(o.CatalogFile)
		if err := cat.Load(); err != nil {
			return p, fmt.Errorf("load catalog: %w", err)
		}
		src, ok := cat.Lookup(o.Source)
		if !ok {
			return p, fmt.Errorf("source %q not in catalog %s", o.Source, o.CatalogFile)
		}
		p.Input = src.Input
		p.SourceName = src.Name
	}
	return p, nil
}

// RunRelay supervises one session until it fails or ctx is cancelled and
// returns the process exit code: 0 after a requested stop, 1 when the
// session could not start or used up its restarts.
func RunRelay(ctx context.Context, name string, o RelayOptions, launcher relay.Launcher, logger *slog.Logger) int {
	params, err := o.params(name)
	if err != nil {
		logger.Error("Invalid relay options", "error", err)
		return 1
	}

	bus := events.New()
	failed := make(chan events.SessionFailedEvent, 1)
	unsubs := []func(){
		bus.Subscribe(func(e events.SessionFailedEvent) {
			select {
			case failed <- e:
			default:
			}
		}),
		bus.Subscribe(func(e events.SessionRestartedEvent) {
			logger.Warn("Relay restarted", "attempt", e.Attempt, "max_attempts", e.MaxAttempts)
		}),
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	reg := relay.NewRegistry(&relay.RegistryOptions{
		Launcher: launcher,
		Events:   bus,
		Config:   o.Config,
	})
	defer reg.Shutdown()

	if err := reg.Start(ctx, params); err != nil {
		logger.Error("Failed to start relay", "error", err)
		return 1
	}
	logger.Info("Relay running", "input", params.Input, "destination", params.Destination)

	select {
	case e := <-failed:
		logger.Error("Relay failed", "restarts", e.RestartCount, "last_error", e.LastError)
		return 1
	case <-ctx.Done():
		if err := reg.Stop(context.Background(), name, relay.RoleMasterAdmin, cliUser); err != nil {
			logger.Warn("Stop failed", "error", err)
		}
		logger.Info("Relay stopped")
		return 0
	}
}

// CreateRelayCmd creates the relay command.
func CreateRelayCmd() *cobra.Command {
	var (
		o           RelayOptions
		maxRestarts int
		logJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "relay [name]",
		Short: "Supervise one relay session in the foreground",
		Long: `Runs a single relay with the same health monitoring and restart policy as the server. ` +
			`The stream key is read from --key or ` + StreamKeyEnv + `. Exits when the relay fails for good ` +
			`or on SIGINT/SIGTERM.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			name := args[0]

			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("relay").With("session", name)

			if o.StreamKey == "" {
				o.StreamKey = os.Getenv(StreamKeyEnv)
			}
			o.Config.MaxRestartAttempts = maxRestarts
			if maxRestarts == 0 {
				o.Config.MaxRestartAttempts = -1
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			code := RunRelay(ctx, name, o, relay.NewProcessLauncher(o.Binary), logger)
			_ = logging.Close()
			os.Exit(code)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.Input, "input", "", "Input locator, e.g. rtmp://host/live/stream")
	flags.StringVar(&o.Source, "source", "", "Catalog source name (alternative to --input)")
	flags.StringVar(&o.CatalogFile, "catalog", "catalog.toml", "Catalog file for --source")
	flags.StringVar(&o.Destination, "destination", "youtube", "youtube, facebook, instagram, or an rtmp(s) endpoint")
	flags.StringVar(&o.Endpoint, "endpoint", "", "Endpoint for a custom destination")
	flags.StringVar(&o.StreamKey, "key", "", "Destination stream key (prefer "+StreamKeyEnv+")")
	flags.StringVar(&o.Binary, "ffmpeg-binary", "ffmpeg", "ffmpeg executable")
	flags.IntVar(&maxRestarts, "max-restarts", 3, "Automatic restarts before giving up (0 disables)")
	flags.DurationVar(&o.Config.RestartDelay, "restart-delay", 5*time.Second, "Delay before each restart")
	flags.DurationVar(&o.Config.HeartbeatTimeout, "heartbeat-timeout", 30*time.Second, "Restart when the relay prints nothing for this long")
	flags.DurationVar(&o.Config.GracePeriod, "grace-period", 3*time.Second, "Time between SIGINT and SIGKILL on stop")
	flags.BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}
