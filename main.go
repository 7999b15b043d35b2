package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/relaynode/cmd"
	"github.com/smazurov/relaynode/internal/api"
	"github.com/smazurov/relaynode/internal/catalog"
	"github.com/smazurov/relaynode/internal/config"
	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/logging"
	"github.com/smazurov/relaynode/internal/metrics"
	"github.com/smazurov/relaynode/internal/metrics/exporters"
	"github.com/smazurov/relaynode/internal/nats"
	"github.com/smazurov/relaynode/internal/relay"
	"github.com/smazurov/relaynode/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"relaynode.toml"`

	// Server settings
	Port string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Relay settings
	FFmpegBinary            string `name:"ffmpeg-binary" help:"ffmpeg executable" default:"ffmpeg" toml:"ffmpeg.binary" env:"FFMPEG_BINARY"`
	RelayMaxRestartAttempts int    `help:"Automatic restarts before a session fails (-1 disables)" default:"3" toml:"relay.max_restart_attempts" env:"RELAY_MAX_RESTART_ATTEMPTS"`
	RelayRestartDelay       string `help:"Delay before each restart" default:"5s" toml:"relay.restart_delay" env:"RELAY_RESTART_DELAY"`
	RelayHeartbeatTimeout   string `help:"Restart a relay silent for this long" default:"30s" toml:"relay.heartbeat_timeout" env:"RELAY_HEARTBEAT_TIMEOUT"`
	RelayPollInterval       string `help:"Supervisor wake-up interval" default:"1s" toml:"relay.poll_interval" env:"RELAY_POLL_INTERVAL"`
	RelayGracePeriod        string `help:"Time between SIGINT and SIGKILL on stop" default:"3s" toml:"relay.grace_period" env:"RELAY_GRACE_PERIOD"`

	// Catalog settings
	CatalogFile string `help:"Input catalog file" default:"catalog.toml" toml:"catalog.file" env:"CATALOG_FILE"`

	// Auth settings
	AuthUsers string `help:"Comma separated name:password[:role] entries; empty disables auth" toml:"auth.users" env:"AUTH_USERS"`

	// NATS settings
	NatsURL      string `name:"nats-url" help:"NATS server to publish session status to" toml:"nats.url" env:"NATS_URL"`
	NatsEmbedded bool   `help:"Run an embedded NATS server" default:"false" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`

	// Metrics settings
	MetricsEnabled bool `help:"Expose Prometheus metrics and SSE metric samples" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRelay  string `help:"Relay supervisor logging level" default:"info" toml:"logging.relay" env:"LOGGING_RELAY"`
	LoggingFFmpeg string `name:"logging-ffmpeg" help:"Relay process output logging level" default:"info" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingAPI    string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

// relayConfig parses the relay timings.
func (o *Options) relayConfig() (relay.Config, error) {
	cfg := relay.Config{MaxRestartAttempts: o.RelayMaxRestartAttempts}
	for _, d := range []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"relay.restart_delay", o.RelayRestartDelay, &cfg.RestartDelay},
		{"relay.heartbeat_timeout", o.RelayHeartbeatTimeout, &cfg.HeartbeatTimeout},
		{"relay.poll_interval", o.RelayPollInterval, &cfg.PollInterval},
		{"relay.grace_period", o.RelayGracePeriod, &cfg.GracePeriod},
	} {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return cfg, nil
}

// loggingConfig starts from the [logging] table, which may also carry a
// rotating file sink, and applies the resolved option values on top.
func (o *Options) loggingConfig() logging.Config {
	cfg := config.LoadLoggingConfig(o.Config)
	cfg.Level = o.LoggingLevel
	cfg.Format = o.LoggingFormat
	cfg.Modules["relay"] = o.LoggingRelay
	cfg.Modules["ffmpeg"] = o.LoggingFFmpeg
	cfg.Modules["api"] = o.LoggingAPI
	return cfg
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		loadErr := config.LoadConfig(opts, cli.Root())

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")
		if loadErr != nil {
			logger.Warn("Failed to load config", "error", loadErr)
		}

		relayCfg, err := opts.relayConfig()
		if err != nil {
			logger.Error("Invalid relay configuration", "error", err)
			os.Exit(1)
		}
		var userEntries []string
		if opts.AuthUsers != "" {
			userEntries = strings.Split(opts.AuthUsers, ",")
		}
		users, err := api.ParseUsers(userEntries)
		if err != nil {
			logger.Error("Invalid auth.users", "error", err)
			os.Exit(1)
		}

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(api.PublishLogs(eventBus))

		registryOpts := &relay.RegistryOptions{
			Launcher: relay.NewProcessLauncher(opts.FFmpegBinary),
			Events:   eventBus,
			Config:   relayCfg,
		}
		var promHandler http.Handler
		var sseExporter *exporters.SSEExporter
		if opts.MetricsEnabled {
			recorder := metrics.Default()
			registryOpts.Recorder = recorder
			promHandler = exporters.HTTPHandler()
			sseExporter = exporters.NewSSEExporter(eventBus, recorder)
		}
		registry := relay.NewRegistry(registryOpts)

		sources := catalog.New(opts.CatalogFile)
		if loadErr := sources.Load(); loadErr != nil {
			logger.Warn("Failed to load catalog", "file", opts.CatalogFile, "error", loadErr)
		}

		var natsServer *nats.Server
		if opts.NatsEmbedded {
			natsServer = nats.NewServer(nats.ServerOptions{
				Port:   opts.NatsPort,
				Logger: logging.GetLogger("nats"),
			})
		}

		server := api.NewServer(&api.Options{
			Users:             users,
			Sessions:          registry,
			Catalog:           sources,
			EventBus:          eventBus,
			PrometheusHandler: promHandler,
		})

		var natsPublisher *nats.Publisher
		ctx, cancel := context.WithCancel(context.Background())

		notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
		unsubStatus := eventBus.Subscribe(func(e events.SessionsUpdatedEvent) {
			notifier.Status(fmt.Sprintf("%d sessions", len(e.Sessions)))
		})

		hooks.OnStart(func() {
			if natsServer != nil {
				if startErr := natsServer.Start(); startErr != nil {
					logger.Error("Failed to start embedded NATS server", "error", startErr)
					os.Exit(1)
				}
			}

			natsURL := opts.NatsURL
			if natsURL == "" && natsServer != nil {
				natsURL = natsServer.ClientURL()
			}
			if natsURL != "" {
				natsPublisher = nats.NewPublisher(natsURL, eventBus, logging.GetLogger("nats"))
				if startErr := natsPublisher.Start(); startErr != nil {
					logger.Warn("NATS unavailable, status publishing disabled", "error", startErr)
				}
			}

			if watchErr := sources.Watch(); watchErr != nil {
				logger.Warn("Failed to watch catalog, hot-reload disabled", "error", watchErr)
			}

			if sseExporter != nil {
				sseExporter.Start(ctx)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			ln, listenErr := net.Listen("tcp", opts.Port)
			if listenErr != nil {
				logger.Error("Failed to listen", "error", listenErr)
				os.Exit(1)
			}
			notifier.Ready()
			notifier.Status("0 sessions")
			go notifier.RunWatchdog(ctx)
			if startErr := server.Serve(ln); startErr != nil {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Stop relays after the API stops accepting new sessions
			logger.Info("Stopping all relay sessions")
			registry.Shutdown()

			unsubStatus()
			cancel()
			if sseExporter != nil {
				sseExporter.Stop()
			}
			if natsPublisher != nil {
				natsPublisher.Stop()
			}
			if natsServer != nil {
				natsServer.Stop()
			}
			if closeErr := sources.Close(); closeErr != nil {
				logger.Warn("Error stopping catalog watcher", "error", closeErr)
			}
			logging.SetLogCallback(nil)
			_ = logging.Close()
		})
	})

	cli.Root().AddCommand(cmd.CreateRelayCmd())
	cli.Root().AddCommand(cmd.CreateCommandCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	cli.Run()
}
