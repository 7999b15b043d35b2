// Package logging provides slog loggers with per-module levels.
//
// Records are routed to every available output:
//   - stdout, when attached to a terminal, pipe, socket or file
//   - the systemd journal, when journald is reachable
//   - an optional rotating log file
//   - an in-memory history used by the log stream endpoint
//
// Initialize once at startup, then fetch loggers by module:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"relay": "debug", "ffmpeg": "warn"},
//	})
//	logger := logging.GetLogger("relay").With("session", name)
//	logger.Info("Session started")
//
// Journal entries carry SYSLOG_IDENTIFIER=relaynode and upper-cased
// attribute fields:
//
//	journalctl -t relaynode MODULE=relay SESSION=morning-show
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "json"
//
//	[logging.modules]
//	ffmpeg = "debug"
//
//	[logging.file]
//	path = "/var/log/relaynode/relaynode.log"
//	max_size_mb = 20
package logging
