package nats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/relaynode/internal/events"
)

// Publisher forwards session events from the event bus to NATS. It
// degrades to a no-op while disconnected.
type Publisher struct {
	url    string
	bus    *events.Bus
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *nats.Conn
	unsubs []func()
}

// NewPublisher creates a bus-to-NATS publisher.
func NewPublisher(url string, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		url:    url,
		bus:    bus,
		logger: logger.With("component", "nats-publisher"),
	}
}

// Start connects to NATS and subscribes to the bus. A failed connect is
// returned; the caller decides whether to run without NATS.
func (p *Publisher) Start() error {
	conn, err := nats.Connect(p.url,
		nats.Name("relaynode"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.unsubs = []func(){
		p.bus.Subscribe(p.onSessionsUpdated),
		p.bus.Subscribe(func(e events.SessionStartedEvent) {
			p.publishEvent(e.Session, ActionStarted, e.Timestamp, map[string]any{"owner": e.Owner})
		}),
		p.bus.Subscribe(func(e events.SessionStoppedEvent) {
			p.publishEvent(e.Session, ActionStopped, e.Timestamp, map[string]any{
				"stopped_by": e.StoppedBy,
				"exit_code":  e.ExitCode,
			})
		}),
		p.bus.Subscribe(func(e events.SessionRestartedEvent) {
			p.publishEvent(e.Session, ActionRestarted, e.Timestamp, map[string]any{
				"attempt":      e.Attempt,
				"max_attempts": e.MaxAttempts,
			})
		}),
		p.bus.Subscribe(func(e events.SessionFailedEvent) {
			p.publishEvent(e.Session, ActionFailed, e.Timestamp, map[string]any{
				"last_error":    e.LastError,
				"restart_count": e.RestartCount,
			})
		}),
	}
	p.mu.Unlock()

	p.logger.Info("NATS publisher connected", "url", conn.ConnectedUrlRedacted())
	return nil
}

func (p *Publisher) onSessionsUpdated(e events.SessionsUpdatedEvent) {
	data, err := StatusMessage{Timestamp: e.Timestamp, Sessions: e.Sessions}.Marshal()
	if err != nil {
		p.logger.Warn("Failed to marshal status", "error", err)
		return
	}
	p.publish(SubjectStatus, data)
}

func (p *Publisher) publishEvent(session, action, ts string, details map[string]any) {
	data, err := SessionEventMessage{
		Session:   session,
		Action:    action,
		Timestamp: ts,
		Details:   details,
	}.Marshal()
	if err != nil {
		p.logger.Warn("Failed to marshal session event", "session", session, "error", err)
		return
	}
	p.publish(SubjectSessionEvent(session, action), data)
}

func (p *Publisher) publish(subject string, data []byte) {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish", "subject", subject, "error", err)
	}
}

// IsConnected reports whether the publisher has a live connection.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil && p.conn.IsConnected()
}

// Stop unsubscribes from the bus, flushes pending messages and closes the
// connection.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, unsub := range p.unsubs {
		unsub()
	}
	p.unsubs = nil

	if p.conn != nil {
		_ = p.conn.FlushTimeout(time.Second)
		p.conn.Close()
		p.conn = nil
	}
	p.logger.Info("NATS publisher stopped")
}
