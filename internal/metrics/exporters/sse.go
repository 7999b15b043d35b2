package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Source provides the current per-session metric values.
// *metrics.Recorder satisfies it.
type Source interface {
	All() map[string]*metrics.SessionMetrics
}

// SSEExporter periodically publishes session metrics for SSE clients.
type SSEExporter struct {
	eventBus EventPublisher
	source   Source
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher, source Source) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		source:   source,
		interval: 1 * time.Second,
	}
}

// Start begins the SSE export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Stop stops the SSE exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	for name, m := range s.source.All() {
		s.eventBus.Publish(events.SessionMetricsEvent{
			Session:           name,
			FPS:               strconv.FormatFloat(m.FPS, 'f', 0, 64),
			Restarts:          strconv.FormatFloat(m.Restarts, 'f', 0, 64),
			HeartbeatTimeouts: strconv.FormatFloat(m.HeartbeatTimeouts, 'f', 0, 64),
		})
	}
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"session-metrics": events.SessionMetricsEvent{},
	}
}

// GetEventTypesForEndpoint returns event types for a specific SSE endpoint.
func GetEventTypesForEndpoint(endpoint string) map[string]any {
	if endpoint == "events" {
		return GetEventTypes()
	}
	return map[string]any{}
}

// GetEventRoutes returns the routing configuration for events.
func GetEventRoutes() map[string]string {
	return map[string]string{
		"session-metrics": "events",
	}
}
