package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/metrics/exporters"
)

// registerSSERoutes registers the session status SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time session snapshots, lifecycle events and per-session metrics. The current snapshot is sent on connect.",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func() map[string]any {
		eventTypes := map[string]any{
			"sessions-updated":  events.SessionsUpdatedEvent{},
			"session-started":   events.SessionStartedEvent{},
			"session-stopped":   events.SessionStoppedEvent{},
			"session-restarted": events.SessionRestartedEvent{},
			"session-failed":    events.SessionFailedEvent{},
		}
		maps.Copy(eventTypes, exporters.GetEventTypesForEndpoint("events"))
		return eventTypes
	}(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.SessionsUpdatedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionStartedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionStoppedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionRestartedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionFailedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionMetricsEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Subscribed first, so no change between this snapshot and the
		// stream is lost.
		if err := send.Data(events.SessionsUpdatedEvent{
			Sessions:  s.sessions.Snapshot(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
