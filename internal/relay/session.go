package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/relaynode/internal/ffmpeg"
	"github.com/smazurov/relaynode/internal/types"
)

// Roles allowed to stop sessions they do not own.
const (
	RoleMasterAdmin = "master_admin"
	RoleAdmin       = "admin"
	RoleUser        = "user"
)

// DefaultSourceName labels sessions started without a catalog source.
const DefaultSourceName = "Unknown"

// ZeroBitrate is the bitrate reported before the first progress line.
const ZeroBitrate = "0 kb/s"

// StartParams are the inputs of Registry.Start.
type StartParams struct {
	Name string
	// Input is the source locator passed to -i.
	Input string
	// Destination is a destination kind or, for custom destinations, the
	// endpoint itself.
	Destination string
	// Endpoint overrides the endpoint of a custom destination.
	Endpoint   string
	StreamKey  string
	Owner      string
	SourceName string
}

func (p StartParams) relayParams() (ffmpeg.RelayParams, error) {
	if strings.TrimSpace(p.Name) == "" {
		return ffmpeg.RelayParams{}, NewRelayError(ErrCodeInvalidParams, "session name is required", nil)
	}
	kind, endpoint := ffmpeg.ParseDestination(p.Destination)
	if p.Endpoint != "" {
		endpoint = p.Endpoint
	}
	rp := ffmpeg.RelayParams{
		Input:       strings.TrimSpace(p.Input),
		Destination: kind,
		Endpoint:    endpoint,
		StreamKey:   p.StreamKey,
	}
	if err := rp.Validate(); err != nil {
		return ffmpeg.RelayParams{}, NewRelayError(ErrCodeInvalidParams, "invalid session parameters", err)
	}
	return rp, nil
}

// Health is the inferred condition of the current process.
type Health struct {
	FPS               int
	Bitrate           string
	LastError         *string
	RestartCount      int
	LastRestartAt     *time.Time
	LastHealthCheckAt time.Time
}

func initialHealth(now time.Time) Health {
	return Health{Bitrate: ZeroBitrate, LastHealthCheckAt: now}
}

func (h Health) view() types.HealthView {
	v := types.HealthView{
		FPS:               h.FPS,
		Bitrate:           h.Bitrate,
		RestartCount:      h.RestartCount,
		LastHealthCheckAt: h.LastHealthCheckAt,
	}
	if h.LastError != nil {
		s := *h.LastError
		v.LastError = &s
	}
	if h.LastRestartAt != nil {
		t := *h.LastRestartAt
		v.LastRestartAt = &t
	}
	return v
}

// session is one registry entry. Fields below mu are guarded by it.
type session struct {
	name       string
	params     ffmpeg.RelayParams
	owner      string
	sourceName string

	ctx    context.Context
	cancel context.CancelFunc

	mu                 sync.Mutex
	pending            bool // reserved, first launch in progress
	removed            bool // stopped, failed or shut down; no further transitions
	status             types.Status
	startedAt          time.Time
	proc               Process
	generation         int
	health             Health
	terminateRequested bool
	publishedAt        time.Time // last broadcast caused by output
}

// viewLocked must be called with s.mu held.
func (s *session) viewLocked() types.SessionView {
	endpoint := ""
	if s.params.Destination == ffmpeg.DestinationCustom {
		endpoint = s.params.Endpoint
	}
	return types.SessionView{
		Name:        s.name,
		Input:       s.params.Input,
		Destination: string(s.params.Destination),
		Endpoint:    endpoint,
		Status:      s.status,
		Owner:       s.owner,
		SourceName:  s.sourceName,
		StartTime:   s.startedAt,
		Generation:  s.generation,
		Health:      s.health.view(),
	}
}

// redact removes the stream key from process output before it is stored
// or logged.
func (s *session) redact(line string) string {
	return ffmpeg.Redact(line, s.params.StreamKey)
}

// canStop reports whether a user may stop a session owned by owner.
func canStop(role, userID, owner string) bool {
	switch role {
	case RoleMasterAdmin, RoleAdmin:
		return true
	}
	return userID != "" && userID == owner
}
