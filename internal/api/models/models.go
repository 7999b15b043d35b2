package models

import (
	"github.com/smazurov/relaynode/internal/catalog"
	"github.com/smazurov/relaynode/internal/types"
)

// Health check models
type HealthData struct {
	Status   string `json:"status" example:"ok" doc:"Service status"`
	Message  string `json:"message" example:"API is healthy" doc:"Status message"`
	Sessions int    `json:"sessions" example:"2" doc:"Number of registered sessions"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"ci-1234" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Session models
type SessionListData struct {
	Sessions map[string]types.SessionView `json:"sessions" doc:"Registered sessions by name"`
	Count    int                          `json:"count" example:"2" doc:"Number of registered sessions"`
}

type SessionListResponse struct {
	Body SessionListData
}

type SessionResponse struct {
	Body types.SessionView
}

type SessionPathRequest struct {
	Name string `path:"name" example:"morning-show" doc:"Session name"`
}

// StartSessionData names either a catalog source or a raw input.
type StartSessionData struct {
	Name        string `json:"name" minLength:"1" maxLength:"128" example:"morning-show" doc:"Unique session name"`
	Source      string `json:"source,omitempty" example:"Plex 1" doc:"Catalog source to relay; alternative to input"`
	Input       string `json:"input,omitempty" example:"rtmp://cdn.example.com/live/main" doc:"Input locator; alternative to source"`
	Destination string `json:"destination" minLength:"1" example:"youtube" doc:"youtube, facebook, instagram, or an rtmp(s) endpoint"`
	Endpoint    string `json:"endpoint,omitempty" example:"rtmp://live.example.com/app" doc:"Endpoint for a custom destination"`
	StreamKey   string `json:"stream_key" minLength:"1" example:"xxxx-xxxx-xxxx-xxxx" doc:"Destination stream key, never returned"`
}

type StartSessionRequest struct {
	Body StartSessionData
}

type StopSessionData struct {
	Session string `json:"session" example:"morning-show" doc:"Session name"`
	Message string `json:"message" example:"Stream stopped successfully" doc:"Result message"`
}

type StopSessionResponse struct {
	Body StopSessionData
}

// Catalog models
type CatalogData struct {
	Sources []catalog.Source `json:"sources" doc:"Named input sources"`
	Count   int              `json:"count" example:"7" doc:"Number of sources"`
}

type CatalogResponse struct {
	Body CatalogData
}
