package types

import "time"

// Status is the externally visible state of a relay session.
type Status string

// Session statuses. Stopped is only observed in the broadcast that
// immediately precedes removal.
const (
	StatusActive  Status = "active"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
	StatusStopped Status = "stopped"
)

// HealthView is the health block of a session snapshot.
type HealthView struct {
	FPS               int        `json:"fps" example:"30" doc:"Last reported frames per second"`
	Bitrate           string     `json:"bitrate" example:"2500.1kbits/s" doc:"Last reported bitrate token"`
	LastError         *string    `json:"last_error" doc:"Most recent error line, null when none"`
	RestartCount      int        `json:"restart_count" example:"0" doc:"Automatic restarts performed"`
	LastRestartAt     *time.Time `json:"last_restart,omitempty" doc:"Time of the most recent restart"`
	LastHealthCheckAt time.Time  `json:"last_health_check" doc:"Time the last output line was parsed"`
}

// SessionView is the read-only projection of a session. It never carries
// the stream key or the process handle.
type SessionView struct {
	Name        string     `json:"name" example:"morning-show" doc:"Session name"`
	Input       string     `json:"input" example:"rtmp://ingest.local/live/cam1" doc:"Input locator"`
	Destination string     `json:"destination" example:"youtube" doc:"Destination kind"`
	Endpoint    string     `json:"endpoint,omitempty" example:"rtmp://live.example.com/app" doc:"Endpoint for custom destinations"`
	Status      Status     `json:"status" example:"active" enum:"active,warning,failed,stopped" doc:"Session status"`
	Owner       string     `json:"owner" example:"alice" doc:"User that started the session"`
	SourceName  string     `json:"source_name" example:"Studio A" doc:"Display label of the input"`
	StartTime   time.Time  `json:"start_time" doc:"Launch time of the current process"`
	Generation  int        `json:"generation" example:"1" doc:"Process generation, incremented on every relaunch"`
	Health      HealthView `json:"health" doc:"Health block"`
}
