package relay

import "time"

// Config holds supervisor timings and the restart policy.
type Config struct {
	MaxRestartAttempts int
	RestartDelay       time.Duration
	HeartbeatTimeout   time.Duration
	PollInterval       time.Duration
	GracePeriod        time.Duration
	KillTimeout        time.Duration
	DrainTimeout       time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		MaxRestartAttempts: 3,
		RestartDelay:       5 * time.Second,
		HeartbeatTimeout:   30 * time.Second,
		PollInterval:       time.Second,
		GracePeriod:        3 * time.Second,
		KillTimeout:        5 * time.Second,
		DrainTimeout:       500 * time.Millisecond,
	}
}

// withDefaults fills zero durations from DefaultConfig. A negative
// MaxRestartAttempts disables restarts.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRestartAttempts == 0 {
		c.MaxRestartAttempts = d.MaxRestartAttempts
	}
	if c.MaxRestartAttempts < 0 {
		c.MaxRestartAttempts = 0
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = d.RestartDelay
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = d.KillTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	return c
}

// RestartPolicy bounds automatic relaunches.
type RestartPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Policy returns the restart policy described by c.
func (c Config) Policy() RestartPolicy {
	return RestartPolicy{MaxAttempts: c.MaxRestartAttempts, Delay: c.RestartDelay}
}

// Allow reports whether another restart is permitted after restarts
// restarts have already been performed.
func (p RestartPolicy) Allow(restarts int) bool {
	return restarts < p.MaxAttempts
}
