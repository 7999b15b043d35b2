// Package process starts child processes and controls them as a group.
//
// Each child runs in its own process group so that signals reach any
// helpers it spawns. Output from stdout and stderr is merged into one pipe
// and delivered as raw chunks, leaving line splitting and interpretation
// to the caller. Reaping is independent of the pipe: Done closes as soon
// as the child exits even if a grandchild keeps the pipe open.
//
// Stopping follows the usual two step sequence:
//
//	p, err := process.Start([]string{"ffmpeg", "-i", in, out}, logger)
//	...
//	code := p.Stop(3*time.Second, 5*time.Second) // SIGINT, then SIGKILL
//	p.Release()
package process
