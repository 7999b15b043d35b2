package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/relaynode/internal/logging"
)

// ExitCodeKilled is reported when a process had to be force killed.
const ExitCodeKilled = 137

const (
	readChunkSize = 4096
	outputBacklog = 64
)

// Process is a running child started in its own process group. Its
// combined stdout and stderr is delivered as raw chunks on Output.
type Process struct {
	cmd    *exec.Cmd
	pid    int
	logger logging.Logger

	output  chan []byte
	done    chan struct{}
	release chan struct{}
	reader  *os.File

	releaseOnce sync.Once
	exitCode    int
	waitErr     error
}

// Start launches args[0] with the remaining arguments.
func Start(args []string, logger logging.Logger) (*Process, error) {
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	p := &Process{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		logger:  logger,
		output:  make(chan []byte, outputBacklog),
		done:    make(chan struct{}),
		release: make(chan struct{}),
		reader:  pr,
	}
	go p.readOutput()
	go p.wait()
	return p, nil
}

// PID returns the child's process id, which is also its process group id.
func (p *Process) PID() int {
	return p.pid
}

// Output delivers output chunks. It is closed once every holder of the
// write end has exited or the process is released.
func (p *Process) Output() <-chan []byte {
	return p.output
}

// Done is closed when the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the child is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit status. Only valid after Done is closed.
// Death by signal is reported as 128 plus the signal number.
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// Err returns the error from reaping the child, if any.
func (p *Process) Err() error {
	<-p.done
	return p.waitErr
}

// Terminate asks the process group to stop with SIGINT.
func (p *Process) Terminate() error {
	return p.signalGroup(syscall.SIGINT)
}

// Kill sends SIGKILL to the process group. It also reaches members that
// outlived the group leader.
func (p *Process) Kill() error {
	err := syscall.Kill(-p.pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Stop terminates the process, waits up to grace, then kills it and waits
// up to killTimeout. It returns the exit code, or ExitCodeKilled when the
// kill was needed. Group members left behind by the leader are killed.
func (p *Process) Stop(grace, killTimeout time.Duration) int {
	defer func() { _ = p.Kill() }()
	if !p.Alive() {
		return p.exitCode
	}
	if err := p.Terminate(); err != nil {
		p.logger.Warn("Failed to send SIGINT", "pid", p.pid, "error", err)
	}

	select {
	case <-p.done:
		return p.exitCode
	case <-time.After(grace):
	}

	p.logger.Warn("Graceful stop timed out, killing process", "pid", p.pid, "timeout", grace)
	if err := p.Kill(); err != nil {
		p.logger.Error("Failed to kill process", "pid", p.pid, "error", err)
	}
	select {
	case <-p.done:
	case <-time.After(killTimeout):
		p.logger.Error("Process did not exit after SIGKILL", "pid", p.pid)
	}
	return ExitCodeKilled
}

// Release stops output delivery and closes the read end of the pipe. Call
// it once the owner no longer reads Output.
func (p *Process) Release() {
	p.releaseOnce.Do(func() {
		close(p.release)
		_ = p.reader.Close()
	})
}

func (p *Process) signalGroup(sig syscall.Signal) error {
	if !p.Alive() {
		return nil
	}
	err := syscall.Kill(-p.pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.exitCode = exitCodeFromError(err)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	close(p.done)
}

func (p *Process) readOutput() {
	defer close(p.output)
	buf := make([]byte, readChunkSize)
	for {
		n, err := p.reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case p.output <- chunk:
			case <-p.release:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.logger.Warn("Error reading process output", "pid", p.pid, "error", err)
			}
			return
		}
	}
}

// exitCodeFromError maps the result of cmd.Wait to a shell style exit code.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}
