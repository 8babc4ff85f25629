// Package serveproc owns the lifecycle of the locally spawned file
// server: spawn, poll, terminate, reap. At most one process exists per
// supervisor.
package serveproc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"livetunnel/internal/config"
	"livetunnel/pkg/logging"
)

// defaultBinary is the file server the tunnel exposes. It must be on PATH.
const defaultBinary = "miniserve"

// StatusKind classifies a poll result.
type StatusKind int

const (
	StatusRunning StatusKind = iota
	StatusExitedOk
	StatusExitedError
	StatusPollError
)

// Status is the observed state of the served process.
type Status struct {
	Kind     StatusKind
	ExitCode int   // meaningful for StatusExitedError
	Err      error // meaningful for StatusPollError
}

// ErrSpawn wraps a failure to launch the served process.
var ErrSpawn = errors.New("failed to spawn served process")

// ErrNotSpawned is returned by Poll and TerminateAndReap before Spawn.
var ErrNotSpawned = errors.New("no served process has been spawned")

// Supervisor spawns and supervises exactly one file-serving process.
// It is driven from a single goroutine; methods are not safe for
// concurrent use.
type Supervisor struct {
	// Binary overrides the served binary, used by tests to substitute a
	// stub command. Empty means the default file server.
	Binary string

	cmd     *exec.Cmd
	done    chan struct{} // closed once Wait has returned
	reaped  bool
	waitErr error
}

// NewSupervisor creates a supervisor for the default file server binary.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Spawn starts the file server bound to the loopback interface on the
// given port, serving the given directory with hidden files included.
// In secure mode one auth parameter per credential is passed, carrying
// the password digest, never a plaintext. The process's own stdio is
// discarded.
func (s *Supervisor) Spawn(directory string, localPort uint16, credentials []config.Credential) error {
	if s.cmd != nil {
		return fmt.Errorf("%w: process already spawned", ErrSpawn)
	}

	binary := s.Binary
	if binary == "" {
		binary = defaultBinary
	}

	// -H shows hidden files, -i picks the bind interface, -p the port.
	args := []string{"-H", "-i", "127.0.0.1", "-p", fmt.Sprintf("%d", localPort)}
	for _, cred := range credentials {
		args = append(args, "-a", cred.AuthArg())
	}
	args = append(args, directory)

	cmd := exec.Command(binary, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	s.cmd = cmd
	s.done = make(chan struct{})
	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()

	logging.Info("ServeProc", "Started %s (PID %d) serving '%s' on 127.0.0.1:%d",
		binary, cmd.Process.Pid, directory, localPort)
	return nil
}

// Poll reports the current state of the served process without blocking.
func (s *Supervisor) Poll() Status {
	if s.cmd == nil {
		return Status{Kind: StatusPollError, Err: ErrNotSpawned}
	}

	select {
	case <-s.done:
	default:
		return Status{Kind: StatusRunning}
	}

	if s.waitErr == nil {
		return Status{Kind: StatusExitedOk}
	}
	var exitErr *exec.ExitError
	if errors.As(s.waitErr, &exitErr) {
		return Status{Kind: StatusExitedError, ExitCode: exitErr.ExitCode()}
	}
	return Status{Kind: StatusPollError, Err: s.waitErr}
}

// TerminateAndReap asks the process to terminate and blocks until it has
// exited, collecting its status. A process that already exited on its
// own counts as success, and calling this twice is safe.
func (s *Supervisor) TerminateAndReap() error {
	if s.cmd == nil {
		return ErrNotSpawned
	}
	if s.reaped {
		return nil
	}

	select {
	case <-s.done:
		// Already exited, nothing to signal.
	default:
		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logging.Warn("ServeProc", "Could not signal served process: %v", err)
		}
		<-s.done
	}

	s.reaped = true
	if s.waitErr != nil {
		// The exit status after a termination signal is expected to be
		// non-zero; report it but treat the reap as complete.
		logging.Debug("ServeProc", "Served process exited: %v", s.waitErr)
	}
	logging.Info("ServeProc", "Served process reaped")
	return nil
}
