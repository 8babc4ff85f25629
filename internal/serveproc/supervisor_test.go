package serveproc

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetunnel/internal/config"
)

// writeStub creates an executable script that stands in for the file
// server binary; the supervisor passes server flags the stub ignores.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests rely on POSIX shell stubs and signals")
	}
	path := filepath.Join(t.TempDir(), "fileserver-stub")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// pollUntil polls until the supervisor reports something other than
// Running, or the deadline passes.
func pollUntil(t *testing.T, s *Supervisor, timeout time.Duration) Status {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		status := s.Poll()
		if status.Kind != StatusRunning || time.Now().After(deadline) {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPoll_BeforeSpawn(t *testing.T) {
	s := NewSupervisor()
	status := s.Poll()
	assert.Equal(t, StatusPollError, status.Kind)
	assert.ErrorIs(t, status.Err, ErrNotSpawned)
}

func TestTerminateAndReap_BeforeSpawn(t *testing.T) {
	assert.ErrorIs(t, NewSupervisor().TerminateAndReap(), ErrNotSpawned)
}

func TestSpawn_LaunchFailure(t *testing.T) {
	s := &Supervisor{Binary: "definitely-not-a-real-binary-12345"}
	err := s.Spawn(t.TempDir(), 3000, nil)
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestSpawn_PollRunning_ThenTerminate(t *testing.T) {
	s := &Supervisor{Binary: writeStub(t, "sleep 60")}
	require.NoError(t, s.Spawn(t.TempDir(), 3000, nil))

	assert.Equal(t, StatusRunning, s.Poll().Kind)

	require.NoError(t, s.TerminateAndReap())
	status := s.Poll()
	assert.NotEqual(t, StatusRunning, status.Kind)
}

// Double termination must be a no-op, including when the process already
// exited on its own.
func TestTerminateAndReap_Idempotent(t *testing.T) {
	s := &Supervisor{Binary: writeStub(t, "sleep 60")}
	require.NoError(t, s.Spawn(t.TempDir(), 3000, nil))

	require.NoError(t, s.TerminateAndReap())
	require.NoError(t, s.TerminateAndReap())
}

func TestTerminateAndReap_AfterNaturalExit(t *testing.T) {
	s := &Supervisor{Binary: writeStub(t, "exit 0")}
	require.NoError(t, s.Spawn(t.TempDir(), 3000, nil))

	status := pollUntil(t, s, 5*time.Second)
	assert.Equal(t, StatusExitedOk, status.Kind)

	// Reaping an already-exited process is success, not an error.
	assert.NoError(t, s.TerminateAndReap())
}

func TestPoll_ExitedError(t *testing.T) {
	s := &Supervisor{Binary: writeStub(t, "exit 7")}
	require.NoError(t, s.Spawn(t.TempDir(), 3000, nil))

	status := pollUntil(t, s, 5*time.Second)
	assert.Equal(t, StatusExitedError, status.Kind)
	assert.Equal(t, 7, status.ExitCode)
}

func TestSpawn_RejectsSecondProcess(t *testing.T) {
	s := &Supervisor{Binary: writeStub(t, "sleep 60")}
	require.NoError(t, s.Spawn(t.TempDir(), 3000, nil))
	defer s.TerminateAndReap()

	assert.ErrorIs(t, s.Spawn(t.TempDir(), 3001, nil), ErrSpawn)
}

func TestSpawn_ArgsRecordDigestsOnly(t *testing.T) {
	// The stub writes its arguments out so the invocation contract can be
	// checked: loopback bind, hidden files, port, one auth arg per user.
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	s := &Supervisor{Binary: writeStub(t, `echo "$@" > `+argsFile)}

	creds := []config.Credential{
		config.NewCredential("alice", "plain-secret"),
		config.NewCredential("bob", "other-secret"),
	}
	require.NoError(t, s.Spawn(dir, 3000, creds))
	pollUntil(t, s, 5*time.Second)
	require.NoError(t, s.TerminateAndReap())

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := string(recorded)
	assert.Contains(t, args, "-H")
	assert.Contains(t, args, "-i 127.0.0.1")
	assert.Contains(t, args, "-p 3000")
	assert.Contains(t, args, "alice:sha512:"+config.HashPassword("plain-secret"))
	assert.Contains(t, args, "bob:sha512:"+config.HashPassword("other-secret"))
	assert.NotContains(t, args, "plain-secret")
	assert.Contains(t, args, dir)
}
