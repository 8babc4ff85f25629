package orchestrator

import (
	"context"
	"sync"

	"livetunnel/internal/config"
	"livetunnel/internal/precmd"
	"livetunnel/internal/serveproc"
)

// callRecorder tracks the order of collaborator calls across mocks so
// tests can assert the acquisition and release ordering.
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *callRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

type mockSession struct {
	rec *callRecorder

	forwardErr error
	closeErr   error

	mu           sync.Mutex
	livenessErrs []error // consumed one per CheckLiveness, nil when exhausted
	closeCount   int
}

func (m *mockSession) RequestRemoteForward(remotePort, localPort uint16) error {
	m.rec.record("forward")
	return m.forwardErr
}

func (m *mockSession) CheckLiveness() error {
	m.rec.record("liveness")
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.livenessErrs) == 0 {
		return nil
	}
	err := m.livenessErrs[0]
	m.livenessErrs = m.livenessErrs[1:]
	return err
}

func (m *mockSession) Close() error {
	m.rec.record("close")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	return m.closeErr
}

type mockSupervisor struct {
	rec *callRecorder

	spawnErr error
	reapErr  error

	mu         sync.Mutex
	statuses   []serveproc.Status // consumed one per Poll, Running when exhausted
	spawned    bool
	reapCount  int
	spawnCreds []config.Credential
	spawnDir   string
	spawnPort  uint16
}

func (m *mockSupervisor) Spawn(directory string, localPort uint16, credentials []config.Credential) error {
	m.rec.record("spawn")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spawnErr != nil {
		return m.spawnErr
	}
	m.spawned = true
	m.spawnDir = directory
	m.spawnPort = localPort
	m.spawnCreds = credentials
	return nil
}

func (m *mockSupervisor) Poll() serveproc.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.spawned {
		return serveproc.Status{Kind: serveproc.StatusPollError, Err: serveproc.ErrNotSpawned}
	}
	if len(m.statuses) == 0 {
		return serveproc.Status{Kind: serveproc.StatusRunning}
	}
	status := m.statuses[0]
	m.statuses = m.statuses[1:]
	return status
}

func (m *mockSupervisor) TerminateAndReap() error {
	m.rec.record("reap")
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.spawned {
		return serveproc.ErrNotSpawned
	}
	m.reapCount++
	return m.reapErr
}

type mockPreRunner struct {
	rec     *callRecorder
	results []precmd.Result
	ran     []config.Command
}

func (m *mockPreRunner) RunAll(ctx context.Context, commands []config.Command) []precmd.Result {
	m.rec.record("precmds")
	m.ran = commands
	if m.results != nil {
		return m.results
	}
	out := make([]precmd.Result, len(commands))
	for i, c := range commands {
		out[i] = precmd.Result{Command: c}
	}
	return out
}

type mockPrompter struct {
	collected    []config.Credential
	collectErr   error
	additional   []config.Credential
	collectCalls int
	offerCalls   int
}

func (m *mockPrompter) CollectCredentials() ([]config.Credential, error) {
	m.collectCalls++
	return m.collected, m.collectErr
}

func (m *mockPrompter) OfferAdditionalCredentials(existing []config.Credential) ([]config.Credential, error) {
	m.offerCalls++
	return m.additional, nil
}
