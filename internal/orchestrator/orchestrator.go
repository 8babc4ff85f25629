package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"livetunnel/internal/config"
	"livetunnel/internal/serveproc"
	"livetunnel/pkg/logging"
)

// DefaultPollInterval is how often the monitor loop checks session
// liveness, the served process, and the cancellation flag. Cancellation
// latency is bounded by one interval plus any in-flight blocking call.
const DefaultPollInterval = time.Second

// Config holds everything the orchestrator needs for one run.
type Config struct {
	Tunnel    config.TunnelConfig
	Directory string // already-resolved directory to serve
	Secure    bool   // credential-gated serving

	Dial       DialFunc
	Supervisor Supervisor
	PreRunner  PreCommandRunner
	Prompter   CredentialPrompter

	// Cancel is the cancellation flag set by the external signal handler.
	Cancel *atomic.Bool

	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
}

// Orchestrator manages exactly one tunnel instance: connect, forward,
// serve, monitor, shut down. Create one per run with New; Run may be
// called once.
type Orchestrator struct {
	cfg          Config
	pollInterval time.Duration

	mu         sync.RWMutex
	state      RunState
	stopReason StopReason

	session      Session
	shutdownOnce sync.Once
}

// New creates an orchestrator in the Idle state.
func New(cfg Config) *Orchestrator {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Orchestrator{
		cfg:          cfg,
		pollInterval: interval,
		state:        StateIdle,
	}
}

// State returns the current phase of the run.
func (o *Orchestrator) State() RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Reason returns why the run stopped, once it has.
func (o *Orchestrator) Reason() StopReason {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stopReason
}

func (o *Orchestrator) setState(s RunState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	logging.Debug("Orchestrator", "State %s -> %s", o.state, s)
	o.state = s
}

func (o *Orchestrator) setReason(r StopReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopReason == StopReasonNone {
		o.stopReason = r
	}
}

// Run drives the whole tunnel lifecycle and blocks until it is over.
// Setup failures (connect, forward, spawn) are fatal and returned after
// any partially acquired resources are released. Once monitoring has
// begun, failures turn into a graceful shutdown and Run returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runPreCommands(ctx)

	if len(o.cfg.Tunnel.AfterCommands) > 0 {
		// Declared in configuration but not executed yet.
		logging.Warn("Orchestrator", "%d post-connection command(s) configured; remote execution is not supported yet and they will be skipped",
			len(o.cfg.Tunnel.AfterCommands))
	}

	o.setState(StateConnecting)
	logging.Info("Orchestrator", "Connecting to '%s'", o.cfg.Tunnel.Host)
	session, err := o.cfg.Dial(o.cfg.Tunnel)
	if err != nil {
		o.setState(StateConnectFailed)
		return fmt.Errorf("establishing session to %s: %w", o.cfg.Tunnel.Host, err)
	}
	o.session = session

	o.setState(StateForwarding)
	if err := session.RequestRemoteForward(o.cfg.Tunnel.RemotePort, o.cfg.Tunnel.LocalPort); err != nil {
		o.setState(StateForwardFailed)
		if closeErr := session.Close(); closeErr != nil {
			logging.Warn("Orchestrator", "Closing session after forward failure: %v", closeErr)
		}
		return fmt.Errorf("requesting reverse forward %d -> %d: %w",
			o.cfg.Tunnel.RemotePort, o.cfg.Tunnel.LocalPort, err)
	}
	logging.Info("Orchestrator", "Forwarding remote port %d to local port %d",
		o.cfg.Tunnel.RemotePort, o.cfg.Tunnel.LocalPort)

	credentials, err := o.gatherCredentials()
	if err != nil {
		o.setReason(StopReasonSetupFailed)
		o.shutdown()
		return fmt.Errorf("collecting credentials: %w", err)
	}

	o.setState(StateServing)
	if err := o.cfg.Supervisor.Spawn(o.cfg.Directory, o.cfg.Tunnel.LocalPort, credentials); err != nil {
		o.setReason(StopReasonSetupFailed)
		o.shutdown()
		return fmt.Errorf("starting served process: %w", err)
	}
	logging.Info("Orchestrator", "Serving '%s' on 127.0.0.1:%d", o.cfg.Directory, o.cfg.Tunnel.LocalPort)

	o.monitor(ctx)
	o.shutdown()
	return nil
}

// runPreCommands executes the configured pre-connection commands.
// Individual failures are warnings; they never stop the run.
func (o *Orchestrator) runPreCommands(ctx context.Context) {
	o.setState(StateRunningPreCommands)
	if len(o.cfg.Tunnel.BeforeCommands) == 0 {
		return
	}
	results := o.cfg.PreRunner.RunAll(ctx, o.cfg.Tunnel.BeforeCommands)
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		logging.Warn("Orchestrator", "%d of %d pre-connection command(s) failed; continuing", failed, len(results))
	}
}

// gatherCredentials applies the secure-mode gate: without stored
// credentials at least one must be collected; with stored credentials
// the operator may add more. Outside secure mode serving is open and no
// credentials are passed.
func (o *Orchestrator) gatherCredentials() ([]config.Credential, error) {
	if !o.cfg.Secure {
		return nil, nil
	}

	existing := o.cfg.Tunnel.Credentials
	if len(existing) == 0 {
		logging.Info("Orchestrator", "Secure serving requested but no users configured; collecting now")
		collected, err := o.cfg.Prompter.CollectCredentials()
		if err != nil {
			return nil, err
		}
		if len(collected) == 0 {
			return nil, fmt.Errorf("secure serving requires at least one credential")
		}
		return collected, nil
	}

	extra, err := o.cfg.Prompter.OfferAdditionalCredentials(existing)
	if err != nil {
		return nil, err
	}
	return append(append([]config.Credential{}, existing...), extra...), nil
}

// monitor polls session liveness, the served process, and the
// cancellation flag until one of them demands a shutdown.
func (o *Orchestrator) monitor(ctx context.Context) {
	o.setState(StateMonitoring)
	logging.Info("Orchestrator", "Tunnel up. Press CTRL+C to exit")

	serveExitReported := false
	for {
		if err := o.session.CheckLiveness(); err != nil {
			logging.Warn("Orchestrator", "Session died: %v", err)
			o.setReason(StopReasonSessionDied)
			return
		}

		status := o.cfg.Supervisor.Poll()
		switch status.Kind {
		case serveproc.StatusExitedOk, serveproc.StatusExitedError:
			if !serveExitReported {
				serveExitReported = true
				if status.Kind == serveproc.StatusExitedError {
					logging.Warn("Orchestrator", "Served process exited unexpectedly with status %d", status.ExitCode)
				} else {
					logging.Warn("Orchestrator", "Served process exited unexpectedly")
				}
			}
			if o.cfg.Tunnel.Serve.ExitFatal {
				o.setReason(StopReasonServeExited)
				return
			}
			// Exit stays a warning; the forward itself is still useful.
		case serveproc.StatusPollError:
			logging.Warn("Orchestrator", "Could not poll served process: %v", status.Err)
		}

		if o.cfg.Cancel.Load() {
			logging.Info("Orchestrator", "Stop requested")
			o.setReason(StopReasonUserRequested)
			return
		}

		select {
		case <-ctx.Done():
			o.setReason(StopReasonUserRequested)
			return
		case <-time.After(o.pollInterval):
		}
	}
}

// shutdown tears the tunnel down in strict order: reap the served
// process first, then close the session. Every step proceeds even when
// the previous one failed; the terminal state is always Closed. Safe to
// call more than once.
func (o *Orchestrator) shutdown() {
	o.shutdownOnce.Do(func() {
		o.setState(StateShuttingDown)
		logging.Info("Orchestrator", "Shutting down (%s)", o.Reason())

		if err := o.cfg.Supervisor.TerminateAndReap(); err != nil && !errors.Is(err, serveproc.ErrNotSpawned) {
			logging.Error("Orchestrator", err, "Failed to reap served process")
		}

		if o.session != nil {
			if err := o.session.Close(); err != nil {
				logging.Error("Orchestrator", err, "Failed to close session")
			}
		}

		o.setState(StateClosed)
		logging.Info("Orchestrator", "Tunnel closed")
	})
}

// Shutdown triggers the ordered teardown directly. It exists for callers
// that need to force cleanup outside Run; calling it after Run has
// already shut down is a no-op.
func (o *Orchestrator) Shutdown() {
	o.shutdown()
}
