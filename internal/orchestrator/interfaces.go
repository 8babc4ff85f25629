package orchestrator

import (
	"context"

	"livetunnel/internal/config"
	"livetunnel/internal/precmd"
	"livetunnel/internal/serveproc"
)

// Session is the authenticated remote session the orchestrator drives.
// It is owned exclusively by the orchestrator; all calls are issued
// sequentially from the control goroutine.
type Session interface {
	// RequestRemoteForward makes traffic arriving on the remote port be
	// relayed to the local port.
	RequestRemoteForward(remotePort, localPort uint16) error
	// CheckLiveness probes the session; an error means it is dead.
	CheckLiveness() error
	Close() error
}

// DialFunc opens the session. It blocks until the connection succeeds
// or fails.
type DialFunc func(cfg config.TunnelConfig) (Session, error)

// Supervisor owns the served process lifecycle.
type Supervisor interface {
	Spawn(directory string, localPort uint16, credentials []config.Credential) error
	Poll() serveproc.Status
	TerminateAndReap() error
}

// PreCommandRunner executes the pre-connection commands.
type PreCommandRunner interface {
	RunAll(ctx context.Context, commands []config.Command) []precmd.Result
}

// CredentialPrompter collects serving credentials from the operator.
// It is only consulted in secure mode, once, before serving starts.
type CredentialPrompter interface {
	// CollectCredentials prompts for at least one credential. Called when
	// no credentials are configured yet.
	CollectCredentials() ([]config.Credential, error)
	// OfferAdditionalCredentials lets the operator add to an existing set;
	// it may return an empty slice when the operator declines.
	OfferAdditionalCredentials(existing []config.Credential) ([]config.Credential, error)
}
