package orchestrator

// RunState describes the current phase of the tunnel run. Transitions
// are monotonic: no phase is re-entered after leaving it, except
// StateMonitoring which loops internally.
type RunState string

const (
	StateIdle               RunState = "Idle"
	StateRunningPreCommands RunState = "RunningPreCommands"
	StateConnecting         RunState = "Connecting"
	StateForwarding         RunState = "Forwarding"
	StateServing            RunState = "Serving"
	StateMonitoring         RunState = "Monitoring"
	StateShuttingDown       RunState = "ShuttingDown"
	StateClosed             RunState = "Closed"

	// Terminal failure states. No retry; the run ends with a diagnostic.
	StateConnectFailed RunState = "ConnectFailed"
	StateForwardFailed RunState = "ForwardFailed"
)

// StopReason records why the monitor loop decided to shut down.
type StopReason string

const (
	StopReasonNone          StopReason = ""
	StopReasonUserRequested StopReason = "UserRequested"
	StopReasonSessionDied   StopReason = "SessionDied"
	StopReasonServeExited   StopReason = "ServeExited"
	StopReasonSetupFailed   StopReason = "SetupFailed"
)
