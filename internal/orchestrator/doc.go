// Package orchestrator sequences the lifecycle of one tunnel: local
// pre-connection commands, SSH connect, reverse port forward, the served
// process, a polling monitor loop over both, and ordered shutdown.
//
// The orchestrator runs on a single control goroutine. The session and
// the served-process supervisor are each owned exclusively by it; the
// only externally shared state is the cancellation flag, an atomic
// boolean set by the signal handler and read at the top of every monitor
// iteration.
package orchestrator
