package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"livetunnel/internal/config"
	"livetunnel/internal/orchestrator"
	"livetunnel/internal/precmd"
	"livetunnel/internal/serveproc"
	"livetunnel/internal/sshsession"
	"livetunnel/internal/wizard"
	"livetunnel/pkg/logging"
)

// runTunnel is the root RunE: it resolves the served directory, obtains a
// valid configuration, installs the interrupt handler, and hands control
// to the orchestrator until the tunnel is closed.
func runTunnel(cmd *cobra.Command, args []string) error {
	logging.Init(logging.ParseLevel(logLevel), os.Stderr)

	directory, err := resolveDirectory(args)
	if err != nil {
		return err
	}

	assistant := wizard.New()
	cfg, err := obtainConfig(assistant)
	if err != nil {
		return err
	}

	// The interrupt handler only sets this flag; the monitor loop
	// observes it at the top of each iteration.
	var cancelFlag atomic.Bool
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		cancelFlag.Store(true)
	}()

	orch := orchestrator.New(orchestrator.Config{
		Tunnel:    cfg,
		Directory: directory,
		Secure:    secure,
		Dial: func(c config.TunnelConfig) (orchestrator.Session, error) {
			return sshsession.Dial(c)
		},
		Supervisor: serveproc.NewSupervisor(),
		PreRunner:  precmd.NewRunner(),
		Prompter:   assistant,
		Cancel:     &cancelFlag,
	})

	return orch.Run(context.Background())
}

// resolveDirectory picks the served directory: the positional argument
// when given, the working directory otherwise. A missing directory is a
// fatal startup error.
func resolveDirectory(args []string) (string, error) {
	if len(args) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determining working directory: %w", err)
		}
		return wd, nil
	}

	dir := args[0]
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("directory %q not found", dir)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q is not a directory", dir)
	}
	return dir, nil
}

// obtainConfig loads the stored configuration, falling back to the setup
// assistant when reconfiguration was requested, no configuration exists,
// or the stored one is invalid.
func obtainConfig(assistant *wizard.Assistant) (config.TunnelConfig, error) {
	if reconfigure {
		return assistant.Run()
	}

	cfg, err := config.Load()
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, config.ErrNotFound):
		logging.Info("Setup", "No configuration found")
		return assistant.Run()
	case errors.Is(err, config.ErrInvalidConfig):
		logging.Warn("Setup", "Stored configuration is invalid: %v", err)
		return assistant.Run()
	default:
		return config.TunnelConfig{}, err
	}
}
