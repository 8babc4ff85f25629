package config

import (
	"fmt"
	"os"
	"strings"
)

// Command is a single local command: a program and its argument string.
// The argument string is split on spaces when the command is executed.
type Command struct {
	Program string `yaml:"program"`
	Args    string `yaml:"args,omitempty"`
}

// String renders the command the way it would be typed on a shell.
func (c Command) String() string {
	if c.Args == "" {
		return c.Program
	}
	return c.Program + " " + c.Args
}

// ArgList splits the argument string into individual arguments.
func (c Command) ArgList() []string {
	if c.Args == "" {
		return nil
	}
	return strings.Split(c.Args, " ")
}

// TunnelConfig is the persisted configuration for one tunnel. It is
// immutable once validated; the orchestrator only ever reads it.
type TunnelConfig struct {
	// Commands run locally before the SSH connection is made.
	BeforeCommands []Command `yaml:"beforeCommands,omitempty"`
	// Commands declared to run remotely after connecting. Declared in the
	// configuration but not executed yet (pending extension point).
	AfterCommands []Command `yaml:"afterCommands,omitempty"`

	// SSH settings.
	Host      string   `yaml:"host"`
	Port      uint16   `yaml:"port,omitempty"` // 0 means the SSH default (22)
	Username  string   `yaml:"username,omitempty"`
	KeyFile   string   `yaml:"keyFile,omitempty"`
	JumpHosts []string `yaml:"jumpHosts,omitempty"`

	// Port forward: traffic arriving on RemotePort is relayed to LocalPort.
	LocalPort  uint16 `yaml:"localPort"`
	RemotePort uint16 `yaml:"remotePort"`

	// Users allowed to access the served content in secure mode.
	Credentials []Credential `yaml:"users,omitempty"`

	Serve ServeSettings `yaml:"serve,omitempty"`
}

// ServeSettings controls how the served process is supervised.
type ServeSettings struct {
	// ExitFatal makes an unexpected exit of the served process shut the
	// tunnel down. When false (the default) the exit is surfaced as a
	// warning and the tunnel stays up.
	ExitFatal bool `yaml:"exitFatal,omitempty"`
}

// Validate checks that a TunnelConfig is complete and usable. A config that fails
// validation must not reach the orchestrator.
func (c *TunnelConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidConfig)
	}
	if c.LocalPort == 0 {
		return fmt.Errorf("%w: localPort must be in range 1-65535", ErrInvalidConfig)
	}
	if c.RemotePort == 0 {
		return fmt.Errorf("%w: remotePort must be in range 1-65535", ErrInvalidConfig)
	}
	if c.KeyFile != "" {
		info, err := os.Stat(c.KeyFile)
		if err != nil {
			return fmt.Errorf("%w: keyFile %q: %v", ErrInvalidConfig, c.KeyFile, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: keyFile %q is a directory", ErrInvalidConfig, c.KeyFile)
		}
	}
	seen := make(map[string]struct{}, len(c.Credentials))
	for _, cred := range c.Credentials {
		if err := cred.Validate(); err != nil {
			return err
		}
		if _, dup := seen[cred.Username]; dup {
			return fmt.Errorf("%w: duplicate credential username %q", ErrInvalidConfig, cred.Username)
		}
		seen[cred.Username] = struct{}{}
	}
	return nil
}

// Addr returns the host:port dial address for the SSH connection,
// applying the default SSH port when none is configured.
func (c *TunnelConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}
