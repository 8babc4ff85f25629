// Package wizard implements the interactive setup assistant: it collects
// the tunnel configuration from the operator, hashes credential passwords
// at the moment of entry, and persists the result.
package wizard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"livetunnel/internal/config"
)

// Assistant prompts on out and reads answers from in. Passwords are read
// through readPassword so they never echo; tests substitute it.
type Assistant struct {
	in           *bufio.Reader
	out          io.Writer
	readPassword func() (string, error)
}

// New creates an assistant bound to the process terminal.
func New() *Assistant {
	return &Assistant{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
		readPassword: func() (string, error) {
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stdout)
			return string(b), err
		},
	}
}

// NewWithStreams creates an assistant with explicit streams; passwords
// are read from the same reader, in the clear. For tests.
func NewWithStreams(in io.Reader, out io.Writer) *Assistant {
	a := &Assistant{
		in:  bufio.NewReader(in),
		out: out,
	}
	a.readPassword = func() (string, error) {
		return a.readLine()
	}
	return a
}

// Run walks the operator through the full configuration, validates it,
// and stores it. The returned config is the one that was persisted.
func (a *Assistant) Run() (config.TunnelConfig, error) {
	fmt.Fprintln(a.out, "Starting setup assistant:")

	var cfg config.TunnelConfig
	var err error

	cfg.Host, err = a.promptRequired("SSH host")
	if err != nil {
		return config.TunnelConfig{}, err
	}

	if yes, err := a.promptBool("Set SSH port?", false); err != nil {
		return config.TunnelConfig{}, err
	} else if yes {
		cfg.Port, err = a.promptPort("SSH port", 22)
		if err != nil {
			return config.TunnelConfig{}, err
		}
	}

	if yes, err := a.promptBool("Set username?", false); err != nil {
		return config.TunnelConfig{}, err
	} else if yes {
		cfg.Username, err = a.promptRequired("SSH user")
		if err != nil {
			return config.TunnelConfig{}, err
		}
	}

	if yes, err := a.promptBool("Set key file?", false); err != nil {
		return config.TunnelConfig{}, err
	} else if yes {
		cfg.KeyFile, err = a.promptExistingFile("SSH key file")
		if err != nil {
			return config.TunnelConfig{}, err
		}
	}

	cfg.RemotePort, err = a.promptPort("Remote port to forward from", 0)
	if err != nil {
		return config.TunnelConfig{}, err
	}
	cfg.LocalPort, err = a.promptPort("Local port to host on", 3000)
	if err != nil {
		return config.TunnelConfig{}, err
	}

	if yes, err := a.promptBool("Run local command(s) before connecting?", false); err != nil {
		return config.TunnelConfig{}, err
	} else if yes {
		cfg.BeforeCommands, err = a.promptCommands("Commands to run before connecting")
		if err != nil {
			return config.TunnelConfig{}, err
		}
	}

	if yes, err := a.promptBool("Run remote command(s) after connecting?", false); err != nil {
		return config.TunnelConfig{}, err
	} else if yes {
		cfg.AfterCommands, err = a.promptCommands("Commands to run after connecting (not executed yet)")
		if err != nil {
			return config.TunnelConfig{}, err
		}
	}

	if yes, err := a.promptBool("Use SSH jump hosts?", false); err != nil {
		return config.TunnelConfig{}, err
	} else if yes {
		cfg.JumpHosts, err = a.promptLines("Jump hosts")
		if err != nil {
			return config.TunnelConfig{}, err
		}
	}

	if yes, err := a.promptBool("Add users for secure sharing now?", false); err != nil {
		return config.TunnelConfig{}, err
	} else if yes {
		cfg.Credentials, err = a.CollectCredentials()
		if err != nil {
			return config.TunnelConfig{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.TunnelConfig{}, err
	}
	if err := config.Store(cfg); err != nil {
		return config.TunnelConfig{}, fmt.Errorf("storing configuration: %w", err)
	}
	fmt.Fprintln(a.out, "Configuration saved.")
	return cfg, nil
}

// CollectCredentials prompts for one or more users. Each password is
// hashed immediately; the plaintext is dropped as soon as the digest is
// computed.
func (a *Assistant) CollectCredentials() ([]config.Credential, error) {
	var creds []config.Credential
	for {
		username, err := a.promptRequired("Username")
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(a.out, "Password: ")
		password, err := a.readPassword()
		if err != nil {
			return nil, err
		}
		if password == "" {
			fmt.Fprintln(a.out, "Password must not be empty.")
			continue
		}
		creds = append(creds, config.NewCredential(username, password))

		more, err := a.promptBool("Add another user?", false)
		if err != nil {
			return nil, err
		}
		if !more {
			return creds, nil
		}
	}
}

// OfferAdditionalCredentials asks whether to extend an existing user set
// and collects the additions if the operator wants any.
func (a *Assistant) OfferAdditionalCredentials(existing []config.Credential) ([]config.Credential, error) {
	fmt.Fprintf(a.out, "%d user(s) already configured.\n", len(existing))
	yes, err := a.promptBool("Add new users?", false)
	if err != nil {
		return nil, err
	}
	if !yes {
		return nil, nil
	}
	return a.CollectCredentials()
}

func (a *Assistant) readLine() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *Assistant) promptRequired(label string) (string, error) {
	for {
		fmt.Fprintf(a.out, "%s: ", label)
		answer, err := a.readLine()
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
		fmt.Fprintln(a.out, "A value is required.")
	}
}

func (a *Assistant) promptBool(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(a.out, "%s [%s]: ", label, hint)
	answer, err := a.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (a *Assistant) promptPort(label string, def uint16) (uint16, error) {
	for {
		if def > 0 {
			fmt.Fprintf(a.out, "%s [%d]: ", label, def)
		} else {
			fmt.Fprintf(a.out, "%s: ", label)
		}
		answer, err := a.readLine()
		if err != nil {
			return 0, err
		}
		if answer == "" && def > 0 {
			return def, nil
		}
		port, convErr := strconv.ParseUint(answer, 10, 16)
		if convErr != nil || port == 0 {
			fmt.Fprintln(a.out, "Not a valid port number (1-65535).")
			continue
		}
		return uint16(port), nil
	}
}

func (a *Assistant) promptExistingFile(label string) (string, error) {
	for {
		path, err := a.promptRequired(label)
		if err != nil {
			return "", err
		}
		info, statErr := os.Stat(path)
		if statErr != nil {
			fmt.Fprintln(a.out, "The given file does not exist.")
			continue
		}
		if info.IsDir() {
			fmt.Fprintln(a.out, "Not a file.")
			continue
		}
		return path, nil
	}
}

// promptLines collects free-form lines until an empty line.
func (a *Assistant) promptLines(label string) ([]string, error) {
	fmt.Fprintf(a.out, "%s (one per line, empty line to finish):\n", label)
	var lines []string
	for {
		fmt.Fprint(a.out, "> ")
		line, err := a.readLine()
		if err != nil {
			if err == io.EOF && len(lines) > 0 {
				return lines, nil
			}
			return nil, err
		}
		if line == "" {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// promptCommands collects command lines and splits each into the program
// and its argument string.
func (a *Assistant) promptCommands(label string) ([]config.Command, error) {
	lines, err := a.promptLines(label)
	if err != nil {
		return nil, err
	}
	commands := make([]config.Command, 0, len(lines))
	for _, line := range lines {
		program, args, _ := strings.Cut(line, " ")
		commands = append(commands, config.Command{Program: program, Args: args})
	}
	return commands, nil
}
