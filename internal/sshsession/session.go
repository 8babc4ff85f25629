// Package sshsession implements the authenticated remote session the
// tunnel runs over: connection setup (including jump hosts), the reverse
// port forward, liveness probing, and teardown.
package sshsession

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"livetunnel/internal/config"
	"livetunnel/pkg/logging"
)

// sshClient is the subset of *ssh.Client the session uses; narrowed so
// tests can substitute a fake.
type sshClient interface {
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	HandleChannelOpen(channelType string) <-chan ssh.NewChannel
	Dial(n, addr string) (net.Conn, error)
	Close() error
}

// sshDial establishes the outer SSH connection; override in tests.
var sshDial = func(network, addr string, cfg *ssh.ClientConfig) (sshClient, error) {
	return ssh.Dial(network, addr, cfg)
}

// netDial establishes local TCP connections for the relay; override in tests.
var netDial = func(network, address string) (net.Conn, error) {
	return net.Dial(network, address)
}

const (
	connectTimeout = 15 * time.Second
	keepAliveName  = "keepalive@openssh.com"
)

// ErrConnect wraps failures to open the session.
var ErrConnect = errors.New("ssh connection failed")

// ErrForward wraps a rejected or failed reverse-forward request.
var ErrForward = errors.New("remote port forward failed")

// channelForwardMsg is the payload of the tcpip-forward global request
// (RFC 4254 section 7.1).
type channelForwardMsg struct {
	Addr  string
	Rport uint32
}

// forwardedTCPPayload is the payload of a forwarded-tcpip channel open.
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// ClientSession is an exclusive handle on one authenticated SSH
// connection. It is owned by a single goroutine; its methods are not
// safe for concurrent use, matching the orchestrator's sequential access.
type ClientSession struct {
	client    sshClient
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial opens the session described by the configuration: jump hosts in
// order, then the target host, authenticating with the configured key
// file or a running SSH agent.
func Dial(cfg config.TunnelConfig) (*ClientSession, error) {
	clientCfg, err := buildClientConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	client, err := dialChain(cfg, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	logging.Info("SSHSession", "Connected to %s", cfg.Addr())
	return &ClientSession{
		client: client,
		closed: make(chan struct{}),
	}, nil
}

// dialChain connects through the configured jump hosts, if any, and
// returns a client for the final target.
func dialChain(cfg config.TunnelConfig, clientCfg *ssh.ClientConfig) (sshClient, error) {
	if len(cfg.JumpHosts) == 0 {
		return sshDial("tcp", cfg.Addr(), clientCfg)
	}

	firstUser, firstAddr := splitJumpHost(cfg.JumpHosts[0], clientCfg.User)
	hopCfg := *clientCfg
	hopCfg.User = firstUser
	hop, err := sshDial("tcp", firstAddr, &hopCfg)
	if err != nil {
		return nil, fmt.Errorf("jump host %s: %w", firstAddr, err)
	}

	for _, next := range append(cfg.JumpHosts[1:], cfg.Addr()) {
		nextUser, nextAddr := splitJumpHost(next, clientCfg.User)
		conn, err := hop.Dial("tcp", nextAddr)
		if err != nil {
			hop.Close()
			return nil, fmt.Errorf("dialing %s through jump host: %w", nextAddr, err)
		}
		nextCfg := *clientCfg
		nextCfg.User = nextUser
		c, chans, reqs, err := ssh.NewClientConn(conn, nextAddr, &nextCfg)
		if err != nil {
			conn.Close()
			hop.Close()
			return nil, fmt.Errorf("handshake with %s: %w", nextAddr, err)
		}
		hop = ssh.NewClient(c, chans, reqs)
	}

	return hop, nil
}

// splitJumpHost parses "user@host:port" with the user and port optional.
func splitJumpHost(raw, defaultUser string) (user, addr string) {
	user = defaultUser
	addr = raw
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		user = raw[:at]
		addr = raw[at+1:]
	}
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	return user, addr
}

// buildClientConfig assembles auth methods and host key policy from the
// tunnel configuration.
func buildClientConfig(cfg config.TunnelConfig) (*ssh.ClientConfig, error) {
	var auths []ssh.AuthMethod

	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing key file %s: %w", cfg.KeyFile, err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			auths = append(auths, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			logging.Warn("SSHSession", "SSH agent socket %s unreachable: %v", sock, err)
		}
	}

	if len(auths) == 0 {
		return nil, errors.New("no usable auth method: set keyFile or run an SSH agent")
	}

	user := cfg.Username
	if user == "" {
		user = os.Getenv("USER")
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback(),
		Timeout:         connectTimeout,
	}, nil
}

// hostKeyCallback verifies against the user's known_hosts file when one
// exists, and otherwise accepts any key with a warning.
func hostKeyCallback() ssh.HostKeyCallback {
	home, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(home, ".ssh", "known_hosts")
		if _, statErr := os.Stat(path); statErr == nil {
			if cb, khErr := knownhosts.New(path); khErr == nil {
				return cb
			} else {
				logging.Warn("SSHSession", "Could not parse %s: %v", path, khErr)
			}
		}
	}
	logging.Warn("SSHSession", "No known_hosts file, host key will not be verified")
	return ssh.InsecureIgnoreHostKey()
}

// RequestRemoteForward asks the server to listen on 127.0.0.1:remotePort
// and relays every forwarded connection to 127.0.0.1:localPort.
func (s *ClientSession) RequestRemoteForward(remotePort, localPort uint16) error {
	// Register the channel handler before the request so no early
	// connection is dropped.
	forwarded := s.client.HandleChannelOpen("forwarded-tcpip")

	payload := ssh.Marshal(&channelForwardMsg{
		Addr:  "127.0.0.1",
		Rport: uint32(remotePort),
	})
	ok, _, err := s.client.SendRequest("tcpip-forward", true, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForward, err)
	}
	if !ok {
		return fmt.Errorf("%w: tcpip-forward request denied by server", ErrForward)
	}

	go s.acceptForwarded(forwarded, localPort)

	logging.Info("SSHSession", "Forwarding remote port %d to local port %d", remotePort, localPort)
	return nil
}

// acceptForwarded serves forwarded-tcpip channels until the session closes.
func (s *ClientSession) acceptForwarded(forwarded <-chan ssh.NewChannel, localPort uint16) {
	localAddr := fmt.Sprintf("127.0.0.1:%d", localPort)
	for {
		select {
		case <-s.closed:
			return
		case ch, open := <-forwarded:
			if !open {
				return
			}
			var payload forwardedTCPPayload
			if err := ssh.Unmarshal(ch.ExtraData(), &payload); err != nil {
				logging.Warn("SSHSession", "Malformed forwarded-tcpip payload: %v", err)
				ch.Reject(ssh.ConnectionFailed, "could not parse forwarded-tcpip payload")
				continue
			}
			go s.relayChannel(ch, localAddr)
		}
	}
}

// relayChannel accepts one forwarded channel and pipes it to the local
// served port in both directions.
func (s *ClientSession) relayChannel(ch ssh.NewChannel, localAddr string) {
	remote, reqs, err := ch.Accept()
	if err != nil {
		logging.Warn("SSHSession", "Failed to accept forwarded channel: %v", err)
		return
	}
	go ssh.DiscardRequests(reqs)
	defer remote.Close()

	local, err := netDial("tcp", localAddr)
	if err != nil {
		logging.Warn("SSHSession", "Local dial %s failed: %v", localAddr, err)
		return
	}
	defer local.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(remote, local)
		remote.CloseWrite()
	}()
	go func() {
		defer wg.Done()
		io.Copy(local, remote)
		if cw, ok := local.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
	}()
	wg.Wait()
}

// CheckLiveness probes the connection with an OpenSSH keepalive request.
// An error means the session is dead.
func (s *ClientSession) CheckLiveness() error {
	_, _, err := s.client.SendRequest(keepAliveName, true, nil)
	if err != nil {
		return fmt.Errorf("keepalive failed: %w", err)
	}
	return nil
}

// Close shuts the connection down. Safe to call more than once; later
// calls return the first result.
func (s *ClientSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
