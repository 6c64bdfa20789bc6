package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/singleflight"
)

// SSHProxyDialer forwards outbound TCP connections through an SSH server.
//
// It keeps at most one SSH transport per dialer and opens one "direct-tcpip"
// channel per DialContext call. The transport is created lazily on first use.
// If opening a channel fails for a reason other than the server refusing it,
// the transport is assumed dead, discarded, and the dial retried once on a
// fresh one.
type SSHProxyDialer struct {
	sshAddr          string
	config           *ssh.ClientConfig
	handshakeTimeout time.Duration
	direct           Dialer

	mu     sync.Mutex
	client *ssh.Client
	sf     singleflight.Group
}

// NewSSHProxyDialer constructs a dialer that forwards connections via the
// SSH server at sshAddr.
//
// Password and cfg.SSHKeyPath may both be set; the server picks which method
// to accept. If cfg.SSHKnownHostsPath is empty host keys are not checked.
func NewSSHProxyDialer(cfg Config, sshAddr, username, password string) (*SSHProxyDialer, error) {
	if sshAddr == "" {
		return nil, errors.New("ssh dialer: missing ssh address")
	}
	if username == "" {
		return nil, errors.New("ssh dialer: missing username")
	}

	var auth []ssh.AuthMethod
	if cfg.SSHKeyPath != "" {
		signer, err := loadPrivateKey(cfg.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("ssh dialer: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if password != "" {
		auth = append(auth, ssh.Password(password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh dialer: missing password or key")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // User explicitly disabled host key checking.
	if cfg.SSHKnownHostsPath != "" {
		var err error
		hostKeyCallback, err = knownhosts.New(cfg.SSHKnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("ssh dialer: loading known_hosts: %w", err)
		}
	}

	return &SSHProxyDialer{
		sshAddr: sshAddr,
		config: &ssh.ClientConfig{
			User:            username,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
		},
		handshakeTimeout: cfg.NegotiationTimeout,
		direct:           NewDirectDialer(cfg),
	}, nil
}

func loadPrivateKey(path string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}

	return signer, nil
}

// DialContext opens a new proxied TCP connection to address.
func (f *SSHProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh proxy dial %s %s: unsupported network", network, address)
	}

	client, err := f.getClient(ctx)
	if err != nil {
		return nil, err
	}

	c, err := client.DialContext(ctx, "tcp", address)
	if err == nil {
		return c, nil
	}

	// OpenChannelError means the transport is healthy but the server could
	// not reach the destination.
	var openErr *ssh.OpenChannelError
	if errors.As(err, &openErr) || ctx.Err() != nil {
		return nil, fmt.Errorf("ssh proxy dial %s: %w", address, err)
	}

	f.invalidateClient(client)
	client, err2 := f.getClient(ctx)
	if err2 != nil {
		return nil, fmt.Errorf("ssh proxy dial %s: %w", address, err)
	}
	c, err = client.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("ssh proxy dial %s: %w", address, err)
	}
	return c, nil
}

// Close closes the shared SSH transport, if any.
func (f *SSHProxyDialer) Close() error {
	f.mu.Lock()
	client := f.client
	f.client = nil
	f.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// getClient returns the shared SSH client, creating it if needed.
//
// Concurrent callers share one connection attempt; each may still bail out
// on its own context.
func (f *SSHProxyDialer) getClient(ctx context.Context) (*ssh.Client, error) {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := f.sf.DoChan("connect", func() (any, error) {
		f.mu.Lock()
		if f.client != nil {
			c := f.client
			f.mu.Unlock()
			return c, nil
		}
		f.mu.Unlock()

		newClient, err := f.dialSSH(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.client = newClient
		f.mu.Unlock()
		return newClient, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

func (f *SSHProxyDialer) dialSSH(ctx context.Context) (*ssh.Client, error) {
	conn, err := f.direct.DialContext(ctx, "tcp", f.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport dial: %w", err)
	}

	if f.handshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(f.handshakeTimeout))
	}

	cc, chans, reqs, err := ssh.NewClientConn(conn, f.sshAddr, f.config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}

	if f.handshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	return ssh.NewClient(cc, chans, reqs), nil
}

// invalidateClient discards client if it is still the shared one.
func (f *SSHProxyDialer) invalidateClient(client *ssh.Client) {
	f.mu.Lock()
	if f.client == client {
		f.client = nil
	}
	f.mu.Unlock()
	_ = client.Close()
}
