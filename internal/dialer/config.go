package dialer

import (
	"net"
	"time"

	"github.com/die-net/handoff/internal/resolver"
)

type Config struct {
	// DialTimeout bounds the TCP connect (and DNS lookup) of a single
	// dial. Zero means no timeout.
	DialTimeout time.Duration

	// NegotiationTimeout bounds the handshake with a parent proxy. Zero
	// means no timeout.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// Resolver, if set, is used by the direct dialer instead of the
	// resolver built into net.Dialer.
	Resolver resolver.Resolver

	// SSHKeyPath is an OpenSSH private key file for ssh:// upstreams.
	SSHKeyPath string

	// SSHKnownHostsPath enables host key checking for ssh:// upstreams.
	// Empty disables checking.
	SSHKnownHostsPath string
}
