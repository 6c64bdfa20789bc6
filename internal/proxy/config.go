package proxy

import (
	"time"

	"github.com/die-net/handoff/internal/dialer"
)

// DefaultMaxRequestBytes bounds the first request, headers and body.
const DefaultMaxRequestBytes = 1 << 20

type Config struct {
	// Dialer connects to destinations. Defaults to a direct dialer.
	Dialer dialer.Dialer

	// Observer receives session lifecycle notifications. Defaults to
	// NopObserver.
	Observer Observer

	// NegotiationTimeout bounds reading the first request. Zero means no
	// timeout.
	NegotiationTimeout time.Duration

	// DialTimeout bounds the outbound dial. Zero means no timeout.
	DialTimeout time.Duration

	// IdleTimeout closes a relay after neither side has sent anything
	// for this long. Zero means no timeout.
	IdleTimeout time.Duration

	// MaxRequestBytes bounds the first request. Zero selects
	// DefaultMaxRequestBytes.
	MaxRequestBytes int64
}

func (c Config) withDefaults() Config {
	if c.Dialer == nil {
		c.Dialer = dialer.NewDirectDialer(dialer.Config{DialTimeout: c.DialTimeout})
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = DefaultMaxRequestBytes
	}
	return c
}
