package proxy

import (
	"net"
	"time"
)

// SessionInfo describes a session to an Observer.
type SessionInfo struct {
	Remote net.Addr
	Stage  Stage
	Intent Intent
	// Target is the zero value until the first request is resolved.
	Target Target
}

// RelayStats summarizes a finished relay.
type RelayStats struct {
	// Upstream counts bytes copied from the client to the destination.
	Upstream int64
	// Downstream counts bytes copied from the destination to the client.
	Downstream int64
	Duration   time.Duration
}

// Observer receives session lifecycle notifications. Every session calls it
// from its own goroutines, so implementations must be safe for concurrent use
// and should not block.
type Observer interface {
	SessionOpened(info SessionInfo)
	DialFinished(info SessionInfo, elapsed time.Duration, err error)
	// SessionFailed is called once for a session that closes before
	// relaying.
	SessionFailed(info SessionInfo, err error)
	RelayFinished(info SessionInfo, stats RelayStats, err error)
	SessionClosed(info SessionInfo)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) SessionOpened(SessionInfo)                      {}
func (NopObserver) DialFinished(SessionInfo, time.Duration, error) {}
func (NopObserver) SessionFailed(SessionInfo, error)               {}
func (NopObserver) RelayFinished(SessionInfo, RelayStats, error)   {}
func (NopObserver) SessionClosed(SessionInfo)                      {}
