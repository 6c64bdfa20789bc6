package obs

import (
	"time"

	"github.com/die-net/handoff/internal/proxy"
)

// Multi sends every notification to each of its observers in order.
type Multi []proxy.Observer

func (m Multi) SessionOpened(info proxy.SessionInfo) {
	for _, o := range m {
		o.SessionOpened(info)
	}
}

func (m Multi) DialFinished(info proxy.SessionInfo, elapsed time.Duration, err error) {
	for _, o := range m {
		o.DialFinished(info, elapsed, err)
	}
}

func (m Multi) SessionFailed(info proxy.SessionInfo, err error) {
	for _, o := range m {
		o.SessionFailed(info, err)
	}
}

func (m Multi) RelayFinished(info proxy.SessionInfo, stats proxy.RelayStats, err error) {
	for _, o := range m {
		o.RelayFinished(info, stats, err)
	}
}

func (m Multi) SessionClosed(info proxy.SessionInfo) {
	for _, o := range m {
		o.SessionClosed(info)
	}
}
