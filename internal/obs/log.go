package obs

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/die-net/handoff/internal/proxy"
)

// LogObserver logs session lifecycle events with logrus.
type LogObserver struct {
	log logrus.FieldLogger
}

var _ proxy.Observer = (*LogObserver)(nil)

func NewLogObserver(log logrus.FieldLogger) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) entry(info proxy.SessionInfo) *logrus.Entry {
	fields := logrus.Fields{"stage": info.Stage.String()}
	if info.Remote != nil {
		fields["remote"] = info.Remote.String()
	}
	if info.Target.Host != "" {
		fields["intent"] = info.Intent.String()
		fields["target"] = info.Target.String()
	}
	return o.log.WithFields(fields)
}

func (o *LogObserver) SessionOpened(info proxy.SessionInfo) {
	o.entry(info).Trace("session opened")
}

func (o *LogObserver) DialFinished(info proxy.SessionInfo, elapsed time.Duration, err error) {
	e := o.entry(info).WithField("elapsed", elapsed)
	if err != nil {
		e.WithError(err).Debug("dial failed")
		return
	}
	e.Debug("dial finished")
}

// SessionFailed logs client mistakes at info, dial failures at warn, and
// connections that simply went away at debug.
func (o *LogObserver) SessionFailed(info proxy.SessionInfo, err error) {
	kind := proxy.Classify(err)
	e := o.entry(info).WithError(err).WithField("kind", string(kind))
	switch kind {
	case proxy.KindDial:
		e.Warn("session failed")
	case proxy.KindMalformedTarget, proxy.KindProtocol:
		e.Info("session failed")
	default:
		e.Debug("session failed")
	}
}

func (o *LogObserver) RelayFinished(info proxy.SessionInfo, stats proxy.RelayStats, err error) {
	e := o.entry(info).WithFields(logrus.Fields{
		"upstream_bytes":   stats.Upstream,
		"downstream_bytes": stats.Downstream,
		"duration":         stats.Duration,
	})
	if err != nil && proxy.Classify(err) != proxy.KindCanceled {
		e.WithError(err).Info("relay finished")
		return
	}
	e.Debug("relay finished")
}

func (o *LogObserver) SessionClosed(info proxy.SessionInfo) {
	o.entry(info).Trace("session closed")
}
