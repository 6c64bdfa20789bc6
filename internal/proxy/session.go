package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// Stage is a session's position in the handshake. Stages only move forward.
type Stage int

const (
	StageAwaitingRequest Stage = iota
	StageDialing
	StageRelaying
	StageClosed
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingRequest:
		return "awaiting_request"
	case StageDialing:
		return "dialing"
	case StageRelaying:
		return "relaying"
	case StageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Owner is the stage that reads a connection: the first-request parser, or
// the relay after handoff.
type Owner int

const (
	OwnerParser Owner = iota
	OwnerRelay
)

// Events that advance a session. Each is posted exactly once by the
// goroutine that produced it.
type (
	event interface{ isEvent() }

	requestParsed struct{ first *firstRequest }
	requestFailed struct{ err error }
	dialSucceeded struct{ conn net.Conn }
	dialFailed    struct{ err error }
)

func (requestParsed) isEvent() {}
func (requestFailed) isEvent() {}
func (dialSucceeded) isEvent() {}
func (dialFailed) isEvent()    {}

// session owns one client connection from accept until it either closes or
// hands the client and its destination to a Relay.
//
// All fields are touched only by the goroutine running run; the reader and
// dial goroutines communicate through events.
type session struct {
	cfg    Config
	remote net.Addr
	client net.Conn
	dest   net.Conn
	owner  Owner

	stage  Stage
	intent Intent
	target Target
	first  *firstRequest

	events      chan event
	dialStart   time.Time
	dialPending bool
}

func newSession(cfg Config, client net.Conn) *session {
	return &session{
		cfg:    cfg,
		remote: client.RemoteAddr(),
		client: client,
		owner:  OwnerParser,
		stage:  StageAwaitingRequest,
		// The reader and the dialer each post at most one event, so
		// neither ever blocks on a session that has stopped listening.
		events: make(chan event, 2),
	}
}

func (s *session) info() SessionInfo {
	return SessionInfo{Remote: s.remote, Stage: s.stage, Intent: s.intent, Target: s.target}
}

// run drives the handshake. It returns the Relay that now owns both
// connections, or nil if the session closed.
func (s *session) run(ctx context.Context) *Relay {
	go s.readRequest()

	for s.stage == StageAwaitingRequest || s.stage == StageDialing {
		select {
		case ev := <-s.events:
			s.handle(ctx, ev)
		case <-ctx.Done():
			s.fail(&TransportError{Op: s.stage.String(), Err: ctx.Err()})
		}
	}

	if s.stage != StageRelaying {
		return nil
	}
	return s.handoff()
}

func (s *session) readRequest() {
	first, err := readFirstRequest(s.client, s.cfg.MaxRequestBytes, s.cfg.NegotiationTimeout)
	if err != nil {
		s.events <- requestFailed{err: err}
		return
	}
	s.events <- requestParsed{first: first}
}

func (s *session) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case requestParsed:
		s.onRequest(ctx, ev.first)
	case requestFailed:
		s.fail(ev.err)
	case dialSucceeded:
		s.onDialed(ev.conn)
	case dialFailed:
		s.dialPending = false
		err := &DialError{Target: s.target, Err: ev.err}
		s.cfg.Observer.DialFinished(s.info(), time.Since(s.dialStart), err)
		s.fail(err)
	}
}

func (s *session) onRequest(ctx context.Context, first *firstRequest) {
	s.first = first
	s.intent = first.intent

	target, err := ResolveTarget(first.intent, first.authority())
	if err != nil {
		s.fail(err)
		return
	}
	s.target = target

	// Nothing reads the client again until the relay owns it: the reader
	// goroutine has returned after one request, so pipelined requests and
	// early tunnel payload wait in the socket until the destination exists.
	s.stage = StageDialing
	s.dialPending = true
	s.dialStart = time.Now()
	go s.dial(ctx, target)
}

func (s *session) dial(ctx context.Context, target Target) {
	if s.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DialTimeout)
		defer cancel()
	}

	c, err := s.cfg.Dialer.DialContext(ctx, "tcp", target.String())
	if err != nil {
		s.events <- dialFailed{err: err}
		return
	}
	s.events <- dialSucceeded{conn: c}
}

func (s *session) onDialed(c net.Conn) {
	s.dialPending = false
	s.dest = c
	s.cfg.Observer.DialFinished(s.info(), time.Since(s.dialStart), nil)

	if err := s.handshake(); err != nil {
		s.fail(err)
		return
	}
	s.stage = StageRelaying
}

// handshake answers a tunnel or replays a forwarded request. It runs before
// the relay exists, so no relayed byte can overtake it.
func (s *session) handshake() error {
	if s.intent == IntentTunnel {
		reply := s.first.req.Proto + " 200 Connection Established\r\n\r\n"
		if _, err := io.WriteString(s.client, reply); err != nil {
			return &TransportError{Op: "write tunnel reply", Err: err}
		}
		if ahead := s.first.readAhead(); len(ahead) > 0 {
			if _, err := s.dest.Write(ahead); err != nil {
				return &TransportError{Op: "write read-ahead", Err: err}
			}
		}
		return nil
	}

	if _, err := s.dest.Write(s.first.raw); err != nil {
		return &TransportError{Op: "replay request", Err: err}
	}
	return nil
}

// handoff transfers both connections to a new Relay. The session keeps no
// reference to either afterwards.
func (s *session) handoff() *Relay {
	_ = s.client.SetReadDeadline(time.Time{})

	r := NewRelay(s.client, s.dest, s.cfg.IdleTimeout)
	s.owner = OwnerRelay
	s.first = nil
	s.client, s.dest = nil, nil
	return r
}

// fail closes the session. A ProtocolError with a status gets a response
// first; every other failure closes silently.
func (s *session) fail(err error) {
	s.cfg.Observer.SessionFailed(s.info(), err)

	var perr *ProtocolError
	if errors.As(err, &perr) && perr.Status != 0 {
		_ = s.client.SetWriteDeadline(time.Now().Add(time.Second))
		writeStatus(s.client, perr.Status, perr.Err)
		lingerClose(s.client)
	} else {
		_ = s.client.Close()
	}
	if s.dest != nil {
		_ = s.dest.Close()
	}
	s.stage = StageClosed

	if s.dialPending {
		// The dial is still running; whatever it produces has no owner.
		go func() {
			if ev, ok := (<-s.events).(dialSucceeded); ok {
				_ = ev.conn.Close()
			}
		}()
	}
}

const (
	lingerTimeout  = 500 * time.Millisecond
	maxLingerBytes = 256 << 10
)

// lingerClose half-closes c and discards what the client is still sending, so
// unread input does not make the kernel reset the connection before the
// client has read the error response.
func lingerClose(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		_ = c.SetReadDeadline(time.Now().Add(lingerTimeout))
		_, _ = io.CopyN(io.Discard, c, maxLingerBytes)
	}
	_ = c.Close()
}
