package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Server serves the forward proxy: one session per accepted connection.
//
// Sessions share nothing but the Config; each owns its client and
// destination connections outright.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config

	// mu orders session starts against Close so none starts once Close
	// has begun waiting.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewServer constructs a proxy server. Canceling ctx, or calling Close, stops
// every listener passed to Serve and closes every session.
func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Server{ctx: ctx, cancel: cancel, cfg: cfg.withDefaults()}
}

// Serve accepts connections on ln until the server is closed, then returns
// ErrServerClosed. Temporary accept errors are retried with backoff; any
// other accept error is returned.
func (s *Server) Serve(ln net.Listener) error {
	stop := context.AfterFunc(s.ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return ErrServerClosed
			}
			if isTemporary(err) {
				// Back off the way net/http does when out of file descriptors.
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if !s.startSession(c) {
			_ = c.Close()
			return ErrServerClosed
		}
	}
}

func (s *Server) startSession(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return false
	}
	s.wg.Go(func() {
		s.serveConn(c)
	})
	return true
}

// Close stops accepting, closes every session, and waits for their
// goroutines to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Server) serveConn(c net.Conn) {
	obs := s.cfg.Observer
	sess := newSession(s.cfg, c)
	obs.SessionOpened(sess.info())

	if relay := sess.run(s.ctx); relay != nil {
		stats, err := relay.Run(s.ctx)
		obs.RelayFinished(sess.info(), stats, err)
	}

	obs.SessionClosed(sess.info())
}

func isTemporary(err error) bool {
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}
