package proxy

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

// dialFunc adapts a function to dialer.Dialer.
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f dialFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// recordingObserver keeps every notification for later inspection.
type recordingObserver struct {
	mu       sync.Mutex
	opened   int
	closed   int
	dials    []error
	failures []error
	relays   []RelayStats
	done     chan struct{}
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{done: make(chan struct{}, 64)}
}

func (o *recordingObserver) SessionOpened(SessionInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
}

func (o *recordingObserver) DialFinished(_ SessionInfo, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dials = append(o.dials, err)
}

func (o *recordingObserver) SessionFailed(_ SessionInfo, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, err)
}

func (o *recordingObserver) RelayFinished(_ SessionInfo, stats RelayStats, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.relays = append(o.relays, stats)
}

func (o *recordingObserver) SessionClosed(SessionInfo) {
	o.mu.Lock()
	o.closed++
	o.mu.Unlock()
	o.done <- struct{}{}
}

// waitClosed blocks until n sessions have closed.
func (o *recordingObserver) waitClosed(t *testing.T, n int) {
	t.Helper()

	for range n {
		select {
		case <-o.done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for session to close")
		}
	}
}

func (o *recordingObserver) snapshot() (dials, failures []error, relays []RelayStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.dials...), append([]error(nil), o.failures...), append([]RelayStats(nil), o.relays...)
}
