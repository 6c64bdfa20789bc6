package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Relay copies raw bytes between a client and its destination, one
// relayStage per direction, until either side ends.
type Relay struct {
	client, dest net.Conn
	up, down     relayStage

	closeOnce sync.Once
}

// relayStage forwards everything read from src to dst, unmodified and in
// order.
type relayStage struct {
	name     string
	src, dst net.Conn
	idle     time.Duration
	last     *atomic.Int64
	n        int64
}

// NewRelay pairs client and dest. If idleTimeout is positive the relay ends
// once neither side has sent anything for that long.
func NewRelay(client, dest net.Conn, idleTimeout time.Duration) *Relay {
	last := new(atomic.Int64)
	last.Store(time.Now().UnixNano())

	return &Relay{
		client: client,
		dest:   dest,
		up:     relayStage{name: "relay upstream", src: client, dst: dest, idle: idleTimeout, last: last},
		down:   relayStage{name: "relay downstream", src: dest, dst: client, idle: idleTimeout, last: last},
	}
}

// Run relays until either connection ends or ctx is canceled, then closes
// both. The returned error is the first failure other than a clean EOF.
func (r *Relay) Run(ctx context.Context) (RelayStats, error) {
	start := time.Now()

	stop := context.AfterFunc(ctx, r.Close)
	defer stop()

	var g errgroup.Group
	for _, st := range []*relayStage{&r.up, &r.down} {
		g.Go(func() error {
			err := st.run()
			// st.dst has already been handed every byte st read, so
			// nothing is lost by closing the pair now.
			r.Close()
			return err
		})
	}
	err := g.Wait()

	if err == nil && ctx.Err() != nil {
		err = &TransportError{Op: "relay", Err: ctx.Err()}
	}

	return RelayStats{
		Upstream:   r.up.n,
		Downstream: r.down.n,
		Duration:   time.Since(start),
	}, err
}

// Close closes both connections. It is safe to call more than once and
// from any goroutine.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		_ = r.client.Close()
		_ = r.dest.Close()
	})
}

func (st *relayStage) run() error {
	bufp := relayBuffers.Get()
	defer relayBuffers.Put(bufp)

	var err error
	if st.idle > 0 {
		src := &idleReader{c: st.src, idle: st.idle, last: st.last}
		st.n, err = io.CopyBuffer(writerOnly{st.dst}, src, *bufp)
	} else {
		// TCP to TCP may splice in the kernel and never touch buf.
		st.n, err = io.CopyBuffer(st.dst, st.src, *bufp)
	}

	// The pair was closed by the other direction or by cancellation.
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return &TransportError{Op: st.name, Err: err}
}

// writerOnly hides the destination's ReadFrom so io.CopyBuffer reads
// through the idle deadline with the pooled buffer.
type writerOnly struct {
	io.Writer
}

// idleReader fails a Read only after both directions of the relay have
// been silent for idle.
type idleReader struct {
	c    net.Conn
	idle time.Duration
	last *atomic.Int64
}

func (r *idleReader) Read(p []byte) (int, error) {
	for {
		_ = r.c.SetReadDeadline(time.Now().Add(r.idle))
		n, err := r.c.Read(p)
		if n > 0 {
			r.last.Store(time.Now().UnixNano())
		}
		if n == 0 && errors.Is(err, os.ErrDeadlineExceeded) {
			if time.Since(time.Unix(0, r.last.Load())) < r.idle {
				continue
			}
		}
		return n, err
	}
}
