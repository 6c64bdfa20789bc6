package proxy

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

var errRequestTooLarge = errors.New("request too large")

// firstRequest is a session's parsed first request together with every byte
// read from the client to produce it.
type firstRequest struct {
	req    *http.Request
	intent Intent

	// host is the Host header as sent. http.ReadRequest prefers an
	// absolute-form URI authority over it and drops it from req.Header.
	host string

	// raw holds all bytes read from the client, in order. The request
	// itself is raw[:headLen]; the rest was read ahead of it.
	raw     []byte
	headLen int
}

// authority is the string the destination is resolved from: the CONNECT
// target, or the Host header with the URI authority as a fallback.
func (f *firstRequest) authority() string {
	if f.intent == IntentTunnel {
		return f.req.RequestURI
	}
	if f.host != "" {
		return f.host
	}
	return f.req.URL.Host
}

// readAhead returns client bytes that followed the first request.
func (f *firstRequest) readAhead() []byte {
	return f.raw[f.headLen:]
}

// recorder keeps a copy of everything read through it and refuses to read
// more than limit bytes.
type recorder struct {
	r     io.Reader
	buf   bytes.Buffer
	limit int64
}

func (rec *recorder) Read(p []byte) (int, error) {
	room := rec.limit - int64(rec.buf.Len())
	if room <= 0 {
		return 0, errRequestTooLarge
	}
	if int64(len(p)) > room {
		p = p[:room]
	}
	n, err := rec.r.Read(p)
	rec.buf.Write(p[:n])
	return n, err
}

// readFirstRequest reads and aggregates one complete HTTP/1.x request,
// headers and body, from c. It never reads more than maxBytes plus one
// bufio buffer from c.
func readFirstRequest(c net.Conn, maxBytes int64, timeout time.Duration) (*firstRequest, error) {
	if timeout > 0 {
		_ = c.SetReadDeadline(time.Now().Add(timeout))
	}

	const readBufSize = 4096
	rec := &recorder{r: c, limit: maxBytes + readBufSize}
	br := bufio.NewReaderSize(rec, readBufSize)

	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, requestError(rec, err)
	}
	if req.ProtoMajor != 1 {
		return nil, &ProtocolError{Status: http.StatusHTTPVersionNotSupported, Err: fmt.Errorf("unsupported protocol %s", req.Proto)}
	}

	if req.ContentLength != 0 && strings.EqualFold(req.Header.Get("Expect"), "100-continue") {
		if _, err := io.WriteString(c, "HTTP/1.1 100 Continue\r\n\r\n"); err != nil {
			return nil, &TransportError{Op: "write 100-continue", Err: err}
		}
	}

	// Aggregate: the body is part of the first request and is replayed with it.
	if _, err := io.Copy(io.Discard, req.Body); err != nil {
		return nil, requestError(rec, err)
	}
	_ = req.Body.Close()

	headLen := rec.buf.Len() - br.Buffered()
	if int64(headLen) > maxBytes {
		return nil, &ProtocolError{Status: http.StatusRequestEntityTooLarge, Err: errRequestTooLarge}
	}

	intent := IntentForward
	if req.Method == http.MethodConnect {
		intent = IntentTunnel
	}

	raw := rec.buf.Bytes()
	return &firstRequest{
		req:     req,
		intent:  intent,
		host:    hostHeader(raw[:headLen]),
		raw:     raw,
		headLen: headLen,
	}, nil
}

// hostHeader returns the first Host header of an already parsed request.
func hostHeader(head []byte) string {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(head)))
	if _, err := tp.ReadLine(); err != nil {
		return ""
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(hdr.Get("Host"))
}

// requestError classifies a failure to read the first request.
func requestError(rec *recorder, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, errRequestTooLarge):
		return &ProtocolError{Status: http.StatusRequestEntityTooLarge, Err: err}
	case errors.As(err, &ne), errors.Is(err, net.ErrClosed):
		return &TransportError{Op: "read request", Err: err}
	case rec.buf.Len() == 0 && errors.Is(err, io.EOF):
		// Connected and left without sending anything.
		return &TransportError{Op: "read request", Err: err}
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return &ProtocolError{Err: err}
	default:
		return &ProtocolError{Status: http.StatusBadRequest, Err: err}
	}
}

// writeStatus writes a minimal HTTP error response to a client that is about
// to be closed.
func writeStatus(w io.Writer, code int, err error) {
	_, _ = fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\n\r\n%s\r\n", code, http.StatusText(code), err.Error())
}
