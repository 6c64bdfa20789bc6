package proxy

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestReadFirstRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		intent    Intent
		authority string
		head      string
		ahead     string
	}{
		{
			name:      "connect",
			input:     "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n",
			intent:    IntentTunnel,
			authority: "example.com:443",
			head:      "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n",
		},
		{
			name:      "connect with early payload",
			input:     "CONNECT example.com:443 HTTP/1.1\r\n\r\n\x16\x03\x01hello",
			intent:    IntentTunnel,
			authority: "example.com:443",
			head:      "CONNECT example.com:443 HTTP/1.1\r\n\r\n",
			ahead:     "\x16\x03\x01hello",
		},
		{
			name:      "get origin form",
			input:     "GET /index.html HTTP/1.1\r\nHost: example.com\r\nX-Odd:  spacing \r\n\r\n",
			intent:    IntentForward,
			authority: "example.com",
			head:      "GET /index.html HTTP/1.1\r\nHost: example.com\r\nX-Odd:  spacing \r\n\r\n",
		},
		{
			name:      "host header wins over absolute form",
			input:     "GET http://example.com:8080/ HTTP/1.1\r\nHost: other.example\r\n\r\n",
			intent:    IntentForward,
			authority: "other.example",
			head:      "GET http://example.com:8080/ HTTP/1.1\r\nHost: other.example\r\n\r\n",
		},
		{
			name:      "absolute form without host header",
			input:     "GET http://example.com:8080/ HTTP/1.0\r\n\r\n",
			intent:    IntentForward,
			authority: "example.com:8080",
			head:      "GET http://example.com:8080/ HTTP/1.0\r\n\r\n",
		},
		{
			name:      "post with body and pipelined request",
			input:     "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhelloGET / HTTP/1.1\r\nHost: example.com\r\n\r\n",
			intent:    IntentForward,
			authority: "example.com",
			head:      "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello",
			ahead:     "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n",
		},
		{
			name:      "chunked body",
			input:     "PUT /x HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
			intent:    IntentForward,
			authority: "example.com",
			head:      "PUT /x HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
		},
		{
			name:      "http/1.0 missing host",
			input:     "GET / HTTP/1.0\r\n\r\n",
			intent:    IntentForward,
			authority: "",
			head:      "GET / HTTP/1.0\r\n\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, server := tcpPair(t)
			if _, err := io.WriteString(client, tt.input); err != nil {
				t.Fatal(err)
			}

			first, err := readFirstRequest(server, DefaultMaxRequestBytes, 2*time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if first.intent != tt.intent {
				t.Fatalf("intent: got %v want %v", first.intent, tt.intent)
			}
			if got := first.authority(); got != tt.authority {
				t.Fatalf("authority: got %q want %q", got, tt.authority)
			}
			if got := string(first.raw[:first.headLen]); got != tt.head {
				t.Fatalf("request bytes: got %q want %q", got, tt.head)
			}

			// Anything not yet read stays in the socket; together with the
			// read-ahead it is exactly the remainder of the input.
			rest := string(first.readAhead())
			if len(rest) < len(tt.ahead) {
				_ = client.Close()
				tail, _ := io.ReadAll(server)
				rest += string(tail)
			}
			if rest != tt.ahead {
				t.Fatalf("read-ahead: got %q want %q", rest, tt.ahead)
			}
		})
	}
}

func TestReadFirstRequestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		wantStatus int
		transport  bool
	}{
		{name: "garbage", input: "this is not http\r\n\r\n", wantStatus: http.StatusBadRequest},
		{name: "bad header", input: "GET / HTTP/1.1\r\nno colon here\r\n\r\n", wantStatus: http.StatusBadRequest},
		{name: "http/2", input: "GET / HTTP/2.0\r\nHost: example.com\r\n\r\n", wantStatus: http.StatusHTTPVersionNotSupported},
		{name: "truncated head", input: "GET / HTTP/1.1\r\nHost: exa"},
		{name: "truncated body", input: "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 10\r\n\r\nabc"},
		{name: "empty", input: "", transport: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, server := tcpPair(t)
			if _, err := io.WriteString(client, tt.input); err != nil {
				t.Fatal(err)
			}
			if err := client.(interface{ CloseWrite() error }).CloseWrite(); err != nil {
				t.Fatal(err)
			}

			_, err := readFirstRequest(server, DefaultMaxRequestBytes, 2*time.Second)
			if tt.transport {
				var terr *TransportError
				if !errors.As(err, &terr) {
					t.Fatalf("got %v want *TransportError", err)
				}
				return
			}

			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("got %v want *ProtocolError", err)
			}
			if perr.Status != tt.wantStatus {
				t.Fatalf("status: got %d want %d", perr.Status, tt.wantStatus)
			}
		})
	}
}

func TestReadFirstRequestTooLarge(t *testing.T) {
	t.Parallel()

	const limit = 1024

	tests := []struct {
		name  string
		input string
	}{
		{name: "headers", input: "GET / HTTP/1.1\r\nHost: example.com\r\nX-Big: " + strings.Repeat("a", 8*limit) + "\r\n\r\n"},
		{name: "body", input: "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 8192\r\n\r\n" + strings.Repeat("b", 8*limit)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, server := tcpPair(t)
			go func() {
				_, _ = io.WriteString(client, tt.input)
			}()

			_, err := readFirstRequest(server, limit, 2*time.Second)
			var perr *ProtocolError
			if !errors.As(err, &perr) || perr.Status != http.StatusRequestEntityTooLarge {
				t.Fatalf("got %v want 413", err)
			}
		})
	}
}

func TestReadFirstRequestExpectContinue(t *testing.T) {
	t.Parallel()

	client, server := tcpPair(t)
	head := "POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Length: 4\r\nExpect: 100-continue\r\n\r\n"
	if _, err := io.WriteString(client, head); err != nil {
		t.Fatal(err)
	}

	go func() {
		br := bufio.NewReader(client)
		line, err := br.ReadString('\n')
		if err != nil || !strings.HasPrefix(line, "HTTP/1.1 100 ") {
			return
		}
		_, _ = io.WriteString(client, "data")
	}()

	first, err := readFirstRequest(server, DefaultMaxRequestBytes, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if want := head + "data"; string(first.raw[:first.headLen]) != want {
		t.Fatalf("got %q want %q", first.raw[:first.headLen], want)
	}
}

func TestReadFirstRequestTimeout(t *testing.T) {
	t.Parallel()

	client, server := tcpPair(t)
	if _, err := io.WriteString(client, "GET / HTTP/1.1\r\n"); err != nil {
		t.Fatal(err)
	}

	_, err := readFirstRequest(server, DefaultMaxRequestBytes, 50*time.Millisecond)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("got %v want *TransportError", err)
	}
}

func TestWriteStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writeStatus(&buf, http.StatusBadRequest, errors.New("malformed request"))

	resp, err := http.ReadResponse(bufio.NewReader(&buf), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "malformed request") {
		t.Fatalf("body %q", body)
	}
}
