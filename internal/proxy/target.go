package proxy

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Intent is what a client wants from its first request.
type Intent int

const (
	// IntentForward replays the first request to the host it names.
	IntentForward Intent = iota
	// IntentTunnel opens an opaque byte pipe (HTTP CONNECT).
	IntentTunnel
)

func (i Intent) String() string {
	switch i {
	case IntentForward:
		return "forward"
	case IntentTunnel:
		return "tunnel"
	default:
		return "unknown"
	}
}

// DefaultPort is the port used when the target omits one.
func (i Intent) DefaultPort() int {
	if i == IntentTunnel {
		return 443
	}
	return 80
}

// Target is a session's destination.
type Target struct {
	Host string
	Port int
}

func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// ResolveTarget extracts the destination from authority, which is the
// CONNECT request-target for IntentTunnel and the request's host for
// IntentForward.
//
// The string is split on its last colon. A trailing token that is a port in
// 1..65535 becomes the port; any other trailing token is dropped in favor of
// the intent's default port. Bracketed IPv6 literals are unbracketed, and an
// unbracketed string with several colons must be a bare IPv6 literal.
func ResolveTarget(intent Intent, authority string) (Target, error) {
	malformed := func(reason string) (Target, error) {
		return Target{}, &MalformedTargetError{Input: authority, Reason: reason}
	}

	if authority == "" {
		return malformed("empty")
	}

	host, port := authority, intent.DefaultPort()
	switch {
	case strings.HasPrefix(authority, "["):
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return malformed("unterminated IPv6 literal")
		}
		host = authority[1:end]
		if rest := authority[end+1:]; rest != "" {
			if rest[0] != ':' {
				return malformed("junk after IPv6 literal")
			}
			if p, ok := parsePort(rest[1:]); ok {
				port = p
			}
		}
		if _, err := netip.ParseAddr(host); err != nil || !strings.Contains(host, ":") {
			return malformed("invalid IPv6 literal")
		}
		return Target{Host: host, Port: port}, nil

	case strings.Count(authority, ":") > 1:
		if _, err := netip.ParseAddr(authority); err != nil {
			return malformed("too many colons")
		}
		return Target{Host: authority, Port: port}, nil

	default:
		if i := strings.LastIndexByte(authority, ':'); i >= 0 {
			host = authority[:i]
			if p, ok := parsePort(authority[i+1:]); ok {
				port = p
			}
		}
	}

	if host == "" {
		return malformed("missing host")
	}
	if strings.ContainsFunc(host, invalidHostRune) {
		return malformed("invalid character in host")
	}

	return Target{Host: host, Port: port}, nil
}

func parsePort(s string) (int, bool) {
	if s == "" || len(s) > 5 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, false
	}
	return p, true
}

func invalidHostRune(r rune) bool {
	if r <= ' ' || r == 0x7f {
		return true
	}
	switch r {
	case '/', '\\', '@', '[', ']', '?', '#':
		return true
	}
	return false
}
