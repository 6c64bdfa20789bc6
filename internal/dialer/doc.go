// Package dialer provides the outbound dialers a proxy session uses to reach
// its destination.
//
// Dialers implement a small interface (DialContext) and connect either
// directly or through a parent proxy (HTTP CONNECT, SOCKS5, or SSH). The
// upstream is picked once at startup from a URL; see New.
package dialer
