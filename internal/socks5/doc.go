// Package socks5 implements the client half of the SOCKS5 CONNECT handshake
// used by handoff's socks5:// upstream.
//
// It is a thin layer over the wire types in github.com/txthinking/socks5 so
// that dialers only deal with a net.Conn and a host:port string.
package socks5
