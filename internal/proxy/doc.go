// Package proxy implements handoff's HTTP forward proxy.
//
// Each accepted connection becomes a session. The session reads exactly one
// HTTP/1.x request, resolves a destination from it (the CONNECT target, or
// the Host of any other request), dials that destination, and answers the
// client: a "200 Connection Established" for CONNECT, or a verbatim replay
// of the request to the destination otherwise. Both connections are then
// handed to a Relay that copies raw bytes in each direction until either
// side closes. Nothing after the first request is parsed.
package proxy
