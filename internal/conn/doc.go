// Package conn holds listener-side TCP plumbing shared by handoff's servers:
// keepalive-applying listeners and socket options set before bind.
package conn
