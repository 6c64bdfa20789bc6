package resolver

import (
	"context"
	"net"
)

// Resolver maps a host name to its addresses.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

var (
	_ Resolver = (*net.Resolver)(nil)
	_ Resolver = (*DNS)(nil)
)
