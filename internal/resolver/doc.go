// Package resolver provides the name lookups used by the direct dialer.
//
// A *net.Resolver satisfies Resolver. NewDNS instead queries a fixed DNS
// server over UDP (falling back to TCP on truncation), caches answers for
// their TTL, and coalesces concurrent lookups of the same name.
package resolver
