package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrNoAddresses is returned when a name resolves without error but has no
// A or AAAA records.
var ErrNoAddresses = errors.New("no addresses")

// LookupError describes a lookup rejected by the DNS server.
type LookupError struct {
	Host  string
	Rcode int
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s: %s", e.Host, dns.RcodeToString[e.Rcode])
}

// DNS resolves names against a single DNS server.
type DNS struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
	cache  *cache.Cache
	sf     singleflight.Group
}

// NewDNS returns a resolver that queries server ("host" or "host:port",
// port 53 by default). Each exchange is bounded by timeout; zero selects the
// miekg/dns default.
func NewDNS(server string, timeout time.Duration) (*DNS, error) {
	if server == "" {
		return nil, errors.New("dns resolver: missing server")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	return &DNS{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
		cache:  cache.New(cache.NoExpiration, time.Minute),
	}, nil
}

// Server returns the host:port queries are sent to.
func (r *DNS) Server() string {
	return r.server
}

// LookupHost returns the IPv4 then IPv6 addresses of host.
//
// IP literals are returned as-is. Answers are cached for the smallest TTL
// among the returned records.
func (r *DNS) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{host}, nil
	}

	name := dns.Fqdn(host)
	if v, ok := r.cache.Get(name); ok {
		return v.([]string), nil
	}

	// The shared lookup outlives any single caller; each caller can still
	// give up on its own context.
	ch := r.sf.DoChan(name, func() (any, error) {
		return r.lookup(context.WithoutCancel(ctx), host, name)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]string), nil
	}
}

func (r *DNS) lookup(ctx context.Context, host, name string) ([]string, error) {
	var (
		v4, v6     []string
		ttl4, ttl6 uint32
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		v4, ttl4, err = r.query(gctx, host, name, dns.TypeA)
		return err
	})
	g.Go(func() error {
		var err error
		v6, ttl6, err = r.query(gctx, host, name, dns.TypeAAAA)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	addrs := append(v4, v6...)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("lookup %s: %w", host, ErrNoAddresses)
	}

	ttl := ttl4
	if len(v4) == 0 || (len(v6) > 0 && ttl6 < ttl) {
		ttl = ttl6
	}
	if ttl > 0 {
		r.cache.Set(name, addrs, time.Duration(ttl)*time.Second)
	}

	return addrs, nil
}

func (r *DNS) query(ctx context.Context, host, name string, qtype uint16) ([]string, uint32, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = true

	in, _, err := r.udp.ExchangeContext(ctx, m, r.server)
	if err == nil && in.Truncated {
		in, _, err = r.tcp.ExchangeContext(ctx, m, r.server)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("lookup %s %s: %w", host, dns.TypeToString[qtype], err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, 0, &LookupError{Host: host, Rcode: in.Rcode}
	}

	var (
		addrs  []string
		minTTL uint32 = math.MaxUint32
	)
	for _, rr := range in.Answer {
		var ip net.IP
		switch a := rr.(type) {
		case *dns.A:
			ip = a.A
		case *dns.AAAA:
			ip = a.AAAA
		default:
			continue
		}
		addrs = append(addrs, ip.String())
		minTTL = min(minTTL, rr.Header().Ttl)
	}
	if len(addrs) == 0 {
		minTTL = 0
	}

	return addrs, minTTL, nil
}
