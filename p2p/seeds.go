package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/miekg/dns"
)

const (
	// DefaultSeedResolver is used when no resolver is configured and
	// /etc/resolv.conf cannot be read.
	DefaultSeedResolver = "8.8.8.8:53"

	seedQueryTimeout = 5 * time.Second
)

var ErrNoSeeds = errors.New("no seed addresses resolved")

// SeedResolver turns DNS seed host names into dialable addresses using
// their A and AAAA records.
type SeedResolver struct {
	// Upstream is the DNS server address (host:port).
	Upstream string
	client   *dns.Client
}

// NewSeedResolver creates a resolver. An empty upstream falls back to the
// first nameserver of /etc/resolv.conf, then to DefaultSeedResolver.
func NewSeedResolver(upstream string) *SeedResolver {
	if upstream == "" {
		upstream = systemResolver()
	}
	return &SeedResolver{
		Upstream: upstream,
		client:   &dns.Client{Timeout: seedQueryTimeout},
	}
}

func systemResolver() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return DefaultSeedResolver
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

// LookupSeeds resolves every host and pairs each address with port. Hosts
// that fail to resolve are skipped; an error is returned only if nothing
// resolved at all.
func (r *SeedResolver) LookupSeeds(ctx context.Context, hosts []string, port int) ([]string, error) {
	var (
		out     []string
		lastErr error
	)
	seen := make(map[string]struct{})
	for _, host := range hosts {
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			ips, err := r.query(ctx, host, qtype)
			if err != nil {
				lastErr = err
				continue
			}
			for _, ip := range ips {
				addr := net.JoinHostPort(ip, strconv.Itoa(port))
				if _, dup := seen[addr]; dup {
					continue
				}
				seen[addr] = struct{}{}
				out = append(out, addr)
			}
		}
	}
	if len(out) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoSeeds, lastErr)
		}
		return nil, ErrNoSeeds
	}
	return out, nil
}

func (r *SeedResolver) query(ctx context.Context, host string, qtype uint16) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.Upstream)
	if err != nil {
		return nil, fmt.Errorf("query %s %s: %w", host, dns.TypeToString[qtype], err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("query %s %s: rcode %s", host, dns.TypeToString[qtype], dns.RcodeToString[resp.Rcode])
	}

	var ips []string
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			ips = append(ips, rec.A.String())
		case *dns.AAAA:
			ips = append(ips, rec.AAAA.String())
		}
	}
	return ips, nil
}
