package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

var errNoResolver = errors.New("no dns server answered")

// Resolver checks host existence against explicit DNS servers so a dead domain
// never consumes a render slot.
type Resolver struct {
	servers []string
	client  *dns.Client
}

// NewResolver returns a Resolver querying servers (host:port) in order.
func NewResolver(servers []string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Resolver{
		servers: servers,
		client:  &dns.Client{Timeout: timeout},
	}
}

// Exists reports false only when a server answers NXDOMAIN. When no server
// answers it returns true with an error so callers proceed to the real fetch.
func (r *Resolver) Exists(ctx context.Context, host string) (bool, error) {
	if skipLookup(host) {
		return true, nil
	}
	rcode, _, err := r.query(ctx, host, dns.TypeA)
	if err != nil {
		return true, err
	}
	return rcode != dns.RcodeNameError, nil
}

// HasMX reports whether domain publishes at least one MX record.
func (r *Resolver) HasMX(ctx context.Context, domain string) (bool, error) {
	rcode, answers, err := r.query(ctx, domain, dns.TypeMX)
	if err != nil {
		return false, err
	}
	if rcode != dns.RcodeSuccess {
		return false, nil
	}
	for _, rr := range answers {
		if _, ok := rr.(*dns.MX); ok {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) query(ctx context.Context, name string, qtype uint16) (int, []dns.RR, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(strings.ToLower(name)), qtype)
	msg.RecursionDesired = true

	lastErr := errNoResolver
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess, dns.RcodeNameError:
			return resp.Rcode, resp.Answer, nil
		default:
			lastErr = fmt.Errorf("rcode %s from %s", dns.RcodeToString[resp.Rcode], server)
		}
	}
	return 0, nil, fmt.Errorf("resolve %s: %w", name, lastErr)
}

func skipLookup(host string) bool {
	if host == "" || net.ParseIP(host) != nil {
		return true
	}
	return host == "localhost" || strings.HasSuffix(host, ".localhost")
}
