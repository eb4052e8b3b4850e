package certmgr

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// defaultResolver is used when no resolver address is configured; it is
// overridden in tests.
const defaultResolver = "8.8.8.8:53"

// Preflight checks, per spec.md §4.9, that an A record exists for host and
// a TXT record exists for _acme-challenge.host before issuance is
// attempted. It never returns an error for "missing record" — that is a
// normal skip condition, not a failure — only for resolver I/O problems.
type Preflight struct {
	Resolver string
	Client   *dns.Client
}

// NewPreflight creates a preflight checker against the given resolver
// address (host:port); an empty address uses defaultResolver.
func NewPreflight(resolver string) *Preflight {
	if resolver == "" {
		resolver = defaultResolver
	}
	return &Preflight{
		Resolver: resolver,
		Client:   &dns.Client{Timeout: 5 * time.Second},
	}
}

// Ready reports whether both the apex A record and the ACME challenge TXT
// record are present for host.
func (p *Preflight) Ready(host string) (bool, error) {
	hasA, err := p.hasRecord(host, dns.TypeA)
	if err != nil {
		return false, fmt.Errorf("checking A record for %s: %w", host, err)
	}
	if !hasA {
		return false, nil
	}

	hasTXT, err := p.hasRecord("_acme-challenge."+host, dns.TypeTXT)
	if err != nil {
		return false, fmt.Errorf("checking TXT record for %s: %w", host, err)
	}
	return hasTXT, nil
}

func (p *Preflight) hasRecord(name string, rrType uint16) (bool, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), rrType)
	m.RecursionDesired = true

	resp, _, err := p.Client.Exchange(m, p.Resolver)
	if err != nil {
		return false, err
	}
	if resp.Rcode == dns.RcodeNameError {
		return false, nil
	}
	if resp.Rcode != dns.RcodeSuccess {
		return false, fmt.Errorf("dns query for %s returned rcode %d", name, resp.Rcode)
	}
	return len(resp.Answer) > 0, nil
}
