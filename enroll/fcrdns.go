package enroll

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// resolver performs forward-confirmed reverse DNS lookups: given a peer
// IP, find a PTR name whose forward A/AAAA records loop back to the
// same address (spec §4.3, "best-effort hostname discovery"). Adapted
// from core.DNSResolverImpl's ExchangeOne pattern, now driving
// github.com/miekg/dns directly instead of through Boulder's vendored
// copy of it.
type resolver struct {
	client  *dns.Client
	servers []string
	timeout time.Duration
}

func newResolver(servers []string, timeout time.Duration) *resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &resolver{
		client:  &dns.Client{Timeout: timeout},
		servers: servers,
		timeout: timeout,
	}
}

// fcrdns returns the first PTR name for ip whose own forward lookup
// contains ip again. An empty string means no confirmed name was
// found; callers fall back to whatever hostname the client supplied.
func (r *resolver) fcrdns(ctx context.Context, ip net.IP) string {
	if len(r.servers) == 0 || ip == nil {
		return ""
	}

	ptrNames, err := r.lookupPTR(ip)
	if err != nil || len(ptrNames) == 0 {
		return ""
	}

	for _, name := range ptrNames {
		addrs, err := r.lookupForward(name)
		if err != nil {
			continue
		}
		if containsIP(addrs, ip) {
			return strings.TrimSuffix(name, ".")
		}
	}
	return ""
}

func (r *resolver) lookupPTR(ip net.IP) ([]string, error) {
	qname := dns.Fqdn(dns.ReverseAddr(ip.String()))
	msg, err := r.exchange(qname, dns.TypePTR)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, rr := range msg.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			names = append(names, ptr.Ptr)
		}
	}
	return names, nil
}

func (r *resolver) lookupForward(name string) ([]net.IP, error) {
	var ips []net.IP
	for _, t := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg, err := r.exchange(dns.Fqdn(name), t)
		if err != nil {
			continue
		}
		for _, rr := range msg.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				ips = append(ips, rec.A)
			case *dns.AAAA:
				ips = append(ips, rec.AAAA)
			}
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no forward records for %s", name)
	}
	return ips, nil
}

func (r *resolver) exchange(qname string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(qname, qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		rsp, _, err := r.client.Exchange(m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if rsp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("dns rcode %s for %s", dns.RcodeToString[rsp.Rcode], qname)
			continue
		}
		return rsp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no DNS servers configured")
	}
	return nil, lastErr
}

func containsIP(addrs []net.IP, want net.IP) bool {
	for _, a := range addrs {
		if a.Equal(want) {
			return true
		}
	}
	return false
}
