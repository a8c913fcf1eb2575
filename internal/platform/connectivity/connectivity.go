// Package connectivity answers "is this device online?" before a run
// starts downloading.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/miekg/dns"
	probing "github.com/prometheus-community/pro-bing"
)

const (
	defaultHTTPURL   = "http://clients3.google.com/generate_204"
	defaultDNSServer = "1.1.1.1:53"
	defaultDNSName   = "example.com."
	defaultICMPHost  = "8.8.8.8"
	defaultTimeout   = 3 * time.Second
)

// Checker reports whether the network is reachable.
type Checker interface {
	Online(ctx context.Context) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) bool

func (f CheckerFunc) Online(ctx context.Context) bool { return f(ctx) }

// HTTPProbe issues a GET against a captive-portal style endpoint.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

func (p HTTPProbe) Online(ctx context.Context) bool {
	url := p.URL
	if url == "" {
		url = defaultHTTPURL
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Debug("connectivity: http probe failed", "url", url, "err", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// DNSProbe resolves a well-known name against a public resolver.
type DNSProbe struct {
	Server  string
	Name    string
	Timeout time.Duration
}

func (p DNSProbe) Online(ctx context.Context) bool {
	server, name, timeout := p.Server, p.Name, p.Timeout
	if server == "" {
		server = defaultDNSServer
	}
	if name == "" {
		name = defaultDNSName
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	c := &dns.Client{Timeout: timeout}

	resp, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		slog.Debug("connectivity: dns probe failed", "server", server, "err", err)
		return false
	}
	return resp.Rcode != dns.RcodeServerFailure
}

// ICMPProbe pings a host. Privileged selects raw sockets over UDP pings.
type ICMPProbe struct {
	Target     string
	Count      int
	Timeout    time.Duration
	Privileged bool
}

func (p ICMPProbe) Online(ctx context.Context) bool {
	target := p.Target
	if target == "" {
		target = defaultICMPHost
	}
	pinger, err := probing.NewPinger(target)
	if err != nil {
		slog.Debug("connectivity: icmp probe setup failed", "target", target, "err", err)
		return false
	}
	pinger.SetPrivileged(p.Privileged)
	pinger.Count = p.Count
	if pinger.Count <= 0 {
		pinger.Count = 2
	}
	pinger.Timeout = p.Timeout
	if pinger.Timeout <= 0 {
		pinger.Timeout = defaultTimeout
	}

	if err := pinger.RunWithContext(ctx); err != nil {
		slog.Debug("connectivity: icmp probe failed", "target", target, "err", err)
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// Any is online when at least one of its checkers is. Checkers are tried
// in order and the first success wins.
type Any []Checker

func (a Any) Online(ctx context.Context) bool {
	for _, c := range a {
		if c.Online(ctx) {
			return true
		}
	}
	return false
}

// Options tune the probes built by New.
type Options struct {
	// ICMPPrivileged uses raw sockets for the ICMP probe.
	ICMPPrivileged bool
}

// New returns the checker named by kind: "http", "dns", "icmp", "any" or
// "off".
func New(kind string, opts Options) (Checker, error) {
	icmp := ICMPProbe{Privileged: opts.ICMPPrivileged}
	switch kind {
	case "http", "":
		return HTTPProbe{}, nil
	case "dns":
		return DNSProbe{}, nil
	case "icmp":
		return icmp, nil
	case "any":
		return Any{DNSProbe{}, HTTPProbe{}, icmp}, nil
	case "off":
		return CheckerFunc(func(context.Context) bool { return true }), nil
	default:
		return nil, fmt.Errorf("connectivity: unknown probe %q", kind)
	}
}
