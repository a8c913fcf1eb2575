package store

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"

	"github.com/strct-org/strct-hosts/internal/errs"
	"github.com/strct-org/strct-hosts/internal/hosts"
)

// Block-lists routinely carry underscores, so the strict STD3 rules are off.
var hostnameProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(false),
)

// NormalizeHostname rejects anything that cannot appear as a hosts-file
// name. Hostnames are case-sensitive tokens in a hosts file, so an ASCII
// name is returned exactly as given; only non-ASCII names are converted to
// punycode.
func NormalizeHostname(h string) (string, error) {
	h = strings.TrimSuffix(strings.TrimSpace(h), ".")
	if h == "" {
		return "", invalid("hostname is empty")
	}
	if strings.ContainsAny(h, " \t#") {
		return "", invalid(fmt.Sprintf("hostname %q contains whitespace or '#'", h))
	}

	if _, err := hostnameProfile.ToASCII(h); err != nil {
		return "", invalid(fmt.Sprintf("hostname %q: %v", h, err))
	}
	name := h
	if !isASCII(h) {
		var err error
		if name, err = idna.Punycode.ToASCII(h); err != nil {
			return "", invalid(fmt.Sprintf("hostname %q: %v", h, err))
		}
	}

	if strings.EqualFold(name, hosts.LocalhostHostname) {
		return "", invalid("localhost cannot be overridden")
	}
	if _, err := netip.ParseAddr(name); err == nil {
		return "", invalid(fmt.Sprintf("%q is an ip address, not a hostname", h))
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return "", invalid(fmt.Sprintf("hostname %q is not a valid domain name", h))
	}
	return name, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// NormalizeIP returns the canonical text form of an IPv4 or IPv6 address.
func NormalizeIP(s string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", invalid(fmt.Sprintf("ip %q: %v", s, err))
	}
	return addr.String(), nil
}

// NormalizeSourceURL accepts absolute http and https URLs only.
func NormalizeSourceURL(s string) (string, error) {
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil {
		return "", invalid(fmt.Sprintf("url %q: %v", s, err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", invalid(fmt.Sprintf("url %q: scheme must be http or https", s))
	}
	if u.Host == "" {
		return "", invalid(fmt.Sprintf("url %q: missing host", s))
	}
	return u.String(), nil
}

// sourceKey is the lookup form of a URL given to enable, disable or remove.
func sourceKey(raw string) string {
	if u, err := NormalizeSourceURL(raw); err == nil {
		return u
	}
	return strings.TrimSpace(raw)
}

func validatePreferences(p Preferences) (Preferences, error) {
	ip, err := NormalizeIP(p.DefaultIP)
	if err != nil {
		return Preferences{}, err
	}
	p.DefaultIP = ip
	return p, nil
}

func invalid(msg string) error {
	return errs.E(errs.KindInvalid, ErrInvalid, msg)
}
