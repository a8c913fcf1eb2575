package hosts

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"sort"
)

const (
	headerGenerated = "# This hosts file is generated by strct-hosts."
	headerWarning   = "# Please do not modify it directly, it will be overwritten when strct-hosts is applied again."
	headerComments  = "# The following lines are comments from the downloaded hosts files:"
)

// Overrides are the user-maintained lists applied on top of the downloaded
// hostnames. They are treated as read-only.
type Overrides struct {
	Whitelist    map[string]struct{}
	Blacklist    map[string]struct{}
	Redirections map[string]string // hostname -> target IP
}

// BuildOptions controls the rendering of the generated file.
type BuildOptions struct {
	DefaultIP     string
	StripComments bool
}

// Stats describes what Build wrote.
type Stats struct {
	Hostnames    int
	Redirections int
	Comments     int
	Bytes        int64
}

// Merge applies the overrides to the parsed hostnames and returns the set of
// hostnames to emit at the default IP. parsed is not modified.
//
// The order is fixed: whitelist removal, then blacklist addition, then
// removal of redirected hostnames. A hostname on both the whitelist and the
// blacklist therefore ends up blocked.
func Merge(parsed map[string]struct{}, o Overrides) map[string]struct{} {
	merged := make(map[string]struct{}, len(parsed)+len(o.Blacklist))
	for h := range parsed {
		merged[h] = struct{}{}
	}
	for h := range o.Whitelist {
		delete(merged, h)
	}
	for h := range o.Blacklist {
		merged[h] = struct{}{}
	}
	for h := range o.Redirections {
		delete(merged, h)
	}
	return merged
}

// Build merges list with o and writes the complete hosts file to w.
// Hostnames and redirections are written sorted so identical inputs give
// identical bytes.
func Build(w io.Writer, list *ParsedList, o Overrides, opts BuildOptions) (Stats, error) {
	if _, err := netip.ParseAddr(opts.DefaultIP); err != nil {
		return Stats{}, fmt.Errorf("hosts: invalid default ip %q: %w", opts.DefaultIP, err)
	}
	for host, ip := range o.Redirections {
		if _, err := netip.ParseAddr(ip); err != nil {
			return Stats{}, fmt.Errorf("hosts: invalid redirection ip %q for %s: %w", ip, host, err)
		}
	}

	merged := Merge(list.Hostnames, o)

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	lw := &lineWriter{w: bw}

	lw.line(headerGenerated)
	lw.line(headerWarning)

	stats := Stats{}
	if !opts.StripComments {
		lw.line(commentMarker + " ")
		lw.line(headerComments)
		for _, c := range list.Comments {
			lw.line(commentMarker + c)
		}
		stats.Comments = len(list.Comments)
	}

	lw.line("")
	lw.entry(opts.DefaultIP, LocalhostHostname)
	lw.line("")

	for _, h := range sortedKeys(merged) {
		lw.entry(opts.DefaultIP, h)
	}
	stats.Hostnames = len(merged)

	redirected := make([]string, 0, len(o.Redirections))
	for h := range o.Redirections {
		redirected = append(redirected, h)
	}
	sort.Strings(redirected)
	for _, h := range redirected {
		lw.entry(o.Redirections[h], h)
	}
	stats.Redirections = len(redirected)

	if lw.err != nil {
		return Stats{}, fmt.Errorf("hosts: write: %w", lw.err)
	}
	if err := bw.Flush(); err != nil {
		return Stats{}, fmt.Errorf("hosts: flush: %w", err)
	}
	stats.Bytes = cw.n
	return stats, nil
}

// WriteDefault writes the minimal hosts file used when reverting.
func WriteDefault(w io.Writer) error {
	_, err := io.WriteString(w, LocalhostIPv4+" "+LocalhostHostname+LineSeparator)
	return err
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lineWriter remembers the first error so Build can write unconditionally.
type lineWriter struct {
	w   io.Writer
	err error
}

func (l *lineWriter) line(s string) {
	if l.err != nil {
		return
	}
	_, l.err = io.WriteString(l.w, s+LineSeparator)
}

func (l *lineWriter) entry(ip, hostname string) {
	l.line(ip + " " + hostname)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
