// Package hosts reads and writes files in the hosts(5) format.
//
// The parser is deliberately lenient: block-lists on the internet are full of
// junk lines, and one of them must never abort a whole apply run.
package hosts

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	LocalhostHostname = "localhost"
	LocalhostIPv4     = "127.0.0.1"

	// LineSeparator is used both between concatenated downloads and in
	// generated files.
	LineSeparator = "\n"

	commentMarker = "#"

	// Some lists carry very long comment banners.
	maxLineSize = 1024 * 1024
)

// ParsedList is the result of parsing one (possibly concatenated) stream.
type ParsedList struct {
	Hostnames map[string]struct{}
	// Comments in the order they were seen, without the leading marker.
	Comments []string
	// Skipped counts malformed lines that were dropped.
	Skipped int
}

// Parse reads r line by line. Only a read error is returned; malformed
// lines are counted in Skipped and otherwise ignored.
func Parse(r io.Reader) (*ParsedList, error) {
	list := &ParsedList{
		Hostnames: make(map[string]struct{}),
		Comments:  make([]string, 0),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		list.parseLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hosts: read list: %w", err)
	}
	return list, nil
}

func (l *ParsedList) parseLine(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	if strings.HasPrefix(trimmed, commentMarker) {
		// Everything after the marker, verbatim (only the trailing CR of
		// CRLF files is dropped).
		idx := strings.Index(line, commentMarker)
		l.Comments = append(l.Comments, strings.TrimRight(line[idx+1:], "\r"))
		return
	}

	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		l.Skipped++
		return
	}

	// "0.0.0.0 host#note": the comment is not part of the name.
	hostname, _, _ := strings.Cut(fields[1], commentMarker)
	if hostname == "" {
		l.Skipped++
		return
	}
	if hostname == LocalhostHostname {
		return
	}
	l.Hostnames[hostname] = struct{}{}
}
