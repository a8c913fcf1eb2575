package hosts_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/strct-org/strct-hosts/internal/hosts"
)

func TestParse_ClassifiesLines(t *testing.T) {
	input := strings.Join([]string{
		"# Title: test list",
		"",
		"   ",
		"127.0.0.1 localhost",
		"0.0.0.0 ads.example.com",
		"0.0.0.0\ttracker.example.com   # trailing note",
		"  # indented comment",
		"0.0.0.0 Mixed.Case.COM",
		"0.0.0.0 crlf.example.com\r",
		"#crlf comment\r",
	}, "\n")

	list, err := hosts.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	wantHosts := []string{"ads.example.com", "tracker.example.com", "Mixed.Case.COM", "crlf.example.com"}
	if len(list.Hostnames) != len(wantHosts) {
		t.Fatalf("got %d hostnames, want %d: %v", len(list.Hostnames), len(wantHosts), list.Hostnames)
	}
	for _, h := range wantHosts {
		if _, ok := list.Hostnames[h]; !ok {
			t.Errorf("hostname %q missing", h)
		}
	}
	if _, ok := list.Hostnames["localhost"]; ok {
		t.Error("localhost must not be in the parsed set")
	}

	wantComments := []string{" Title: test list", " indented comment", "crlf comment"}
	if !reflect.DeepEqual(list.Comments, wantComments) {
		t.Errorf("Comments = %q, want %q", list.Comments, wantComments)
	}
	if list.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", list.Skipped)
	}
}

func TestParse_MalformedLinesAreSkipped(t *testing.T) {
	input := "0.0.0.0 good.example.com\n" +
		"lonely-token\n" +
		"0.0.0.0 # only a comment after the ip\n" +
		"0.0.0.0 other.example.com\n"

	list, err := hosts.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(list.Hostnames) != 2 {
		t.Errorf("got %d hostnames, want 2: %v", len(list.Hostnames), list.Hostnames)
	}
	if list.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", list.Skipped)
	}
}

func TestParse_CommentGluedToHostname(t *testing.T) {
	tests := []struct {
		line      string
		wantHosts []string
		wantSkip  int
	}{
		{"0.0.0.0 ads.example.com#tracker", []string{"ads.example.com"}, 0},
		{"0.0.0.0 ads.example.com# tracker", []string{"ads.example.com"}, 0},
		{"0.0.0.0 #tracker", nil, 1},
		{"0.0.0.0 localhost#loopback", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			list, err := hosts.Parse(strings.NewReader(tt.line + "\n"))
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if len(list.Hostnames) != len(tt.wantHosts) {
				t.Fatalf("hostnames = %v, want %v", list.Hostnames, tt.wantHosts)
			}
			for _, h := range tt.wantHosts {
				if _, ok := list.Hostnames[h]; !ok {
					t.Errorf("hostname %q missing: %v", h, list.Hostnames)
				}
			}
			if list.Skipped != tt.wantSkip {
				t.Errorf("Skipped = %d, want %d", list.Skipped, tt.wantSkip)
			}
		})
	}
}

func TestParse_IsDeterministic(t *testing.T) {
	input := "# a\n0.0.0.0 one.com\n# b\n0.0.0.0 two.com\n0.0.0.0 one.com\n# c\n"

	first, err := hosts.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	second, err := hosts.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if !reflect.DeepEqual(first.Comments, second.Comments) {
		t.Errorf("comment order differs: %q vs %q", first.Comments, second.Comments)
	}
	if !reflect.DeepEqual(first.Hostnames, second.Hostnames) {
		t.Errorf("hostname sets differ: %v vs %v", first.Hostnames, second.Hostnames)
	}
}

func TestParse_ConcatenatedSourcesDoNotMergeLines(t *testing.T) {
	// Two bodies, the first without a final newline, joined the way the
	// fetcher joins them.
	input := "0.0.0.0 first.com" + hosts.LineSeparator + "0.0.0.0 second.com\n" + hosts.LineSeparator

	list, err := hosts.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	for _, h := range []string{"first.com", "second.com"} {
		if _, ok := list.Hostnames[h]; !ok {
			t.Errorf("hostname %q missing", h)
		}
	}
}

func TestParse_NeverFailsOnGarbage(t *testing.T) {
	garbage := []string{
		"\x00\x01\x02",
		"::::",
		"0.0.0.0",
		"############",
		"\t\t\t",
		"ünïcödé höst",
	}
	for _, line := range garbage {
		if _, err := hosts.Parse(strings.NewReader(line)); err != nil {
			t.Errorf("Parse(%q) returned error: %v", line, err)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestParse_ReaderErrorIsReturned(t *testing.T) {
	if _, err := hosts.Parse(failingReader{}); err == nil {
		t.Fatal("expected error from failing reader")
	}
}
