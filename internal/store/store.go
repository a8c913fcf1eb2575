// Package store persists the user's hosts sources, override lists and
// preferences. Two backends exist: a YAML file and an SQLite database.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/strct-org/strct-hosts/internal/errs"
	"github.com/strct-org/strct-hosts/internal/hosts"
)

const (
	opOpen         errs.Op = "store.Open"
	opRead         errs.Op = "store.Read"
	opAddSource    errs.Op = "store.AddSource"
	opSetSource    errs.Op = "store.SetSourceEnabled"
	opRemoveSource errs.Op = "store.RemoveSource"
	opAddEntry     errs.Op = "store.AddEntry"
	opSetEntry     errs.Op = "store.SetEntryEnabled"
	opRemoveEntry  errs.Op = "store.RemoveEntry"
	opSetPrefs     errs.Op = "store.SetPreferences"
	opSnapshot     errs.Op = "store.Snapshot"
)

const (
	DriverYAML   = "yaml"
	DriverSQLite = "sqlite"

	DefaultRedirectIP = hosts.LocalhostIPv4
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	ErrInvalid  = errors.New("invalid value")
)

// List names one of the three override lists.
type List string

const (
	ListWhitelist   List = "whitelist"
	ListBlacklist   List = "blacklist"
	ListRedirection List = "redirection"
)

// ParseList accepts the names used on the command line and in the API.
func ParseList(s string) (List, error) {
	switch s {
	case "whitelist", "allow":
		return ListWhitelist, nil
	case "blacklist", "block":
		return ListBlacklist, nil
	case "redirection", "redirect", "redirections":
		return ListRedirection, nil
	}
	return "", errs.E(errs.KindInvalid, ErrInvalid, fmt.Sprintf("unknown list %q", s))
}

type Source struct {
	URL     string `json:"url" yaml:"url"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Entry is a row of one of the override lists. IP is only set for
// redirections.
type Entry struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	IP       string `json:"ip,omitempty" yaml:"ip,omitempty"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

type Preferences struct {
	// DefaultIP is written in front of every blocked hostname.
	DefaultIP     string `json:"default_ip" yaml:"default_ip"`
	StripComments bool   `json:"strip_comments" yaml:"strip_comments"`
}

func DefaultPreferences() Preferences {
	return Preferences{DefaultIP: DefaultRedirectIP}
}

// Store is implemented by YAMLStore and SQLStore. Read methods return
// copies; callers may keep or modify them.
type Store interface {
	Sources(ctx context.Context) ([]Source, error)
	EnabledSources(ctx context.Context) ([]string, error)
	Entries(ctx context.Context, list List) ([]Entry, error)
	Whitelist(ctx context.Context) (map[string]struct{}, error)
	Blacklist(ctx context.Context) (map[string]struct{}, error)
	Redirections(ctx context.Context) (map[string]string, error)
	Preferences(ctx context.Context) (Preferences, error)

	AddSource(ctx context.Context, url string) error
	SetSourceEnabled(ctx context.Context, url string, enabled bool) error
	RemoveSource(ctx context.Context, url string) error
	AddWhitelist(ctx context.Context, hostname string) error
	AddBlacklist(ctx context.Context, hostname string) error
	AddRedirection(ctx context.Context, hostname, ip string) error
	SetEntryEnabled(ctx context.Context, list List, hostname string, enabled bool) error
	RemoveEntry(ctx context.Context, list List, hostname string) error
	SetPreferences(ctx context.Context, p Preferences) error

	Close() error
}

// Open returns the backend selected by driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverYAML, "":
		s, err := OpenYAML(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := OpenSQL(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errs.E(opOpen, errs.KindInvalid, ErrInvalid, fmt.Sprintf("unknown store driver %q", driver))
	}
}

// RunInput is the immutable view of the store taken at the start of a run.
type RunInput struct {
	URLs      []string
	Overrides hosts.Overrides
	Options   hosts.BuildOptions
}

// Snapshot reads everything a run needs in one go.
func Snapshot(ctx context.Context, s Store) (RunInput, error) {
	var in RunInput
	var err error

	if in.URLs, err = s.EnabledSources(ctx); err != nil {
		return RunInput{}, errs.E(opSnapshot, err)
	}
	if in.Overrides.Whitelist, err = s.Whitelist(ctx); err != nil {
		return RunInput{}, errs.E(opSnapshot, err)
	}
	if in.Overrides.Blacklist, err = s.Blacklist(ctx); err != nil {
		return RunInput{}, errs.E(opSnapshot, err)
	}
	if in.Overrides.Redirections, err = s.Redirections(ctx); err != nil {
		return RunInput{}, errs.E(opSnapshot, err)
	}
	prefs, err := s.Preferences(ctx)
	if err != nil {
		return RunInput{}, errs.E(opSnapshot, err)
	}
	in.Options = hosts.BuildOptions{DefaultIP: prefs.DefaultIP, StripComments: prefs.StripComments}
	return in, nil
}

func enabledHostSet(entries []Entry) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Enabled {
			set[e.Hostname] = struct{}{}
		}
	}
	return set
}

func enabledRedirections(entries []Entry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Enabled {
			m[e.Hostname] = e.IP
		}
	}
	return m
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Hostname < es[j].Hostname })
}

func notFound(op errs.Op, what, key string) error {
	return errs.E(op, errs.KindNotFound, ErrNotFound, fmt.Sprintf("%s %s not found", what, key))
}

func exists(op errs.Op, what, key string) error {
	return errs.E(op, errs.KindConflict, ErrExists, fmt.Sprintf("%s %s already exists", what, key))
}
