package store

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/strct-org/strct-hosts/internal/errs"
)

type document struct {
	Sources      []Source    `yaml:"sources"`
	Whitelist    []Entry     `yaml:"whitelist"`
	Blacklist    []Entry     `yaml:"blacklist"`
	Redirections []Entry     `yaml:"redirections"`
	Preferences  Preferences `yaml:"preferences"`
}

func (d document) clone() document {
	return document{
		Sources:      slices.Clone(d.Sources),
		Whitelist:    slices.Clone(d.Whitelist),
		Blacklist:    slices.Clone(d.Blacklist),
		Redirections: slices.Clone(d.Redirections),
		Preferences:  d.Preferences,
	}
}

func (d *document) list(l List) *[]Entry {
	switch l {
	case ListWhitelist:
		return &d.Whitelist
	case ListBlacklist:
		return &d.Blacklist
	default:
		return &d.Redirections
	}
}

// YAMLStore keeps the whole document in memory and rewrites the file on
// every change through a temp file and rename.
type YAMLStore struct {
	path string

	mu  sync.RWMutex
	doc document
}

// OpenYAML loads path. A missing file is not an error; it is created on the
// first write.
func OpenYAML(path string) (*YAMLStore, error) {
	s := &YAMLStore{path: path, doc: document{Preferences: DefaultPreferences()}}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("store: no yaml file yet, starting empty", "path", path)
		return s, nil
	case err != nil:
		return nil, errs.E(opOpen, errs.KindIO, err)
	}

	if err := yaml.Unmarshal(b, &s.doc); err != nil {
		return nil, errs.E(opOpen, errs.KindInvalid, err, "store file "+path+" is not valid yaml")
	}
	if s.doc.Preferences.DefaultIP == "" {
		s.doc.Preferences.DefaultIP = DefaultRedirectIP
	}
	return s, nil
}

func (s *YAMLStore) Close() error { return nil }

func (s *YAMLStore) Sources(ctx context.Context) ([]Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.doc.Sources), nil
}

func (s *YAMLStore) EnabledSources(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var urls []string
	for _, src := range s.doc.Sources {
		if src.Enabled {
			urls = append(urls, src.URL)
		}
	}
	return urls, nil
}

func (s *YAMLStore) Entries(ctx context.Context, list List) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(*s.doc.list(list))
	sortEntries(out)
	return out, nil
}

func (s *YAMLStore) Whitelist(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return enabledHostSet(s.doc.Whitelist), nil
}

func (s *YAMLStore) Blacklist(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return enabledHostSet(s.doc.Blacklist), nil
}

func (s *YAMLStore) Redirections(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return enabledRedirections(s.doc.Redirections), nil
}

func (s *YAMLStore) Preferences(ctx context.Context) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Preferences, nil
}

func (s *YAMLStore) AddSource(ctx context.Context, rawURL string) error {
	u, err := NormalizeSourceURL(rawURL)
	if err != nil {
		return errs.E(opAddSource, err)
	}
	return s.update(func(d *document) error {
		if slices.ContainsFunc(d.Sources, func(src Source) bool { return src.URL == u }) {
			return exists(opAddSource, "source", u)
		}
		d.Sources = append(d.Sources, Source{URL: u, Enabled: true})
		return nil
	})
}

func (s *YAMLStore) SetSourceEnabled(ctx context.Context, rawURL string, enabled bool) error {
	u := sourceKey(rawURL)
	return s.update(func(d *document) error {
		i := slices.IndexFunc(d.Sources, func(src Source) bool { return src.URL == u })
		if i < 0 {
			return notFound(opSetSource, "source", u)
		}
		d.Sources[i].Enabled = enabled
		return nil
	})
}

func (s *YAMLStore) RemoveSource(ctx context.Context, rawURL string) error {
	u := sourceKey(rawURL)
	return s.update(func(d *document) error {
		i := slices.IndexFunc(d.Sources, func(src Source) bool { return src.URL == u })
		if i < 0 {
			return notFound(opRemoveSource, "source", u)
		}
		d.Sources = slices.Delete(d.Sources, i, i+1)
		return nil
	})
}

func (s *YAMLStore) AddWhitelist(ctx context.Context, hostname string) error {
	return s.addEntry(ListWhitelist, hostname, "")
}

func (s *YAMLStore) AddBlacklist(ctx context.Context, hostname string) error {
	return s.addEntry(ListBlacklist, hostname, "")
}

func (s *YAMLStore) AddRedirection(ctx context.Context, hostname, ip string) error {
	addr, err := NormalizeIP(ip)
	if err != nil {
		return errs.E(opAddEntry, err)
	}
	return s.addEntry(ListRedirection, hostname, addr)
}

func (s *YAMLStore) addEntry(list List, hostname, ip string) error {
	h, err := NormalizeHostname(hostname)
	if err != nil {
		return errs.E(opAddEntry, err)
	}
	return s.update(func(d *document) error {
		entries := d.list(list)
		if slices.ContainsFunc(*entries, func(e Entry) bool { return e.Hostname == h }) {
			return exists(opAddEntry, string(list)+" entry", h)
		}
		*entries = append(*entries, Entry{Hostname: h, IP: ip, Enabled: true})
		return nil
	})
}

func (s *YAMLStore) SetEntryEnabled(ctx context.Context, list List, hostname string, enabled bool) error {
	h, err := NormalizeHostname(hostname)
	if err != nil {
		return errs.E(opSetEntry, err)
	}
	return s.update(func(d *document) error {
		entries := *d.list(list)
		i := slices.IndexFunc(entries, func(e Entry) bool { return e.Hostname == h })
		if i < 0 {
			return notFound(opSetEntry, string(list)+" entry", h)
		}
		entries[i].Enabled = enabled
		return nil
	})
}

func (s *YAMLStore) RemoveEntry(ctx context.Context, list List, hostname string) error {
	h, err := NormalizeHostname(hostname)
	if err != nil {
		return errs.E(opRemoveEntry, err)
	}
	return s.update(func(d *document) error {
		entries := d.list(list)
		i := slices.IndexFunc(*entries, func(e Entry) bool { return e.Hostname == h })
		if i < 0 {
			return notFound(opRemoveEntry, string(list)+" entry", h)
		}
		*entries = slices.Delete(*entries, i, i+1)
		return nil
	})
}

func (s *YAMLStore) SetPreferences(ctx context.Context, p Preferences) error {
	p, err := validatePreferences(p)
	if err != nil {
		return errs.E(opSetPrefs, err)
	}
	return s.update(func(d *document) error {
		d.Preferences = p
		return nil
	})
}

// update applies fn to a copy of the document, persists it and only then
// makes it visible to readers.
func (s *YAMLStore) update(fn func(*document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *YAMLStore) save(d document) error {
	b, err := yaml.Marshal(d)
	if err != nil {
		return errs.E(errs.KindOther, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.E(errs.KindIO, err)
	}
	tmp, err := os.CreateTemp(dir, ".store-*.yaml")
	if err != nil {
		return errs.E(errs.KindIO, err)
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(b)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmpName, s.path)
	}
	if werr != nil {
		os.Remove(tmpName)
		return errs.E(errs.KindIO, werr)
	}
	return nil
}
