package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/mattn/go-sqlite3"

	"github.com/strct-org/strct-hosts/internal/errs"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS hosts_sources (
		url TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE TABLE IF NOT EXISTS whitelist (
		hostname TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS blacklist (
		hostname TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS redirection_list (
		hostname TEXT PRIMARY KEY,
		ip TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

const (
	prefDefaultIP     = "default_ip"
	prefStripComments = "strip_comments"
)

// SQLStore keeps the configuration in an SQLite database.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (creating if needed) the database at path.
func OpenSQL(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.E(opOpen, errs.KindIO, err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errs.E(opOpen, errs.KindIO, fmt.Errorf("create schema: %w", err))
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func tableFor(l List) string {
	switch l {
	case ListWhitelist:
		return "whitelist"
	case ListBlacklist:
		return "blacklist"
	default:
		return "redirection_list"
	}
}

func (s *SQLStore) Sources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, enabled FROM hosts_sources ORDER BY created_at, rowid`)
	if err != nil {
		return nil, errs.E(opRead, errs.KindIO, err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.URL, &src.Enabled); err != nil {
			return nil, errs.E(opRead, errs.KindIO, err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.E(opRead, errs.KindIO, err)
	}
	return out, nil
}

func (s *SQLStore) EnabledSources(ctx context.Context) ([]string, error) {
	srcs, err := s.Sources(ctx)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, src := range srcs {
		if src.Enabled {
			urls = append(urls, src.URL)
		}
	}
	return urls, nil
}

func (s *SQLStore) Entries(ctx context.Context, list List) ([]Entry, error) {
	q := `SELECT hostname, '', enabled FROM ` + tableFor(list) + ` ORDER BY hostname`
	if list == ListRedirection {
		q = `SELECT hostname, ip, enabled FROM redirection_list ORDER BY hostname`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errs.E(opRead, errs.KindIO, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Hostname, &e.IP, &e.Enabled); err != nil {
			return nil, errs.E(opRead, errs.KindIO, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.E(opRead, errs.KindIO, err)
	}
	return out, nil
}

func (s *SQLStore) Whitelist(ctx context.Context) (map[string]struct{}, error) {
	es, err := s.Entries(ctx, ListWhitelist)
	if err != nil {
		return nil, err
	}
	return enabledHostSet(es), nil
}

func (s *SQLStore) Blacklist(ctx context.Context) (map[string]struct{}, error) {
	es, err := s.Entries(ctx, ListBlacklist)
	if err != nil {
		return nil, err
	}
	return enabledHostSet(es), nil
}

func (s *SQLStore) Redirections(ctx context.Context) (map[string]string, error) {
	es, err := s.Entries(ctx, ListRedirection)
	if err != nil {
		return nil, err
	}
	return enabledRedirections(es), nil
}

func (s *SQLStore) Preferences(ctx context.Context) (Preferences, error) {
	p := DefaultPreferences()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return Preferences{}, errs.E(opRead, errs.KindIO, err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Preferences{}, errs.E(opRead, errs.KindIO, err)
		}
		switch k {
		case prefDefaultIP:
			p.DefaultIP = v
		case prefStripComments:
			p.StripComments, _ = strconv.ParseBool(v)
		}
	}
	if err := rows.Err(); err != nil {
		return Preferences{}, errs.E(opRead, errs.KindIO, err)
	}
	return p, nil
}

func (s *SQLStore) AddSource(ctx context.Context, rawURL string) error {
	u, err := NormalizeSourceURL(rawURL)
	if err != nil {
		return errs.E(opAddSource, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO hosts_sources (url, enabled) VALUES (?, 1)`, u)
	if isConstraint(err) {
		return exists(opAddSource, "source", u)
	}
	if err != nil {
		return errs.E(opAddSource, errs.KindIO, err)
	}
	return nil
}

func (s *SQLStore) SetSourceEnabled(ctx context.Context, rawURL string, enabled bool) error {
	u := sourceKey(rawURL)
	res, err := s.db.ExecContext(ctx, `UPDATE hosts_sources SET enabled = ? WHERE url = ?`, enabled, u)
	return affected(opSetSource, res, err, "source", u)
}

func (s *SQLStore) RemoveSource(ctx context.Context, rawURL string) error {
	u := sourceKey(rawURL)
	res, err := s.db.ExecContext(ctx, `DELETE FROM hosts_sources WHERE url = ?`, u)
	return affected(opRemoveSource, res, err, "source", u)
}

func (s *SQLStore) AddWhitelist(ctx context.Context, hostname string) error {
	return s.addEntry(ctx, ListWhitelist, hostname)
}

func (s *SQLStore) AddBlacklist(ctx context.Context, hostname string) error {
	return s.addEntry(ctx, ListBlacklist, hostname)
}

func (s *SQLStore) addEntry(ctx context.Context, list List, hostname string) error {
	h, err := NormalizeHostname(hostname)
	if err != nil {
		return errs.E(opAddEntry, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO `+tableFor(list)+` (hostname, enabled) VALUES (?, 1)`, h)
	if isConstraint(err) {
		return exists(opAddEntry, string(list)+" entry", h)
	}
	if err != nil {
		return errs.E(opAddEntry, errs.KindIO, err)
	}
	return nil
}

func (s *SQLStore) AddRedirection(ctx context.Context, hostname, ip string) error {
	h, err := NormalizeHostname(hostname)
	if err != nil {
		return errs.E(opAddEntry, err)
	}
	addr, err := NormalizeIP(ip)
	if err != nil {
		return errs.E(opAddEntry, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO redirection_list (hostname, ip, enabled) VALUES (?, ?, 1)`, h, addr)
	if isConstraint(err) {
		return exists(opAddEntry, "redirection entry", h)
	}
	if err != nil {
		return errs.E(opAddEntry, errs.KindIO, err)
	}
	return nil
}

func (s *SQLStore) SetEntryEnabled(ctx context.Context, list List, hostname string, enabled bool) error {
	h, err := NormalizeHostname(hostname)
	if err != nil {
		return errs.E(opSetEntry, err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE `+tableFor(list)+` SET enabled = ? WHERE hostname = ?`, enabled, h)
	return affected(opSetEntry, res, err, string(list)+" entry", h)
}

func (s *SQLStore) RemoveEntry(ctx context.Context, list List, hostname string) error {
	h, err := NormalizeHostname(hostname)
	if err != nil {
		return errs.E(opRemoveEntry, err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+tableFor(list)+` WHERE hostname = ?`, h)
	return affected(opRemoveEntry, res, err, string(list)+" entry", h)
}

func (s *SQLStore) SetPreferences(ctx context.Context, p Preferences) error {
	p, err := validatePreferences(p)
	if err != nil {
		return errs.E(opSetPrefs, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.E(opSetPrefs, errs.KindIO, err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	for k, v := range map[string]string{
		prefDefaultIP:     p.DefaultIP,
		prefStripComments: strconv.FormatBool(p.StripComments),
	} {
		if _, err := tx.ExecContext(ctx, upsert, k, v); err != nil {
			return errs.E(opSetPrefs, errs.KindIO, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.E(opSetPrefs, errs.KindIO, err)
	}
	return nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func affected(op errs.Op, res sql.Result, err error, what, key string) error {
	if err != nil {
		return errs.E(op, errs.KindIO, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.E(op, errs.KindIO, err)
	}
	if n == 0 {
		return notFound(op, what, key)
	}
	return nil
}
