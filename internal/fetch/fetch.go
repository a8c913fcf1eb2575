// Package fetch downloads block-lists one after another into a single
// staging file.
package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/strct-org/strct-hosts/internal/errs"
	"github.com/strct-org/strct-hosts/internal/hosts"
	"github.com/strct-org/strct-hosts/internal/platform/connectivity"
)

const (
	opFetch errs.Op = "fetch.Fetch"

	DefaultChunkSize = 1024
	DefaultUserAgent = "strct-hosts/1.0"
	DefaultTimeout   = 5 * time.Minute

	// Reported while the server did not announce a content length.
	unknownLengthPercent = 50
)

var (
	ErrNoConnection       = errors.New("no network connection")
	ErrStagingUnavailable = errors.New("staging file unavailable")
	ErrCanceled           = errors.New("download cancelled")
)

// DownloadError identifies the source that broke the run.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Progress is reported after every chunk and whenever the fetcher moves on
// to the next URL (URLChanged set, Percent 0).
type Progress struct {
	Index      int
	URL        string
	URLChanged bool
	Percent    int
	Read       int64
	Length     int64 // -1 when the server did not say
}

// Source is the per-URL part of Result.
type Source struct {
	URL   string
	Bytes int64
}

// Result describes a completed download.
type Result struct {
	Path    string
	Bytes   int64
	Sources []Source
}

// Config holds everything the fetcher needs to operate.
type Config struct {
	StagingPath string
	UserAgent   string
	ChunkSize   int
}

// Fetcher downloads sources sequentially. It is not safe for concurrent
// use; the pipeline runs one fetch at a time.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	checker connectivity.Checker
}

// New is the base constructor. A nil client gets DefaultTimeout.
func New(cfg Config, client *http.Client, checker connectivity.Checker) *Fetcher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Fetcher{cfg: cfg, client: client, checker: checker}
}

// Fetch downloads urls in order into the staging file. Each body is
// followed by one line separator so the last line of one list can never
// run into the first line of the next.
//
// Cancelling ctx stops the transfer at the next chunk and returns an error
// wrapping ErrCanceled. Any failure on a source aborts the whole run with a
// *DownloadError. On error the staging file is removed.
func (f *Fetcher) Fetch(ctx context.Context, urls []string, progress func(Progress)) (res *Result, err error) {
	if progress == nil {
		progress = func(Progress) {}
	}

	if ctx.Err() != nil {
		return nil, errs.E(opFetch, errs.KindCanceled, ErrCanceled)
	}
	if f.checker != nil && !f.checker.Online(ctx) {
		return nil, errs.E(opFetch, errs.KindNetwork, ErrNoConnection)
	}

	out, err := os.OpenFile(f.cfg.StagingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errs.E(opFetch, errs.KindIO, fmt.Errorf("%w: %v", ErrStagingUnavailable, err))
	}
	w := bufio.NewWriter(out)

	defer func() {
		if ferr := w.Flush(); ferr != nil && err == nil {
			err = errs.E(opFetch, errs.KindIO, fmt.Errorf("%w: %v", ErrStagingUnavailable, ferr))
		}
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errs.E(opFetch, errs.KindIO, fmt.Errorf("%w: %v", ErrStagingUnavailable, cerr))
		}
		if err != nil {
			res = nil
			os.Remove(f.cfg.StagingPath)
		}
	}()

	res = &Result{Path: f.cfg.StagingPath, Sources: make([]Source, 0, len(urls))}
	for i, u := range urls {
		if ctx.Err() != nil {
			return nil, errs.E(opFetch, errs.KindCanceled, ErrCanceled)
		}

		slog.Info("fetch: downloading hosts source", "index", i, "url", u)
		progress(Progress{Index: i, URL: u, URLChanged: true, Length: -1})

		n, err := f.fetchOne(ctx, i, u, w, progress)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("fetch: cancelled", "url", u, "read", n)
				return nil, errs.E(opFetch, errs.KindCanceled, ErrCanceled)
			}
			slog.Error("fetch: source failed", "url", u, "err", err)
			return nil, errs.E(opFetch, errs.KindNetwork, &DownloadError{URL: u, Err: err})
		}

		if _, err := w.WriteString(hosts.LineSeparator); err != nil {
			return nil, errs.E(opFetch, errs.KindNetwork, &DownloadError{URL: u, Err: err})
		}

		res.Sources = append(res.Sources, Source{URL: u, Bytes: n})
		res.Bytes += n
		slog.Debug("fetch: source complete", "url", u, "bytes", n)
	}

	return res, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, index int, url string, w io.Writer, progress func(Progress)) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	length := resp.ContentLength
	buf := make([]byte, f.cfg.ChunkSize)
	var read int64

	for {
		if ctx.Err() != nil {
			return read, ctx.Err()
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return read, fmt.Errorf("write staging: %w", err)
			}
			read += int64(n)
			progress(Progress{
				Index:   index,
				URL:     url,
				Percent: percent(read, length),
				Read:    read,
				Length:  length,
			})
		}
		if rerr == io.EOF {
			return read, nil
		}
		if rerr != nil {
			return read, fmt.Errorf("read body: %w", rerr)
		}
	}
}

func percent(read, length int64) int {
	if length <= 0 {
		return unknownLengthPercent
	}
	return int(min(100, read*100/length))
}
