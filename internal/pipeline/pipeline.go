// Package pipeline sequences one blocking run: fetch every enabled source,
// parse the download, merge it with the user overrides, then install the
// result. At most one run (apply or revert) executes at a time.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strct-org/strct-hosts/internal/errs"
	"github.com/strct-org/strct-hosts/internal/fetch"
	"github.com/strct-org/strct-hosts/internal/hosts"
	"github.com/strct-org/strct-hosts/internal/metrics"
)

const (
	opRun    errs.Op = "pipeline.Run"
	opRevert errs.Op = "pipeline.Revert"

	generatedFilename = "hosts"

	KindApply  = "apply"
	KindRevert = "revert"
)

// State is the position of the current (or last) run.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateParsing    State = "parsing"
	StateMerging    State = "merging"
	StateInstalling State = "installing"
	StateReverting  State = "reverting"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Event is delivered on Request.Events. Progress events carry Percent and
// may be dropped when the consumer is slow; state changes are not dropped
// while the caller's context is alive.
type Event struct {
	RunID    string
	State    State
	Progress bool
	Index    int
	URL      string
	Percent  int
	Err      error
	Time     time.Time
}

// Request is everything a run needs. Overrides are read, never modified.
type Request struct {
	URLs      []string
	Overrides hosts.Overrides
	Options   hosts.BuildOptions
	Events    chan<- Event
}

// Outcome summarises a successful run.
type Outcome struct {
	RunID        string        `json:"run_id"`
	Kind         string        `json:"kind"`
	Sources      int           `json:"sources"`
	BytesFetched int64         `json:"bytes_fetched"`
	Hostnames    int           `json:"hostnames"`
	Redirections int           `json:"redirections"`
	Comments     int           `json:"comments"`
	Skipped      int           `json:"skipped_lines"`
	BytesWritten int64         `json:"bytes_written"`
	Duration     time.Duration `json:"duration"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// Status is a point-in-time copy of the pipeline state.
type Status struct {
	Running    bool      `json:"running"`
	Kind       string    `json:"kind,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	State      State     `json:"state"`
	Index      int       `json:"index"`
	URL        string    `json:"url,omitempty"`
	Percent    int       `json:"percent"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	LastReason Reason    `json:"last_reason,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Last       *Outcome  `json:"last,omitempty"`
}

type fetcher interface {
	Fetch(ctx context.Context, urls []string, progress func(fetch.Progress)) (*fetch.Result, error)
}

type installer interface {
	Install(ctx context.Context, stagedPath string) error
	Revert(ctx context.Context) error
}

// Config holds the pipeline's own settings.
type Config struct {
	// StagingDir is private to this process; the generated file is
	// written there before install.
	StagingDir string
}

type Pipeline struct {
	cfg       Config
	fetcher   fetcher
	installer installer
	metrics   *metrics.Metrics

	// running is held for the whole of a run; TryLock gives the
	// single-flight guarantee.
	running sync.Mutex

	mu     sync.Mutex // guards status and cancel
	status Status
	cancel context.CancelFunc
}

// New wires the stages together. m may be nil.
func New(cfg Config, f fetcher, in installer, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		fetcher:   f,
		installer: in,
		metrics:   m,
		status:    Status{State: StateIdle},
	}
}

// Run executes one apply. It blocks until the run reaches a terminal state.
//
// Cancelling ctx (or calling Cancel) stops the run while it is fetching.
// Once the download has completed the run always finishes, so the system
// file is never left half written.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	if !p.running.TryLock() {
		return nil, fail(opRun, &Error{Reason: Busy})
	}
	defer p.running.Unlock()

	if len(req.URLs) == 0 {
		return nil, fail(opRun, &Error{Reason: NoSources})
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := p.begin(ctx, KindApply, req.Events, cancel)
	out, ferr := p.apply(fetchCtx, r, req)
	if ferr != nil {
		r.finish(ferr, nil)
		return nil, fail(opRun, ferr)
	}
	r.finish(nil, out)
	return out, nil
}

func (p *Pipeline) apply(ctx context.Context, r *run, req Request) (*Outcome, *Error) {
	r.state(StateFetching, 0, req.URLs[0])
	res, err := p.fetcher.Fetch(ctx, req.URLs, r.fetchProgress)
	if err != nil {
		return nil, fetchFailure(err)
	}
	p.metrics.Fetched(len(res.Sources), res.Bytes)

	// Past this point the run is not cancellable.
	p.setCancel(nil)
	work := context.WithoutCancel(ctx)

	r.state(StateParsing, 0, "")
	parsed, perr := parseStaged(res.Path)
	if perr != nil {
		return nil, perr
	}
	r.log.Info("pipeline: parsed downloaded sources",
		"hostnames", len(parsed.Hostnames), "comments", len(parsed.Comments), "skipped", parsed.Skipped)

	r.state(StateMerging, 0, "")
	generated := filepath.Join(p.cfg.StagingDir, generatedFilename)
	stats, merr := writeGenerated(generated, parsed, req)
	if merr != nil {
		return nil, merr
	}
	p.metrics.Built(stats.Hostnames, stats.Redirections, parsed.Skipped)

	r.state(StateInstalling, 0, "")
	if err := p.installer.Install(work, generated); err != nil {
		return nil, installFailure(err, InstallFailed)
	}

	return &Outcome{
		RunID:        r.id,
		Kind:         KindApply,
		Sources:      len(res.Sources),
		BytesFetched: res.Bytes,
		Hostnames:    stats.Hostnames,
		Redirections: stats.Redirections,
		Comments:     stats.Comments,
		Skipped:      parsed.Skipped,
		BytesWritten: stats.Bytes,
	}, nil
}

// Revert installs the minimal default hosts file. It shares the
// single-flight guard with Run and is not cancellable.
func (p *Pipeline) Revert(ctx context.Context, events chan<- Event) (*Outcome, error) {
	if !p.running.TryLock() {
		return nil, fail(opRevert, &Error{Reason: Busy})
	}
	defer p.running.Unlock()

	r := p.begin(ctx, KindRevert, events, nil)
	r.state(StateReverting, 0, "")

	if err := p.installer.Revert(context.WithoutCancel(ctx)); err != nil {
		e := installFailure(err, RevertFailed)
		r.finish(e, nil)
		return nil, fail(opRevert, e)
	}

	out := &Outcome{RunID: r.id, Kind: KindRevert}
	r.finish(nil, out)
	return out, nil
}

// Cancel stops the run in flight if it is still fetching. It reports
// whether there was anything to cancel.
func (p *Pipeline) Cancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return false
	}
	p.cancel()
	p.cancel = nil
	return true
}

// Status returns a copy of the current state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	if s.Last != nil {
		last := *s.Last
		s.Last = &last
	}
	return s
}

func (p *Pipeline) setCancel(c context.CancelFunc) {
	p.mu.Lock()
	p.cancel = c
	p.mu.Unlock()
}

func parseStaged(path string) (*hosts.ParsedList, *Error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Reason: StagingUnavailable, Err: err}
	}
	parsed, err := hosts.Parse(f)
	f.Close()
	if err != nil {
		return nil, mergeFailure("parse downloaded sources: %w", err)
	}
	if err := os.Remove(path); err != nil {
		slog.Warn("pipeline: could not remove download buffer", "path", path, "err", err)
	}
	return parsed, nil
}

func writeGenerated(path string, parsed *hosts.ParsedList, req Request) (hosts.Stats, *Error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return hosts.Stats{}, mergeFailure("create generated file: %w", err)
	}
	stats, err := hosts.Build(f, parsed, req.Overrides, req.Options)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return hosts.Stats{}, mergeFailure("build hosts file: %w", err)
	}
	return stats, nil
}

// run carries the per-run bookkeeping: id, logger and event sink.
type run struct {
	p       *Pipeline
	id      string
	kind    string
	ctx     context.Context // bounds blocking event delivery
	events  chan<- Event
	log     *slog.Logger
	started time.Time
}

func (p *Pipeline) begin(ctx context.Context, kind string, events chan<- Event, cancel context.CancelFunc) *run {
	r := &run{
		p:       p,
		id:      uuid.NewString(),
		kind:    kind,
		ctx:     ctx,
		events:  events,
		started: time.Now(),
	}
	r.log = slog.With("run_id", r.id, "kind", kind)

	p.mu.Lock()
	last := p.status.Last
	p.status = Status{
		Running:   true,
		Kind:      kind,
		RunID:     r.id,
		State:     StateIdle,
		StartedAt: r.started,
		Last:      last,
	}
	p.cancel = cancel
	p.mu.Unlock()

	p.metrics.Started()
	r.log.Info("pipeline: run started")
	return r
}

func (r *run) state(s State, index int, url string) {
	r.p.mu.Lock()
	r.p.status.State = s
	r.p.status.Index = index
	r.p.status.URL = url
	r.p.status.Percent = 0
	r.p.mu.Unlock()

	r.log.Debug("pipeline: state", "state", s, "index", index, "url", url)
	r.send(Event{RunID: r.id, State: s, Index: index, URL: url, Time: time.Now()}, true)
}

func (r *run) fetchProgress(pr fetch.Progress) {
	if pr.URLChanged {
		if pr.Index > 0 {
			r.state(StateFetching, pr.Index, pr.URL)
		}
		return
	}

	r.p.mu.Lock()
	r.p.status.Percent = pr.Percent
	r.p.mu.Unlock()

	r.send(Event{
		RunID:    r.id,
		State:    StateFetching,
		Progress: true,
		Index:    pr.Index,
		URL:      pr.URL,
		Percent:  pr.Percent,
		Time:     time.Now(),
	}, false)
}

func (r *run) finish(e *Error, out *Outcome) {
	now := time.Now()
	d := now.Sub(r.started)

	final := StateDone
	outcome := "success"
	var err error
	if e != nil {
		err = e
		final = StateFailed
		outcome = string(e.Reason)
		if e.Reason == Cancelled {
			final = StateCancelled
		}
	}

	r.p.mu.Lock()
	r.p.status.Running = false
	r.p.status.State = final
	r.p.status.Percent = 0
	r.p.status.FinishedAt = now
	r.p.status.LastReason = ""
	r.p.status.LastError = ""
	if e != nil {
		r.p.status.LastReason = e.Reason
		r.p.status.LastError = e.Error()
	}
	if out != nil {
		out.Duration = d
		out.FinishedAt = now
		last := *out
		r.p.status.Last = &last
	}
	r.p.cancel = nil
	r.p.mu.Unlock()

	r.p.metrics.Finished(r.kind, outcome, d)
	switch {
	case e == nil:
		r.log.Info("pipeline: run complete", "duration", d)
	case e.Reason == Cancelled:
		r.log.Info("pipeline: run cancelled", "duration", d)
	default:
		r.log.Error("pipeline: run failed", "reason", e.Reason, "url", e.URL, "stage", e.Stage, "err", e.Err)
	}

	r.send(Event{RunID: r.id, State: final, Err: err, Time: now}, true)
}

func (r *run) send(ev Event, wait bool) {
	if r.events == nil {
		return
	}
	select {
	case r.events <- ev:
		return
	default:
	}
	if !wait {
		return
	}
	select {
	case r.events <- ev:
	case <-r.ctx.Done():
	}
}

// IsBusy reports whether err is the single-flight rejection.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }
