// Package adblocker is the hosts-file ad blocker feature: it snapshots the
// store, drives the pipeline, re-applies on a timer and serves the
// /api/hosts routes.
package adblocker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/strct-org/strct-hosts/internal/errs"
	"github.com/strct-org/strct-hosts/internal/pipeline"
	"github.com/strct-org/strct-hosts/internal/store"
)

const opApply errs.Op = "adblocker.Apply"

type runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
	Revert(ctx context.Context, events chan<- pipeline.Event) (*pipeline.Outcome, error)
	Cancel() bool
	Status() pipeline.Status
}

type Config struct {
	// ApplyInterval re-applies the enabled sources periodically. Zero
	// disables the updater.
	ApplyInterval time.Duration
}

type AdBlocker struct {
	cfg    Config
	store  store.Store
	runner runner

	// background tracks applies started from the API.
	background sync.WaitGroup
}

func New(cfg Config, st store.Store, r runner) *AdBlocker {
	return &AdBlocker{cfg: cfg, store: st, runner: r}
}

// Apply snapshots the store and runs the pipeline, blocking until done.
func (a *AdBlocker) Apply(ctx context.Context, events chan<- pipeline.Event) (*pipeline.Outcome, error) {
	in, err := store.Snapshot(ctx, a.store)
	if err != nil {
		return nil, errs.E(opApply, err)
	}
	return a.runner.Run(ctx, pipeline.Request{
		URLs:      in.URLs,
		Overrides: in.Overrides,
		Options:   in.Options,
		Events:    events,
	})
}

// ApplyAsync starts an apply in the background. It returns false when a
// run is already in flight.
func (a *AdBlocker) ApplyAsync() bool {
	if a.runner.Status().Running {
		return false
	}
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		if _, err := a.Apply(context.Background(), nil); err != nil {
			slog.Warn("adblocker: background apply failed", "reason", pipeline.ReasonOf(err), "err", err)
		}
	}()
	return true
}

// Wait blocks until background applies have returned.
func (a *AdBlocker) Wait() { a.background.Wait() }

func (a *AdBlocker) Revert(ctx context.Context, events chan<- pipeline.Event) (*pipeline.Outcome, error) {
	return a.runner.Revert(ctx, events)
}

func (a *AdBlocker) Cancel() bool { return a.runner.Cancel() }

func (a *AdBlocker) Status() pipeline.Status { return a.runner.Status() }

func (a *AdBlocker) Store() store.Store { return a.store }

// Start implements agent.Service: the periodic updater. It blocks until ctx
// is cancelled.
func (a *AdBlocker) Start(ctx context.Context) error {
	if a.cfg.ApplyInterval <= 0 {
		slog.Info("adblocker: periodic apply disabled")
		<-ctx.Done()
		a.Wait()
		return nil
	}

	slog.Info("adblocker: periodic apply enabled", "interval", a.cfg.ApplyInterval)
	ticker := time.NewTicker(a.cfg.ApplyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("adblocker: updater stopped")
			a.Cancel()
			a.Wait()
			return nil
		case <-ticker.C:
			a.scheduledApply(ctx)
		}
	}
}

func (a *AdBlocker) scheduledApply(ctx context.Context) {
	if a.runner.Status().Running {
		slog.Info("adblocker: run in flight, skipping scheduled apply")
		return
	}
	out, err := a.Apply(ctx, nil)
	switch {
	case err == nil:
		slog.Info("adblocker: scheduled apply complete", "run_id", out.RunID, "hostnames", out.Hostnames)
	case pipeline.ReasonOf(err) == pipeline.NoSources:
		slog.Info("adblocker: no enabled sources, nothing to apply")
	default:
		slog.Error("adblocker: scheduled apply failed", "reason", pipeline.ReasonOf(err), "err", err)
	}
}
