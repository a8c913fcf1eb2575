// ? lifecycle orchestration only
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strct-org/strct-hosts/internal/errs"
)

const (
	opStart errs.Op = "agent.Start"

	profilerShutdownTimeout = 2 * time.Second
)

// Service is a long-running component. Start blocks until ctx is cancelled
// and returns nil on a clean stop.
type Service interface {
	Start(ctx context.Context) error
}

// NamedService labels a service in logs.
type NamedService struct {
	Name    string
	Service Service
}

type Agent struct {
	services []NamedService
}

func New(services []NamedService) *Agent {
	return &Agent{services: services}
}

// Start runs every service until ctx is cancelled or one of them fails, in
// which case the others are stopped and the first error is returned.
func (a *Agent) Start(ctx context.Context) error {
	slog.Info("agent: starting services", "count", len(a.services))

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range a.services {
		g.Go(func() error {
			slog.Debug("agent: service starting", "service", s.Name)
			if err := s.Service.Start(gctx); err != nil {
				slog.Error("agent: service failed", "service", s.Name, "err", err)
				return errs.E(opStart, fmt.Errorf("%s: %w", s.Name, err))
			}
			slog.Debug("agent: service stopped", "service", s.Name)
			return nil
		})
	}

	err := g.Wait()
	slog.Info("agent: all services stopped")
	return err
}

// ProfilerService serves pprof on loopback; reach it over an SSH tunnel.
type ProfilerService struct {
	Port int
}

func (p *ProfilerService) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	addr := fmt.Sprintf("127.0.0.1:%d", p.Port)
	srv := &http.Server{Addr: addr, Handler: mux}
	slog.Info("agent: pprof listening (SSH tunnel required)", "addr", addr)
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), profilerShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
