package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/strct-org/strct-hosts/internal/errs"
)

const (
	opStart errs.Op = "api.Server.Start"

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Config holds the server configuration.
type Config struct {
	Addr  string
	IsDev bool
}

// Server is a runnable HTTP server.
// It accepts a pre-built handler so route registration stays with the
// features.
type Server struct {
	cfg     Config
	handler http.Handler
}

// New returns a Server ready to Start.
func New(cfg Config, handler http.Handler) *Server {
	return &Server{cfg: cfg, handler: handler}
}

// Handler returns the fully wrapped handler, as served by Start.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.handler)
}

// Start implements agent.Service. It blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("api: shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	slog.Info("api: listening", "addr", s.cfg.Addr, "dev", s.cfg.IsDev)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return errs.E(opStart, errs.KindNetwork, err, "server failed on "+s.cfg.Addr)
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "http://127.0.0.1") ||
			strings.HasSuffix(origin, ".strct.org") ||
			origin == "https://strct.org" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
