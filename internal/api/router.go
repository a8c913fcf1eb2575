package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strct-org/strct-hosts/internal/httputil"
)

const requestTimeout = 30 * time.Second

// Feature registers its own routes; every feature owns its handlers.
type Feature interface {
	RegisterRoutes(r chi.Router)
}

// Checker reports network reachability for the health endpoint.
type Checker interface {
	Online(ctx context.Context) bool
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	InstanceID string
	Version    string
	// Token, when set, is required as a bearer token on every /api route
	// except /api/health.
	Token    string
	Registry *prometheus.Registry
	Checker  Checker
}

// NewRouter builds the chi router with the shared endpoints and every
// feature's routes mounted behind auth.
func NewRouter(opts RouterOptions, features ...Feature) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Timeout(requestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.Error(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.MethodNotAllowed(w)
	})

	r.Get("/api/health", healthHandler(opts))
	if opts.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(pr chi.Router) {
		pr.Use(bearerAuth(opts.Token))
		for _, f := range features {
			f.RegisterRoutes(pr)
		}
	})
	return r
}

func healthHandler(opts RouterOptions) http.HandlerFunc {
	type response struct {
		Status     string `json:"status"`
		Internet   bool   `json:"internet_access"`
		InstanceID string `json:"instance_id,omitempty"`
		Version    string `json:"version,omitempty"`
		Timestamp  string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		online := false
		if opts.Checker != nil {
			online = opts.Checker.Online(r.Context())
		}
		httputil.OK(w, response{
			Status:     "ok",
			Internet:   online,
			InstanceID: opts.InstanceID,
			Version:    opts.Version,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httputil.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
