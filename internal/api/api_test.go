// Tests for the API server layer: CORS, auth, health and metrics.
// Feature handlers are tested in their own packages.
package api_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/strct-org/strct-hosts/internal/api"
)

type pingFeature struct{}

func (pingFeature) RegisterRoutes(r chi.Router) {
	r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
}

type staticChecker bool

func (c staticChecker) Online(context.Context) bool { return bool(c) }

func newHandler(opts api.RouterOptions) http.Handler {
	return api.New(api.Config{Addr: "127.0.0.1:0"}, api.NewRouter(opts, pingFeature{})).Handler()
}

func TestCORSMiddleware_AllowedOrigins(t *testing.T) {
	tests := []struct {
		origin      string
		wantAllowed bool
	}{
		{"http://localhost:3000", true},
		{"http://127.0.0.1:5173", true},
		{"https://app.strct.org", true},
		{"https://strct.org", true},
		{"https://evil.com", false},
		{"", false},
	}

	handler := newHandler(api.RouterOptions{})
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get("Access-Control-Allow-Origin")
			if tt.wantAllowed && got != tt.origin {
				t.Errorf("origin %q: expected ACAO=%q, got %q", tt.origin, tt.origin, got)
			}
			if !tt.wantAllowed && got != "" {
				t.Errorf("origin %q: expected no ACAO header, got %q", tt.origin, got)
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/hosts/apply", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	newHandler(api.RouterOptions{}).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "PATCH") {
		t.Errorf("allow methods = %q", w.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestBearerAuth(t *testing.T) {
	handler := newHandler(api.RouterOptions{Token: "s3cret"})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing token", "/api/ping", "", http.StatusUnauthorized},
		{"wrong token", "/api/ping", "Bearer nope", http.StatusUnauthorized},
		{"right token", "/api/ping", "Bearer s3cret", http.StatusOK},
		{"health is public", "/api/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	handler := newHandler(api.RouterOptions{InstanceID: "hosts-1", Version: "1.0.0", Checker: staticChecker(true)})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Status     string `json:"status"`
		Internet   bool   `json:"internet_access"`
		InstanceID string `json:"instance_id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || !body.Internet || body.InstanceID != "hosts-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	handler := newHandler(api.RouterOptions{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if w.Code != http.StatusNotFound || w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("unknown route: status %d, content type %q", w.Code, w.Header().Get("Content-Type"))
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/ping", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("wrong method: status %d, want 405", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	w := httptest.NewRecorder()
	newHandler(api.RouterOptions{Registry: reg}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "test_total 1") {
		t.Errorf("metrics: status %d body %q", w.Code, w.Body.String())
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := api.New(api.Config{Addr: addr}, api.NewRouter(api.RouterOptions{}, pingFeature{}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/api/ping")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
