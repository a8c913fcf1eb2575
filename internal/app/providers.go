// Package app wires the components together. wire.go declares the
// injectors; wire_gen.go is generated from it.
package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/strct-org/strct-hosts/internal/agent"
	"github.com/strct-org/strct-hosts/internal/api"
	"github.com/strct-org/strct-hosts/internal/config"
	"github.com/strct-org/strct-hosts/internal/features/adblocker"
	"github.com/strct-org/strct-hosts/internal/fetch"
	"github.com/strct-org/strct-hosts/internal/install"
	"github.com/strct-org/strct-hosts/internal/metrics"
	"github.com/strct-org/strct-hosts/internal/ota"
	"github.com/strct-org/strct-hosts/internal/pipeline"
	"github.com/strct-org/strct-hosts/internal/platform/connectivity"
	"github.com/strct-org/strct-hosts/internal/platform/privileged"
	"github.com/strct-org/strct-hosts/internal/store"
)

const updateCheckInterval = 24 * time.Hour

// CoreSet builds everything a one-shot command needs.
var CoreSet = wire.NewSet(
	config.ProvideStagingDir,
	config.ProvideDownloadPath,
	ProvideStore,
	ProvideChecker,
	ProvideFetcher,
	ProvideFacility,
	ProvideInstaller,
	ProvideRegistry,
	ProvideMetrics,
	ProvidePipeline,
	ProvideAdBlocker,
)

// ServeSet adds the long-running services on top of CoreSet.
var ServeSet = wire.NewSet(
	CoreSet,
	ProvideRouter,
	ProvideServer,
	ProvideUpdater,
	ProvideServices,
	agent.New,
)

func ProvideStore(cfg *config.Config) (store.Store, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.StoreDriver, cfg.StorePath)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("app: store opened", "driver", cfg.StoreDriver, "path", cfg.StorePath)
	return st, func() {
		if err := st.Close(); err != nil {
			slog.Warn("app: closing store", "err", err)
		}
	}, nil
}

func ProvideChecker(cfg *config.Config) (connectivity.Checker, error) {
	return connectivity.New(cfg.ConnectivityProbe, connectivity.Options{ICMPPrivileged: cfg.ICMPPrivileged})
}

func ProvideFetcher(cfg *config.Config, path config.DownloadPath, checker connectivity.Checker) *fetch.Fetcher {
	return fetch.New(fetch.Config{
		StagingPath: string(path),
		UserAgent:   cfg.UserAgent,
	}, nil, checker)
}

func ProvideFacility(cfg *config.Config) *privileged.Facility {
	return privileged.NewDefault(cfg.IsDev)
}

func ProvideInstaller(cfg *config.Config, dir config.StagingDir, fac *privileged.Facility) (*install.Installer, error) {
	if cfg.IsDev {
		// Dev runs install into the data dir; make sure the target dir exists.
		if err := os.MkdirAll(filepath.Dir(cfg.HostsPath), 0o755); err != nil {
			return nil, fmt.Errorf("app: dev hosts dir: %w", err)
		}
	}
	return install.New(install.Config{
		HostsPath:  cfg.HostsPath,
		MountPoint: cfg.MountPoint,
		StagingDir: string(dir),
	}, fac, nil), nil
}

func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func ProvidePipeline(dir config.StagingDir, f *fetch.Fetcher, in *install.Installer, m *metrics.Metrics) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{StagingDir: string(dir)}, f, in, m)
}

func ProvideAdBlocker(cfg *config.Config, st store.Store, p *pipeline.Pipeline) *adblocker.AdBlocker {
	return adblocker.New(adblocker.Config{ApplyInterval: cfg.ApplyInterval}, st, p)
}

func ProvideRouter(cfg *config.Config, reg *prometheus.Registry, checker connectivity.Checker, ab *adblocker.AdBlocker) http.Handler {
	return api.NewRouter(api.RouterOptions{
		InstanceID: cfg.InstanceID,
		Version:    cfg.Version,
		Token:      cfg.APIToken,
		Registry:   reg,
		Checker:    checker,
	}, ab)
}

func ProvideServer(cfg *config.Config, h http.Handler) *api.Server {
	return api.New(api.Config{Addr: cfg.APIAddr, IsDev: cfg.IsDev}, h)
}

func ProvideUpdater(cfg *config.Config) *ota.Updater {
	return ota.New(ota.Config{
		CurrentVersion: cfg.Version,
		StorageURL:     cfg.UpdateURL,
		CheckInterval:  updateCheckInterval,
	}, nil)
}

func ProvideServices(cfg *config.Config, srv *api.Server, ab *adblocker.AdBlocker, upd *ota.Updater) []agent.NamedService {
	services := []agent.NamedService{
		{Name: "api", Service: srv},
		{Name: "adblocker", Service: ab},
		{Name: "ota", Service: upd},
	}
	if cfg.IsDev {
		services = append(services, agent.NamedService{Name: "pprof", Service: &agent.ProfilerService{Port: cfg.PprofPort}})
	}
	return services
}
