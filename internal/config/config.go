// ? config loading + instance ID
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultDataDir       = "/var/lib/strct-hosts"
	defaultDevDataDir    = "./data"
	defaultHostsPath     = "/etc/hosts"
	defaultAPIAddr       = "127.0.0.1:8080"
	defaultApplyInterval = 24 * time.Hour
	defaultPprofPort     = 6060

	downloadFilename = "downloaded_hosts"
	instanceFilename = "instance-id.lock"
)

type Config struct {
	IsDev      bool
	InstanceID string
	Version    string

	DataDir    string
	HostsPath  string
	MountPoint string

	StoreDriver string
	StorePath   string

	APIAddr   string
	APIToken  string
	PprofPort int

	ConnectivityProbe string
	ICMPPrivileged    bool
	UserAgent         string
	ApplyInterval     time.Duration
	UpdateURL         string
}

// Load reads environment variables and returns a Config.
// devMode is passed in from main so that flag parsing stays in main.
func Load(devMode bool, version string) *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config: no .env file found, relying on system env vars")
	}

	cfg := &Config{
		IsDev:             devMode,
		Version:           version,
		DataDir:           getEnv("DATA_DIR", defaultDataDirFor(devMode)),
		MountPoint:        getEnv("HOSTS_MOUNT_POINT", ""),
		StoreDriver:       getEnv("STORE_DRIVER", "yaml"),
		APIAddr:           getEnv("API_ADDR", defaultAPIAddr),
		APIToken:          getEnv("API_TOKEN", ""),
		PprofPort:         getEnvAsInt("PPROF_PORT", defaultPprofPort),
		ConnectivityProbe: getEnv("CONNECTIVITY_PROBE", "http"),
		ICMPPrivileged:    getEnvAsBool("ICMP_PRIVILEGED", false),
		ApplyInterval:     getEnvAsDuration("APPLY_INTERVAL", defaultApplyInterval),
		UpdateURL:         getEnv("UPDATE_URL", ""),
	}

	// A dev run never touches the real hosts file.
	hostsFallback := defaultHostsPath
	if devMode {
		hostsFallback = filepath.Join(cfg.DataDir, "etc", "hosts")
	}
	cfg.HostsPath = getEnv("HOSTS_PATH", hostsFallback)
	cfg.StorePath = getEnv("STORE_PATH", filepath.Join(cfg.DataDir, defaultStoreFile(cfg.StoreDriver)))
	cfg.UserAgent = getEnv("USER_AGENT", "strct-hosts/"+version)

	cfg.InstanceID = getOrGenerateInstanceID(filepath.Join(cfg.DataDir, instanceFilename))

	return cfg
}

func defaultDataDirFor(devMode bool) string {
	if devMode {
		return defaultDevDataDir
	}
	return defaultDataDir
}

func defaultStoreFile(driver string) string {
	if driver == "sqlite" {
		return "store.db"
	}
	return "store.yaml"
}

// StagingDir is private to the process and holds the intermediate files.
func (c *Config) StagingDir() string { return c.DataDir }

// DownloadPath is where the fetcher concatenates the sources.
func (c *Config) DownloadPath() string { return filepath.Join(c.DataDir, downloadFilename) }

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("config: invalid integer env var, using default",
			"key", key,
			"value", raw,
			"default", fallback,
		)
		return fallback
	}
	return v
}

func getEnvAsBool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("config: invalid boolean env var, using default",
			"key", key,
			"value", raw,
			"default", fallback,
		)
		return fallback
	}
	return v
}

// getEnvAsDuration accepts Go durations ("6h", "90m"). "0" or "off"
// disables the feature the duration drives.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	switch raw {
	case "":
		return fallback
	case "0", "off":
		return 0
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		slog.Warn("config: invalid duration env var, using default",
			"key", key,
			"value", raw,
			"default", fallback,
		)
		return fallback
	}
	return v
}

type StagingDir string
type DownloadPath string

func ProvideDownloadPath(cfg *Config) DownloadPath { return DownloadPath(cfg.DownloadPath()) }

// ProvideStagingDir creates the staging directory, private to this user.
func ProvideStagingDir(cfg *Config) (StagingDir, error) {
	dir := cfg.StagingDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return StagingDir(dir), nil
}
