// Package ota updates the running binary from a static file server laid
// out as:
//
//	<base>/version.txt
//	<base>/strct-hosts-<goos>-<goarch>
//	<base>/strct-hosts-<goos>-<goarch>.sha256
package ota

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/minio/selfupdate"

	"github.com/strct-org/strct-hosts/internal/errs"
)

const (
	opCheck errs.Op = "ota.Check"
	opApply errs.Op = "ota.Apply"

	binaryPrefix   = "strct-hosts"
	defaultTimeout = 2 * time.Minute
	maxVersionSize = 256
)

// ErrRestartRequired is returned by Start after a new binary was installed;
// the supervisor is expected to restart the process.
var ErrRestartRequired = errors.New("ota: update applied, restart required")

type Config struct {
	CurrentVersion string
	StorageURL     string
	// CheckInterval drives Start. Zero disables periodic checks.
	CheckInterval time.Duration
	// TargetPath overrides the executable to replace (tests).
	TargetPath string
}

type Updater struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config, client *http.Client) *Updater {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Updater{cfg: cfg, client: client}
}

// Check compares the remote version with the running one.
func (u *Updater) Check(ctx context.Context) (remote semver.Version, newer bool, err error) {
	current, err := semver.ParseTolerant(u.cfg.CurrentVersion)
	if err != nil {
		return semver.Version{}, false, errs.E(opCheck, errs.KindInvalid, err,
			fmt.Sprintf("invalid current version %q", u.cfg.CurrentVersion))
	}

	body, err := u.get(ctx, u.cfg.StorageURL+"/version.txt", maxVersionSize)
	if err != nil {
		return semver.Version{}, false, errs.E(opCheck, errs.KindNetwork, err)
	}
	raw := strings.TrimSpace(string(body))
	remote, err = semver.ParseTolerant(raw)
	if err != nil {
		return semver.Version{}, false, errs.E(opCheck, errs.KindInvalid, err,
			fmt.Sprintf("invalid remote version %q", raw))
	}

	return remote, remote.GT(current), nil
}

// Apply downloads the binary for this platform, verifies it against the
// published sha256 and swaps it in. It reports whether an update happened.
func (u *Updater) Apply(ctx context.Context) (bool, error) {
	remote, newer, err := u.Check(ctx)
	if err != nil {
		return false, err
	}
	if !newer {
		slog.Info("ota: no update needed", "remote_version", remote, "current_version", u.cfg.CurrentVersion)
		return false, nil
	}
	slog.Info("ota: new version found", "remote_version", remote, "current_version", u.cfg.CurrentVersion)

	binURL := fmt.Sprintf("%s/%s-%s-%s", u.cfg.StorageURL, binaryPrefix, runtime.GOOS, runtime.GOARCH)
	checksum, err := u.checksum(ctx, binURL+".sha256")
	if err != nil {
		return false, errs.E(opApply, errs.KindNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, binURL, nil)
	if err != nil {
		return false, errs.E(opApply, errs.KindOther, err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return false, errs.E(opApply, errs.KindNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, errs.E(opApply, errs.KindNetwork, fmt.Errorf("binary download failed: %s", resp.Status))
	}

	// selfupdate hashes the stream and rolls back if the checksum differs.
	err = selfupdate.Apply(resp.Body, selfupdate.Options{
		TargetPath: u.cfg.TargetPath,
		Hash:       crypto.SHA256,
		Checksum:   checksum,
	})
	if err != nil {
		if rerr := selfupdate.RollbackError(err); rerr != nil {
			slog.Error("ota: rollback failed, binary may be broken", "err", rerr)
		}
		return false, errs.E(opApply, errs.KindSystem, fmt.Errorf("update apply failed: %w", err))
	}

	slog.Info("ota: update applied", "version", remote)
	return true, nil
}

// Start implements agent.Service: it checks on startup and then every
// CheckInterval. After a successful update it returns ErrRestartRequired.
func (u *Updater) Start(ctx context.Context) error {
	if u.cfg.StorageURL == "" || u.cfg.CheckInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(u.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		updated, err := u.Apply(ctx)
		switch {
		case err != nil:
			slog.Error("ota: update check failed", "err", err)
		case updated:
			return ErrRestartRequired
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (u *Updater) checksum(ctx context.Context, url string) ([]byte, error) {
	body, err := u.get(ctx, url, 1024)
	if err != nil {
		return nil, err
	}
	// Accept both a bare digest and sha256sum output ("<digest>  <file>").
	fields := strings.Fields(string(body))
	if len(fields) == 0 {
		return nil, errors.New("empty checksum file")
	}
	sum, err := hex.DecodeString(fields[0])
	if err != nil || len(sum) != crypto.SHA256.Size() {
		return nil, fmt.Errorf("malformed checksum %q", fields[0])
	}
	return sum, nil
}

func (u *Updater) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}
