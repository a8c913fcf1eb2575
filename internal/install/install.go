// Package install moves a generated hosts file from private staging onto
// the system path.
package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/strct-org/strct-hosts/internal/errs"
	"github.com/strct-org/strct-hosts/internal/hosts"
	"github.com/strct-org/strct-hosts/internal/platform/disk"
	"github.com/strct-org/strct-hosts/internal/platform/privileged"
)

const (
	opInstall errs.Op = "install.Install"
	opRevert  errs.Op = "install.Revert"

	revertFilename = "hosts.default"
)

// Steps of the privileged sequence, as reported in StageError.
const (
	StagePreflight = "preflight"
	StageAccess    = "access"
	StageRemountRW = "remount-rw"
	StageCopy      = "copy"
	StageChown     = "chown"
	StageChmod     = "chmod"
)

var (
	ErrInsufficientSpace = errors.New("not enough space on destination partition")
	ErrRevertFailed      = errors.New("revert to default hosts file failed")
)

// StageError names the privileged step that failed and carries its output.
type StageError struct {
	Stage      string
	Diagnostic string
	Err        error
}

func (e *StageError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Stage, e.Err, e.Diagnostic)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// facility is the subset of privileged.Facility the installer needs.
type facility interface {
	Available(ctx context.Context) bool
	Remount(ctx context.Context, mountPoint string, mode privileged.Mode) (string, error)
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Config holds the destination layout.
type Config struct {
	// HostsPath is the system hosts file, e.g. /etc/hosts.
	HostsPath string
	// MountPoint is remounted rw/ro around the copy. Empty disables
	// remounting (the destination is already writable by root).
	MountPoint string
	// StagingDir receives the file written by Revert.
	StagingDir string
	Owner      string
	Mode       string
}

// Installer performs the privileged install.
type Installer struct {
	cfg       Config
	fac       facility
	freeSpace func(path string) (uint64, error)
}

// New is the base constructor. freeSpace may be nil to use disk.FreeSpace.
func New(cfg Config, fac facility, freeSpace func(string) (uint64, error)) *Installer {
	if cfg.Owner == "" {
		cfg.Owner = "0:0"
	}
	if cfg.Mode == "" {
		cfg.Mode = "644"
	}
	if freeSpace == nil {
		freeSpace = disk.FreeSpace
	}
	return &Installer{cfg: cfg, fac: fac, freeSpace: freeSpace}
}

// Install copies stagedPath onto the hosts path. The staged file is removed
// on success and left in place on failure for diagnosis.
func (i *Installer) Install(ctx context.Context, stagedPath string) error {
	if err := i.install(ctx, stagedPath); err != nil {
		return err
	}
	if err := os.Remove(stagedPath); err != nil {
		slog.Warn("install: could not remove staged file", "path", stagedPath, "err", err)
	}
	return nil
}

// Revert installs a minimal hosts file containing only the localhost entry.
func (i *Installer) Revert(ctx context.Context) error {
	staged := filepath.Join(i.cfg.StagingDir, revertFilename)

	f, err := os.OpenFile(staged, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errs.E(opRevert, errs.KindIO, fmt.Errorf("%w: %w", ErrRevertFailed, err))
	}
	werr := hosts.WriteDefault(f)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(staged)
		return errs.E(opRevert, errs.KindIO, fmt.Errorf("%w: %w", ErrRevertFailed, werr))
	}

	if err := i.Install(ctx, staged); err != nil {
		return errs.E(opRevert, errs.KindOf(err), fmt.Errorf("%w: %w", ErrRevertFailed, err))
	}
	slog.Info("install: reverted to default hosts file", "path", i.cfg.HostsPath)
	return nil
}

func (i *Installer) install(ctx context.Context, stagedPath string) error {
	info, err := os.Stat(stagedPath)
	if err != nil {
		return errs.E(opInstall, errs.KindIO, &StageError{Stage: StagePreflight, Err: err})
	}

	free, err := i.freeSpace(i.destDir())
	if err != nil {
		return errs.E(opInstall, errs.KindIO, &StageError{Stage: StagePreflight, Err: err})
	}
	size := uint64(info.Size())
	if size >= free {
		slog.Error("install: not enough space on partition", "size", size, "free", free, "dest", i.cfg.HostsPath)
		return errs.E(opInstall, errs.KindSpace, ErrInsufficientSpace,
			fmt.Sprintf("hosts file needs %d bytes, %d available", size, free))
	}

	if !i.fac.Available(ctx) {
		return errs.E(opInstall, errs.KindSystem,
			&StageError{Stage: StageAccess, Err: errors.New("privileged access not available")})
	}

	if i.cfg.MountPoint != "" {
		// The filesystem goes back to read-only whatever happens below.
		defer func() {
			out, rerr := i.fac.Remount(context.WithoutCancel(ctx), i.cfg.MountPoint, privileged.ReadOnly)
			if rerr != nil {
				slog.Warn("install: remount read-only failed", "mount", i.cfg.MountPoint, "output", out, "err", rerr)
			}
		}()

		out, err := i.fac.Remount(ctx, i.cfg.MountPoint, privileged.ReadWrite)
		if err != nil {
			return stageFailed(StageRemountRW, out, err)
		}
	}

	steps := []struct {
		stage string
		name  string
		args  []string
	}{
		{StageCopy, "cp", []string{stagedPath, i.cfg.HostsPath}},
		{StageChown, "chown", []string{i.cfg.Owner, i.cfg.HostsPath}},
		{StageChmod, "chmod", []string{i.cfg.Mode, i.cfg.HostsPath}},
	}
	for _, s := range steps {
		out, err := i.fac.Run(ctx, s.name, s.args...)
		slog.Debug("install: step done", "stage", s.stage, "output", out, "err", err)
		if err != nil {
			return stageFailed(s.stage, out, err)
		}
	}

	slog.Info("install: hosts file installed", "path", i.cfg.HostsPath, "bytes", size)
	return nil
}

func (i *Installer) destDir() string {
	return filepath.Dir(i.cfg.HostsPath)
}

func stageFailed(stage, output string, err error) error {
	slog.Error("install: privileged step failed", "stage", stage, "output", output, "err", err)
	return errs.E(opInstall, errs.KindSystem, &StageError{Stage: stage, Diagnostic: output, Err: err})
}
