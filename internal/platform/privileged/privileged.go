// Package privileged runs the handful of root-only operations needed to
// write a system file: remounting its filesystem and cp/chown/chmod.
//
// Commands go through an executil runner, so tests substitute
// executil.Mock and assert on the exact command lines.
package privileged

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/strct-org/strct-hosts/internal/errs"
	"github.com/strct-org/strct-hosts/internal/platform/executil"
)

const (
	opAvailable errs.Op = "privileged.Available"
	opRemount   errs.Op = "privileged.Remount"
	opRun       errs.Op = "privileged.Run"
)

// Mode is the mount mode requested from Remount.
type Mode string

const (
	ReadWrite Mode = "rw"
	ReadOnly  Mode = "ro"
)

// commander is the subset of executil.Runner the facility needs.
type commander interface {
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Options tunes how commands are elevated.
type Options struct {
	// UseSudo prefixes every command with `sudo -n`. When false the
	// process is expected to already run as root.
	UseSudo bool
}

// Facility is the elevated-operation capability used by the installer.
type Facility struct {
	cmd  commander
	opts Options
}

// New is the base constructor. Pass executil.Real{} in production.
func New(cmd commander, opts Options) *Facility {
	return &Facility{cmd: cmd, opts: opts}
}

// NewDefault elevates through sudo unless the process is already root.
func NewDefault(isDev bool) *Facility {
	var runner executil.Runner = executil.Real{}
	if isDev {
		runner = executil.NewDevRunner()
	}
	return New(runner, Options{UseSudo: os.Geteuid() != 0})
}

// Available reports whether privileged commands can be run without
// prompting.
func (f *Facility) Available(ctx context.Context) bool {
	if !f.opts.UseSudo {
		return true
	}
	if out, err := f.cmd.CombinedOutput(ctx, "sudo", "-n", "true"); err != nil {
		slog.Debug("privileged: sudo not available",
			"err", errs.E(opAvailable, errs.KindSystem, err),
			"output", strings.TrimSpace(string(out)),
		)
		return false
	}
	return true
}

// Remount remounts the filesystem mounted at mountPoint with the given mode.
func (f *Facility) Remount(ctx context.Context, mountPoint string, mode Mode) (string, error) {
	out, err := f.exec(ctx, "mount", "-o", "remount,"+string(mode), mountPoint)
	if err != nil {
		return out, errs.E(opRemount, errs.KindSystem, err, fmt.Sprintf("remount %s %s", mountPoint, mode))
	}
	return out, nil
}

// Run executes name with args with elevated rights and returns the
// combined output.
func (f *Facility) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := f.exec(ctx, name, args...)
	if err != nil {
		return out, errs.E(opRun, errs.KindSystem, err, name)
	}
	return out, nil
}

func (f *Facility) exec(ctx context.Context, name string, args ...string) (string, error) {
	if f.opts.UseSudo {
		args = append([]string{"-n", name}, args...)
		name = "sudo"
	}
	slog.Debug("privileged: exec", "cmd", name, "args", strings.Join(args, " "))
	out, err := f.cmd.CombinedOutput(ctx, name, args...)
	return strings.TrimSpace(string(out)), err
}
