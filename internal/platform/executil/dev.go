// internal/platform/executil/dev.go
//
// DevRunner wraps Real{} and stubs the commands that need root or an
// Android-style read-only system partition (mount, chown, sudo).
//
// Commands that are pure side-effects are logged at DEBUG level and
// silently succeed. Everything else (cp, chmod on a file under the dev
// data dir) falls through to the real binary so the installed file can be
// inspected after a dev run.
//
// Selected only when cfg.IsDev is true.
package executil

import (
	"context"
	"log/slog"
	"strings"
)

// DevRunner satisfies Runner.
type DevRunner struct{ real Runner }

func NewDevRunner() Runner { return &DevRunner{real: Real{}} }

// silentOK commands need privileges a dev laptop does not grant. They are
// logged at DEBUG and report success.
var silentOK = map[string]bool{
	"mount":  true,
	"umount": true,
	"chown":  true,
}

func (d *DevRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	if d.shouldStub(name, args) {
		slog.Debug("dev: stubbed (no-op)", "cmd", name, "args", strings.Join(args, " "))
		return []byte(""), nil
	}
	// sudo in dev: drop the prefix and run the command as the current user.
	if name == "sudo" {
		rest := stripSudoFlags(args)
		if len(rest) == 0 {
			return []byte(""), nil
		}
		return d.CombinedOutput(ctx, rest[0], rest[1:]...)
	}
	return d.real.CombinedOutput(ctx, name, args...)
}

func (d *DevRunner) shouldStub(name string, args []string) bool {
	if silentOK[name] {
		return true
	}
	// `sudo -n true` is the privilege probe.
	if name == "sudo" {
		rest := stripSudoFlags(args)
		return len(rest) == 0 || rest[0] == "true" || silentOK[rest[0]]
	}
	return false
}

func stripSudoFlags(args []string) []string {
	for i, a := range args {
		if !strings.HasPrefix(a, "-") {
			return args[i:]
		}
	}
	return nil
}
