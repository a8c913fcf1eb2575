package install_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/strct-org/strct-hosts/internal/errs"
	"github.com/strct-org/strct-hosts/internal/install"
	"github.com/strct-org/strct-hosts/internal/platform/executil"
	"github.com/strct-org/strct-hosts/internal/platform/privileged"
)

const hostsPath = "/system/etc/hosts"

func plenty(string) (uint64, error) { return 1 << 40, nil }

func writeStaged(t *testing.T, dir string, size int64) string {
	t.Helper()
	p := filepath.Join(dir, "hosts")
	if err := os.WriteFile(p, []byte("127.0.0.1 localhost\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if size > 0 {
		if err := os.Truncate(p, size); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func newInstaller(t *testing.T, m *executil.Mock, free func(string) (uint64, error), opts privileged.Options) (*install.Installer, string) {
	t.Helper()
	dir := t.TempDir()
	inst := install.New(install.Config{
		HostsPath:  hostsPath,
		MountPoint: "/system",
		StagingDir: dir,
	}, privileged.New(m, opts), free)
	return inst, dir
}

func TestInstall_RunsSequenceAndRemountsReadOnly(t *testing.T) {
	m := &executil.Mock{}
	inst, dir := newInstaller(t, m, plenty, privileged.Options{})
	staged := writeStaged(t, dir, 0)

	if err := inst.Install(context.Background(), staged); err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	want := []string{
		"mount -o remount,rw /system",
		"cp " + staged + " " + hostsPath,
		"chown 0:0 " + hostsPath,
		"chmod 644 " + hostsPath,
		"mount -o remount,ro /system",
	}
	if got := m.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands =\n%v\nwant\n%v", got, want)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("staged file should be deleted after success")
	}
}

func TestInstall_ScenarioD_InsufficientSpace(t *testing.T) {
	m := &executil.Mock{}
	free := func(string) (uint64, error) { return 4_000_000, nil }
	inst, dir := newInstaller(t, m, free, privileged.Options{UseSudo: true})
	staged := writeStaged(t, dir, 5_000_000)

	err := inst.Install(context.Background(), staged)
	if !errors.Is(err, install.ErrInsufficientSpace) {
		t.Fatalf("err = %v, want ErrInsufficientSpace", err)
	}
	if errs.KindOf(err) != errs.KindSpace {
		t.Errorf("kind = %v, want KindSpace", errs.KindOf(err))
	}
	if len(m.Calls) != 0 {
		t.Errorf("expected zero privileged operations, got %v", m.Commands())
	}
	if _, err := os.Stat(staged); err != nil {
		t.Error("staged file should be kept after failure")
	}
}

func TestInstall_ExactFitIsRejected(t *testing.T) {
	m := &executil.Mock{}
	free := func(string) (uint64, error) { return 1000, nil }
	inst, dir := newInstaller(t, m, free, privileged.Options{})
	staged := writeStaged(t, dir, 1000)

	if err := inst.Install(context.Background(), staged); !errors.Is(err, install.ErrInsufficientSpace) {
		t.Fatalf("err = %v, want ErrInsufficientSpace", err)
	}
}

func TestInstall_StepFailureStillRemountsReadOnly(t *testing.T) {
	tests := []struct {
		name      string
		failing   string
		stage     string
		notCalled string
	}{
		{"remount rw", "mount -o remount,rw /system", install.StageRemountRW, "cp"},
		{"copy", "cp {staged} " + hostsPath, install.StageCopy, "chown 0:0 " + hostsPath},
		{"chown", "chown 0:0 " + hostsPath, install.StageChown, "chmod 644 " + hostsPath},
		{"chmod", "chmod 644 " + hostsPath, install.StageChmod, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &executil.Mock{}
			inst, dir := newInstaller(t, m, plenty, privileged.Options{})
			staged := writeStaged(t, dir, 0)

			failing := tt.failing
			if failing == "cp {staged} "+hostsPath {
				failing = "cp " + staged + " " + hostsPath
			}
			m.Expect(failing, executil.MockResult{
				Output: []byte("Read-only file system"),
				Err:    errors.New("exit status 1"),
			})

			err := inst.Install(context.Background(), staged)

			var se *install.StageError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StageError", err)
			}
			if se.Stage != tt.stage {
				t.Errorf("Stage = %q, want %q", se.Stage, tt.stage)
			}
			if se.Diagnostic != "Read-only file system" {
				t.Errorf("Diagnostic = %q", se.Diagnostic)
			}
			cmds := m.Commands()
			if cmds[len(cmds)-1] != "mount -o remount,ro /system" {
				t.Errorf("last command = %q, want read-only remount; all: %v", cmds[len(cmds)-1], cmds)
			}
			if tt.notCalled != "" {
				for _, c := range cmds {
					if c == tt.notCalled || (tt.notCalled == "cp" && len(c) > 3 && c[:3] == "cp ") {
						t.Errorf("%q should not run after the failure", c)
					}
				}
			}
			if _, err := os.Stat(staged); err != nil {
				t.Error("staged file should be kept for diagnosis")
			}
		})
	}
}

func TestInstall_NoMountPointSkipsRemount(t *testing.T) {
	m := &executil.Mock{}
	dir := t.TempDir()
	inst := install.New(install.Config{HostsPath: "/etc/hosts", StagingDir: dir}, privileged.New(m, privileged.Options{}), plenty)
	staged := writeStaged(t, dir, 0)

	if err := inst.Install(context.Background(), staged); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	for _, c := range m.Commands() {
		if c[:5] == "mount" {
			t.Errorf("unexpected remount: %q", c)
		}
	}
}

func TestInstall_NoPrivilegedAccess(t *testing.T) {
	m := &executil.Mock{}
	m.Expect("sudo -n true", executil.MockResult{Err: errors.New("a password is required")})
	inst, dir := newInstaller(t, m, plenty, privileged.Options{UseSudo: true})
	staged := writeStaged(t, dir, 0)

	err := inst.Install(context.Background(), staged)
	var se *install.StageError
	if !errors.As(err, &se) || se.Stage != install.StageAccess {
		t.Fatalf("err = %v, want access StageError", err)
	}
	if got := m.Commands(); len(got) != 1 {
		t.Errorf("only the probe should run, got %v", got)
	}
}

func TestInstall_MissingStagedFile(t *testing.T) {
	m := &executil.Mock{}
	inst, dir := newInstaller(t, m, plenty, privileged.Options{})

	err := inst.Install(context.Background(), filepath.Join(dir, "nope"))
	var se *install.StageError
	if !errors.As(err, &se) || se.Stage != install.StagePreflight {
		t.Fatalf("err = %v, want preflight StageError", err)
	}
	if len(m.Calls) != 0 {
		t.Errorf("no commands expected, got %v", m.Commands())
	}
}

func TestRevert_InstallsDefaultFile(t *testing.T) {
	var copied []byte
	m := &executil.Mock{}
	m.OnCall = func(c executil.Call) {
		if c.Name == "cp" {
			copied, _ = os.ReadFile(c.Args[0])
		}
	}
	inst, _ := newInstaller(t, m, plenty, privileged.Options{})

	if err := inst.Revert(context.Background()); err != nil {
		t.Fatalf("Revert() error: %v", err)
	}
	if string(copied) != "127.0.0.1 localhost\n" {
		t.Errorf("copied content = %q", copied)
	}
	cmds := m.Commands()
	if cmds[0] != "mount -o remount,rw /system" || cmds[len(cmds)-1] != "mount -o remount,ro /system" {
		t.Errorf("revert must use the same remount contract, got %v", cmds)
	}
}

func TestRevert_FailureIsRevertFailed(t *testing.T) {
	m := &executil.Mock{}
	m.Expect("chmod 644 "+hostsPath, executil.MockResult{Err: errors.New("exit status 1")})
	inst, _ := newInstaller(t, m, plenty, privileged.Options{})

	err := inst.Revert(context.Background())
	if !errors.Is(err, install.ErrRevertFailed) {
		t.Fatalf("err = %v, want ErrRevertFailed", err)
	}
	var se *install.StageError
	if !errors.As(err, &se) || se.Stage != install.StageChmod {
		t.Errorf("underlying stage should be preserved, got %v", err)
	}
	m.AssertCalled(t, "mount -o remount,ro /system")
}

func TestRevert_InsufficientSpace(t *testing.T) {
	m := &executil.Mock{}
	inst, _ := newInstaller(t, m, func(string) (uint64, error) { return 1, nil }, privileged.Options{})

	err := inst.Revert(context.Background())
	if !errors.Is(err, install.ErrRevertFailed) || !errors.Is(err, install.ErrInsufficientSpace) {
		t.Fatalf("err = %v, want RevertFailed wrapping InsufficientSpace", err)
	}
	if len(m.Calls) != 0 {
		t.Errorf("no privileged calls expected, got %v", m.Commands())
	}
}
