package privileged_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/strct-org/strct-hosts/internal/platform/executil"
	"github.com/strct-org/strct-hosts/internal/platform/privileged"
)

func TestRemount_AsRoot(t *testing.T) {
	m := &executil.Mock{}
	f := privileged.New(m, privileged.Options{})

	if _, err := f.Remount(context.Background(), "/system", privileged.ReadWrite); err != nil {
		t.Fatalf("Remount() error: %v", err)
	}
	m.AssertCalled(t, "mount -o remount,rw /system")
}

func TestRun_WithSudoPrefixesCommand(t *testing.T) {
	m := &executil.Mock{}
	f := privileged.New(m, privileged.Options{UseSudo: true})

	if _, err := f.Run(context.Background(), "chmod", "644", "/etc/hosts"); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	m.AssertCalled(t, "sudo -n chmod 644 /etc/hosts")
}

func TestRun_FailureCarriesOutput(t *testing.T) {
	m := &executil.Mock{}
	m.Expect("cp /data/hosts /etc/hosts", executil.MockResult{
		Output: []byte("cp: cannot create regular file '/etc/hosts': Read-only file system\n"),
		Err:    errors.New("exit status 1"),
	})
	f := privileged.New(m, privileged.Options{})

	out, err := f.Run(context.Background(), "cp", "/data/hosts", "/etc/hosts")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out, "Read-only file system") {
		t.Errorf("output = %q, want diagnostic", out)
	}
}

func TestAvailable(t *testing.T) {
	tests := []struct {
		name    string
		useSudo bool
		sudoErr error
		want    bool
	}{
		{"root needs no probe", false, nil, true},
		{"sudo works", true, nil, true},
		{"sudo wants a password", true, errors.New("exit status 1"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &executil.Mock{}
			m.Expect("sudo -n true", executil.MockResult{Err: tt.sudoErr})
			f := privileged.New(m, privileged.Options{UseSudo: tt.useSudo})

			if got := f.Available(context.Background()); got != tt.want {
				t.Errorf("Available() = %v, want %v", got, tt.want)
			}
			if !tt.useSudo && len(m.Calls) != 0 {
				t.Errorf("root should not probe sudo, calls: %v", m.Commands())
			}
		})
	}
}
