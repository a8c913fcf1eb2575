// Package executil puts os/exec behind a small interface so the privileged
// install sequence (mount, cp, chown, chmod, sudo) can be exercised without
// root or a read-only system partition.
//
// Consumers declare the subset they call as an unexported interface and
// take it in their constructor: Real in production, DevRunner with -dev,
// Mock in tests. privileged.Facility is the one consumer today.
package executil

import (
	"context"
	"os/exec"
	"slices"
	"strings"
	"sync"
)

// Runner is implemented by Real, DevRunner and Mock.
type Runner interface {
	// CombinedOutput returns stdout and stderr interleaved, which is what
	// ends up in an install diagnostic.
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Real runs the command for real, killed when ctx ends.
type Real struct{}

func (Real) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

// String is the "name arg1 arg2" form used as the Expect key.
func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

type MockResult struct {
	Output []byte
	Err    error
}

// Mock records invocations and replays canned results. Commands without an
// Expect succeed with empty output.
//
//	m := &executil.Mock{}
//	m.Expect("chown 0:0 /etc/hosts", executil.MockResult{Err: errors.New("operation not permitted")})
//	f := privileged.New(m, privileged.Options{})
//	...
//	m.AssertCalled(t, "mount -o remount,ro /system")
type Mock struct {
	mu sync.Mutex

	// Calls is the invocation log, oldest first.
	Calls []Call

	responses map[string]MockResult

	// OnCall, when set, runs before the response is returned. Tests use it
	// to simulate side effects such as a copy writing the destination file.
	OnCall func(c Call)
}

// Expect sets the result for an exact "name arg1 arg2" command line.
func (m *Mock) Expect(command string, result MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responses == nil {
		m.responses = make(map[string]MockResult)
	}
	m.responses[command] = result
}

func (m *Mock) record(name string, args []string) MockResult {
	m.mu.Lock()
	c := Call{Name: name, Args: args}
	m.Calls = append(m.Calls, c)
	r, ok := m.responses[c.String()]
	hook := m.OnCall
	m.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	if ok {
		return r
	}
	return MockResult{}
}

func (m *Mock) CombinedOutput(_ context.Context, name string, args ...string) ([]byte, error) {
	r := m.record(name, args)
	return r.Output, r.Err
}

// Commands returns the recorded calls as strings, in order.
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.String()
	}
	return out
}

func (m *Mock) WasCalled(command string) bool {
	return slices.Contains(m.Commands(), command)
}

func (m *Mock) CallCount(command string) int {
	n := 0
	for _, c := range m.Commands() {
		if c == command {
			n++
		}
	}
	return n
}

// testingT is the part of *testing.T the assertions use.
type testingT interface {
	Helper()
	Errorf(format string, args ...any)
}

func (m *Mock) AssertCalled(t testingT, command string) {
	t.Helper()
	if !m.WasCalled(command) {
		t.Errorf("command %q was not run; got:\n  %s", command, strings.Join(m.Commands(), "\n  "))
	}
}

func (m *Mock) AssertNotCalled(t testingT, command string) {
	t.Helper()
	if m.WasCalled(command) {
		t.Errorf("command %q was run, want it skipped", command)
	}
}
