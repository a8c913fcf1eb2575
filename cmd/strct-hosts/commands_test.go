package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/strct-org/strct-hosts/internal/config"
	"github.com/strct-org/strct-hosts/internal/pipeline"
	"github.com/strct-org/strct-hosts/internal/store"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.OpenYAML(filepath.Join(t.TempDir(), "store.yaml"))
	if err != nil {
		t.Fatalf("OpenYAML: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestDispatch_UsageErrors(t *testing.T) {
	cfg := &config.Config{Version: "1.2.3"}
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dispatch(context.Background(), cfg, tt.args, &bytes.Buffer{})
			if !errors.Is(err, errUsage) {
				t.Errorf("err = %v, want usage error", err)
			}
		})
	}
}

func TestDispatch_Version(t *testing.T) {
	var out bytes.Buffer
	if err := dispatch(context.Background(), &config.Config{Version: "1.2.3"}, []string{"version"}, &out); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "strct-hosts 1.2.3\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRunSources(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	const url = "https://lists.example.org/hosts"

	steps := []struct {
		args    []string
		wantErr error
	}{
		{[]string{"add", url}, nil},
		{[]string{"add", url}, store.ErrExists},
		{[]string{"disable", url}, nil},
		{[]string{"enable", "https://missing.example.org/hosts"}, store.ErrNotFound},
		{[]string{"add"}, errUsage},
		{[]string{"rename", url}, errUsage},
	}
	for _, s := range steps {
		err := runSources(ctx, st, s.args, &bytes.Buffer{})
		if s.wantErr == nil && err != nil {
			t.Fatalf("%v: %v", s.args, err)
		}
		if s.wantErr != nil && !errors.Is(err, s.wantErr) {
			t.Fatalf("%v: err = %v, want %v", s.args, err, s.wantErr)
		}
	}

	var out bytes.Buffer
	if err := runSources(ctx, st, []string{"list"}, &out); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "off  "+url {
		t.Errorf("list = %q", got)
	}

	if err := runSources(ctx, st, []string{"remove", url}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if srcs, _ := st.Sources(ctx); len(srcs) != 0 {
		t.Errorf("sources after remove = %v", srcs)
	}
}

func TestRunList(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	must := func(name string, args ...string) {
		t.Helper()
		if err := runList(ctx, st, name, args, &bytes.Buffer{}); err != nil {
			t.Fatalf("%s %v: %v", name, args, err)
		}
	}
	must("whitelist", "add", "Analytics.Example.COM")
	must("blacklist", "add", "tracker.example.net")
	must("blacklist", "disable", "tracker.example.net")
	must("redirect", "add", "nas.example.lan", "192.168.1.10")

	wl, _ := st.Whitelist(ctx)
	if _, ok := wl["Analytics.Example.COM"]; !ok {
		t.Errorf("whitelist = %v", wl)
	}
	bl, _ := st.Blacklist(ctx)
	if len(bl) != 0 {
		t.Errorf("disabled entry still in blacklist: %v", bl)
	}
	redir, _ := st.Redirections(ctx)
	if redir["nas.example.lan"] != "192.168.1.10" {
		t.Errorf("redirections = %v", redir)
	}

	var out bytes.Buffer
	if err := runList(ctx, st, "redirect", []string{"list"}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "nas.example.lan  192.168.1.10") {
		t.Errorf("redirect list = %q", out.String())
	}

	usageCases := [][]string{
		{"add"},
		{"add", "a.example.com", "b.example.com"},
		{"toggle", "a.example.com"},
	}
	for _, args := range usageCases {
		if err := runList(ctx, st, "blacklist", args, &bytes.Buffer{}); !errors.Is(err, errUsage) {
			t.Errorf("blacklist %v: err = %v, want usage error", args, err)
		}
	}
	if err := runList(ctx, st, "redirect", []string{"add", "x.example.com"}, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Errorf("redirect add without ip: err = %v", err)
	}
	if err := runList(ctx, st, "blacklist", []string{"add", "localhost"}, &bytes.Buffer{}); !errors.Is(err, store.ErrInvalid) {
		t.Errorf("blacklist localhost: err = %v, want ErrInvalid", err)
	}
}

func TestRunPrefs(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	if err := runPrefs(ctx, st, []string{"set", "default-ip", "0.0.0.0"}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if err := runPrefs(ctx, st, []string{"set", "strip-comments", "true"}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runPrefs(ctx, st, []string{"show"}, &out); err != nil {
		t.Fatal(err)
	}
	if want := "default-ip: 0.0.0.0\nstrip-comments: true\n"; out.String() != want {
		t.Errorf("show = %q, want %q", out.String(), want)
	}

	if err := runPrefs(ctx, st, []string{"set", "strip-comments", "maybe"}, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Errorf("bad bool: err = %v", err)
	}
	if err := runPrefs(ctx, st, []string{"set", "default-ip", "not-an-ip"}, &bytes.Buffer{}); !errors.Is(err, store.ErrInvalid) {
		t.Errorf("bad ip: err = %v", err)
	}
	if err := runPrefs(ctx, st, []string{"set", "colour", "blue"}, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Errorf("unknown key: err = %v", err)
	}
}

func TestRunStatus(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	if err := st.AddSource(ctx, "https://lists.example.org/hosts"); err != nil {
		t.Fatal(err)
	}
	if err := st.AddBlacklist(ctx, "ads.example.com"); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runStatus(ctx, st, filepath.Join(t.TempDir(), "hosts"), &out); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"sources:", "1 enabled, 1 total", "blacklist:", "default ip:", "127.0.0.1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("status missing %q:\n%s", want, out.String())
		}
	}
}

func TestPrintEvents(t *testing.T) {
	events := make(chan pipeline.Event, 16)
	for _, ev := range []pipeline.Event{
		{State: pipeline.StateFetching, Index: 0, URL: "https://a.example/hosts"},
		{State: pipeline.StateFetching, Progress: true, Percent: 5},
		{State: pipeline.StateFetching, Progress: true, Percent: 7},
		{State: pipeline.StateFetching, Progress: true, Percent: 100},
		{State: pipeline.StateParsing},
		{State: pipeline.StateMerging},
		{State: pipeline.StateInstalling},
		{State: pipeline.StateDone},
	} {
		events <- ev
	}
	close(events)

	var out bytes.Buffer
	printEvents(&out, events)

	want := "fetching [1] https://a.example/hosts\n" +
		"    5%\n" +
		"  100%\n" +
		"parsing\nmerging\ninstalling\n"
	if out.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", out.String(), want)
	}
}
