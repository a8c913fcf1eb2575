package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/strct-org/strct-hosts/internal/app"
	"github.com/strct-org/strct-hosts/internal/config"
	"github.com/strct-org/strct-hosts/internal/features/adblocker"
	"github.com/strct-org/strct-hosts/internal/ota"
	"github.com/strct-org/strct-hosts/internal/pipeline"
	"github.com/strct-org/strct-hosts/internal/store"
)

var errUsage = errors.New("usage")

func usageErr(format string, a ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, a...))
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: strct-hosts [-dev] <command> [args]

Commands:
  apply                             download enabled sources and install the merged hosts file
  revert                            install the default hosts file (localhost only)
  serve                             run the API, the periodic updater and the self-updater
  status                            show sources, lists and the installed hosts file
  sources list
  sources add|enable|disable|remove <url>
  whitelist|blacklist add|enable|disable|remove <hostname>
  redirect add <hostname> <ip>
  redirect enable|disable|remove <hostname>
  prefs show
  prefs set default-ip <ip>
  prefs set strip-comments true|false
  self-update                       replace the binary with the latest release
  version
`)
}

func dispatch(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageErr("no command given")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "apply":
		return withAdBlocker(ctx, cfg, func(ab *adblocker.AdBlocker) error {
			return runApply(ctx, ab, out)
		})
	case "revert":
		return withAdBlocker(ctx, cfg, func(ab *adblocker.AdBlocker) error {
			return runRevert(ctx, ab, out)
		})
	case "serve":
		return runServe(ctx, cfg)
	case "self-update":
		return runSelfUpdate(ctx, cfg, out)
	case "version":
		fmt.Fprintf(out, "strct-hosts %s\n", cfg.Version)
		return nil
	case "status":
		return withStore(cfg, func(st store.Store) error {
			return runStatus(ctx, st, cfg.HostsPath, out)
		})
	case "sources":
		return withStore(cfg, func(st store.Store) error {
			return runSources(ctx, st, rest, out)
		})
	case "whitelist", "blacklist", "redirect":
		return withStore(cfg, func(st store.Store) error {
			return runList(ctx, st, cmd, rest, out)
		})
	case "prefs":
		return withStore(cfg, func(st store.Store) error {
			return runPrefs(ctx, st, rest, out)
		})
	default:
		return usageErr("unknown command %q", cmd)
	}
}

func withStore(cfg *config.Config, fn func(store.Store) error) error {
	st, cleanup, err := app.ProvideStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(st)
}

func withAdBlocker(ctx context.Context, cfg *config.Config, fn func(*adblocker.AdBlocker) error) error {
	ab, cleanup, err := app.InitializeAdBlocker(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ab)
}

// runServe blocks until ctx is cancelled or a service fails. A completed
// self-update is a clean exit.
func runServe(ctx context.Context, cfg *config.Config) error {
	ag, cleanup, err := app.InitializeAgent(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	err = ag.Start(ctx)
	if errors.Is(err, ota.ErrRestartRequired) {
		// The service manager restarts us on the new binary.
		fmt.Fprintln(os.Stderr, "strct-hosts: updated, exiting for restart")
		return nil
	}
	return err
}

func runSelfUpdate(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.UpdateURL == "" {
		return errors.New("self-update: UPDATE_URL is not set")
	}
	updated, err := app.InitializeUpdater(cfg).Apply(ctx)
	if err != nil {
		return err
	}
	if updated {
		fmt.Fprintln(out, "updated, restart strct-hosts to use the new version")
	} else {
		fmt.Fprintf(out, "already up to date (%s)\n", cfg.Version)
	}
	return nil
}

func runApply(ctx context.Context, ab *adblocker.AdBlocker, out io.Writer) error {
	events := make(chan pipeline.Event, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(out, events)
	}()

	res, err := ab.Apply(ctx, events)
	close(events)
	<-done
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "installed %d hostnames and %d redirections from %d sources (%s)\n",
		res.Hostnames, res.Redirections, res.Sources, res.Duration.Round(time.Millisecond))
	return nil
}

func runRevert(ctx context.Context, ab *adblocker.AdBlocker, out io.Writer) error {
	if _, err := ab.Revert(ctx, nil); err != nil {
		return err
	}
	fmt.Fprintln(out, "default hosts file installed")
	return nil
}

// printEvents renders run events as one line per state change and one per
// tenth of each download.
func printEvents(out io.Writer, events <-chan pipeline.Event) {
	lastTenth := -1
	for ev := range events {
		if ev.Progress {
			if tenth := ev.Percent / 10; tenth > lastTenth {
				lastTenth = tenth
				fmt.Fprintf(out, "  %3d%%\n", ev.Percent)
			}
			continue
		}
		switch ev.State {
		case pipeline.StateFetching:
			lastTenth = -1
			fmt.Fprintf(out, "fetching [%d] %s\n", ev.Index+1, ev.URL)
		case pipeline.StateFailed, pipeline.StateCancelled:
			// the returned error is printed by main
		case pipeline.StateDone:
		default:
			fmt.Fprintf(out, "%s\n", ev.State)
		}
	}
}

func runStatus(ctx context.Context, st store.Store, hostsPath string, out io.Writer) error {
	sources, err := st.Sources(ctx)
	if err != nil {
		return err
	}
	prefs, err := st.Preferences(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "hosts file:\t%s\n", describeFile(hostsPath))
	fmt.Fprintf(tw, "default ip:\t%s\n", prefs.DefaultIP)
	fmt.Fprintf(tw, "strip comments:\t%t\n", prefs.StripComments)

	enabled := 0
	for _, s := range sources {
		if s.Enabled {
			enabled++
		}
	}
	fmt.Fprintf(tw, "sources:\t%d enabled, %d total\n", enabled, len(sources))

	for _, l := range []store.List{store.ListWhitelist, store.ListBlacklist, store.ListRedirection} {
		entries, err := st.Entries(ctx, l)
		if err != nil {
			return err
		}
		on := 0
		for _, e := range entries {
			if e.Enabled {
				on++
			}
		}
		fmt.Fprintf(tw, "%s:\t%d enabled, %d total\n", l, on, len(entries))
	}
	return tw.Flush()
}

func describeFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("%s (%v)", path, err)
	}
	return fmt.Sprintf("%s (%d bytes, modified %s)", path, info.Size(), info.ModTime().Format(time.RFC3339))
}

func runSources(ctx context.Context, st store.Store, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageErr("sources: missing subcommand")
	}
	if args[0] == "list" {
		sources, err := st.Sources(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, s := range sources {
			fmt.Fprintf(tw, "%s\t%s\n", onOff(s.Enabled), s.URL)
		}
		return tw.Flush()
	}

	if len(args) != 2 {
		return usageErr("sources %s: expected one url", args[0])
	}
	url := args[1]
	switch args[0] {
	case "add":
		return st.AddSource(ctx, url)
	case "enable":
		return st.SetSourceEnabled(ctx, url, true)
	case "disable":
		return st.SetSourceEnabled(ctx, url, false)
	case "remove":
		return st.RemoveSource(ctx, url)
	default:
		return usageErr("sources: unknown subcommand %q", args[0])
	}
}

func runList(ctx context.Context, st store.Store, name string, args []string, out io.Writer) error {
	list, err := store.ParseList(name)
	if err != nil {
		return err
	}
	if len(args) == 0 || args[0] == "list" {
		entries, err := st.Entries(ctx, list)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, e := range entries {
			if list == store.ListRedirection {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", onOff(e.Enabled), e.Hostname, e.IP)
			} else {
				fmt.Fprintf(tw, "%s\t%s\n", onOff(e.Enabled), e.Hostname)
			}
		}
		return tw.Flush()
	}

	sub := args[0]
	if sub == "add" && list == store.ListRedirection {
		if len(args) != 3 {
			return usageErr("redirect add: expected <hostname> <ip>")
		}
		return st.AddRedirection(ctx, args[1], args[2])
	}
	if len(args) != 2 {
		return usageErr("%s %s: expected one hostname", name, sub)
	}
	host := args[1]
	switch sub {
	case "add":
		if list == store.ListWhitelist {
			return st.AddWhitelist(ctx, host)
		}
		return st.AddBlacklist(ctx, host)
	case "enable":
		return st.SetEntryEnabled(ctx, list, host, true)
	case "disable":
		return st.SetEntryEnabled(ctx, list, host, false)
	case "remove":
		return st.RemoveEntry(ctx, list, host)
	default:
		return usageErr("%s: unknown subcommand %q", name, sub)
	}
}

func runPrefs(ctx context.Context, st store.Store, args []string, out io.Writer) error {
	prefs, err := st.Preferences(ctx)
	if err != nil {
		return err
	}
	if len(args) == 0 || args[0] == "show" {
		fmt.Fprintf(out, "default-ip: %s\nstrip-comments: %t\n", prefs.DefaultIP, prefs.StripComments)
		return nil
	}
	if args[0] != "set" || len(args) != 3 {
		return usageErr("prefs: expected show or set <key> <value>")
	}

	switch key, value := args[1], args[2]; key {
	case "default-ip":
		prefs.DefaultIP = value
	case "strip-comments":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return usageErr("prefs set strip-comments: %q is not a boolean", value)
		}
		prefs.StripComments = b
	default:
		return usageErr("prefs: unknown key %q", key)
	}
	return st.SetPreferences(ctx, prefs)
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
