package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/strct-org/strct-hosts/internal/config"
	"github.com/strct-org/strct-hosts/internal/logger"
	"github.com/strct-org/strct-hosts/internal/pipeline"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "0.0.0-dev"

const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitCancelled = 130
)

func main() {
	devMode := flag.Bool("dev", false, "Run in development mode (hosts file under the data dir, privileged commands stubbed)")
	flag.Usage = func() { usage(os.Stderr) }
	flag.Parse()

	logger.Init(*devMode)
	cfg := config.Load(*devMode, version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg, flag.Args()))
}

func run(ctx context.Context, cfg *config.Config, args []string) int {
	err := dispatch(ctx, cfg, args, os.Stdout)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "strct-hosts: %v\n\n", err)
		usage(os.Stderr)
		return exitUsage
	case pipeline.ReasonOf(err) == pipeline.Cancelled:
		fmt.Fprintln(os.Stderr, "strct-hosts: cancelled")
		return exitCancelled
	default:
		slog.Debug("main: command failed", "err", err)
		fmt.Fprintf(os.Stderr, "strct-hosts: %v\n", err)
		return exitFailure
	}
}
