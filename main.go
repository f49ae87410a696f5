package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/audiostream/cmd"
	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = buildinfo.UnknownValue
	buildDate = buildinfo.UnknownValue
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCtx := app.New(buildinfo.NewContext(version, buildDate))
	defer func() { _ = appCtx.Shutdown() }()

	rootCmd := cmd.RootCommand(appCtx)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "audiostream: %v\n", err)
		return 1
	}
	return 0
}
