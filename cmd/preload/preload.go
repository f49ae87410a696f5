// Package preload registers a set of files as shared decoded assets and
// waits on one fence for all of them to finish loading.
package preload

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/fence"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/resource"
)

type options struct {
	timeout time.Duration
	encoded bool
	stats   bool
}

// Command creates a new preload command.
func Command(ctx *app.Context) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "preload [file...]",
		Short: "Load files into the resource manager and report timing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := cmd.Context()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, opts.timeout)
				defer cancel()
			}
			return run(runCtx, ctx, args, &opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "Give up waiting after this long, 0 waits forever")
	cmd.Flags().BoolVar(&opts.encoded, "encoded", false, "Keep the encoded bytes instead of decoding to PCM")
	cmd.Flags().BoolVar(&opts.stats, "stats", true, "Print manager statistics as JSON")

	return cmd
}

func run(ctx context.Context, appCtx *app.Context, paths []string, opts *options, w io.Writer) error {
	log := appCtx.Logger("preload")

	m, err := appCtx.NewManager()
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("resource manager close failed", logger.Error(err))
		}
	}()

	flags := resource.FlagAsync | resource.FlagDecode
	if opts.encoded {
		flags = resource.FlagAsync
	}

	done := fence.New()
	notes := &fence.PipelineNotifications{Done: fence.PipelineStage{Fence: done}}

	started := time.Now()
	registered := make([]string, 0, len(paths))
	var totalBytes int64
	for _, path := range paths {
		if err := m.RegisterFile(ctx, path, flags, notes); err != nil {
			log.Error("register failed", logger.String("path", path), logger.Error(err))
			continue
		}
		registered = append(registered, path)
		if fi, err := os.Stat(path); err == nil {
			totalBytes += fi.Size()
		}
	}

	if err := wait(ctx, m, done); err != nil {
		return errors.New(err).
			Component("preload").
			Category(errors.CategoryCancellation).
			Context("pending", done.Count()).
			Build()
	}
	elapsed := time.Since(started)

	for _, path := range registered {
		refs, _ := m.NodeRefCount(path)
		fmt.Fprintf(w, "%s: loaded, %d reference(s)\n", path, refs)
	}
	fmt.Fprintf(w, "%d of %d file(s), %s read in %s\n",
		len(registered), len(paths),
		units.HumanSize(float64(totalBytes)), elapsed.Round(time.Millisecond))

	if opts.stats {
		stats, err := m.Stats().ToJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, stats)
	}

	for _, path := range registered {
		if err := m.UnregisterFile(path); err != nil {
			log.Warn("unregister failed", logger.String("path", path), logger.Error(err))
		}
	}

	if len(registered) < len(paths) {
		return fmt.Errorf("%d file(s) failed to load", len(paths)-len(registered))
	}
	return nil
}

// wait pumps jobs until every load holding the fence has finished.
func wait(ctx context.Context, m *resource.Manager, done *fence.Fence) error {
	if m.JobThreadCount() > 0 {
		return done.Wait(ctx)
	}
	for {
		select {
		case <-done.Done():
			return nil
		default:
		}
		if err := app.Pump(ctx, m); err != nil {
			return err
		}
	}
}
