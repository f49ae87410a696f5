package info

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/resource"
)

// Command creates a new info command that prints the decoded format and
// length of audio files.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "info [file...]",
		Short: "Print the format and length of audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), ctx, args, cmd.OutOrStdout())
		},
	}
}

func run(ctx context.Context, appCtx *app.Context, paths []string, w io.Writer) error {
	log := appCtx.Logger("info")

	m, err := appCtx.NewManager()
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("resource manager close failed", logger.Error(err))
		}
	}()

	var failed int
	for _, path := range paths {
		line, err := describe(ctx, m, path)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", path, line)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) could not be read", failed, len(paths))
	}
	return nil
}

// describe opens path as a stream, which decodes only the first pages.
func describe(ctx context.Context, m *resource.Manager, path string) (string, error) {
	src, err := m.NewStreamingSource(ctx, path, resource.FlagStream|resource.FlagAsync, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = src.Close() }()

	for {
		err := src.Result()
		if err == nil {
			break
		}
		if !errors.Is(err, resource.ErrBusy) {
			return "", err
		}
		if err := app.Pump(ctx, m); err != nil {
			return "", err
		}
	}

	format, err := src.DataFormat()
	if err != nil {
		return "", err
	}
	length, err := src.Length()
	switch {
	case errors.Is(err, resource.ErrNotImplemented):
		return fmt.Sprintf("%s, unknown length", format), nil
	case err != nil:
		return "", err
	}

	seconds := float64(length) / float64(max(format.SampleRate, 1))
	return fmt.Sprintf("%s, %d frames, %s (%.3fs)",
		format, length,
		units.HumanDuration(time.Duration(seconds*float64(time.Second))), seconds), nil
}
