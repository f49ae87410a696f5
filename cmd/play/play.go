// Package play reads an audio asset through the resource manager the way a
// mixer would, optionally writing the frames to a WAV file.
package play

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/resource"
)

// outputBitDepth is the sample size of WAV files written by play
const outputBitDepth = 16

type options struct {
	stream bool
	out    string
	start  time.Duration
	chunk  time.Duration
}

// Command creates a new play command for reading a single audio file.
func Command(ctx *app.Context) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "play [input]",
		Short: "Read an audio file through a buffered or streaming source",
		Long:  `Read every frame of an audio file in mixer-sized chunks, pumping loader jobs while the source is busy.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), ctx, args[0], &opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Use a streaming source instead of decoding the whole file")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the read frames to a 16-bit WAV file")
	cmd.Flags().DurationVar(&opts.start, "start", 0, "Seek to this offset before reading")
	cmd.Flags().DurationVar(&opts.chunk, "chunk", 10*time.Millisecond, "Audio read per ReadFrames call")

	return cmd
}

func run(ctx context.Context, appCtx *app.Context, path string, opts *options, w io.Writer) error {
	log := appCtx.Logger("play")

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
	if opts.stream {
		flags = resource.FlagAsync | resource.FlagStream
	}

	started := time.Now()
	src, err := m.NewSource(ctx, path, flags, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn("source close failed", logger.Error(err))
		}
	}()

	if err := waitReady(ctx, m, src); err != nil {
		return err
	}

	format, err := src.DataFormat()
	if err != nil {
		return err
	}
	if opts.start > 0 {
		if err := seek(ctx, m, src, durationToFrames(opts.start, format.SampleRate)); err != nil {
			return err
		}
	}

	var sink *wavSink
	if opts.out != "" {
		sink, err = newWAVSink(opts.out, format)
		if err != nil {
			return err
		}
	}

	chunk := max(durationToFrames(opts.chunk, format.SampleRate), 1)
	buf := make([]byte, chunk*uint64(format.BytesPerFrame()))

	var frames, busy uint64
	for {
		n, err := src.ReadFrames(buf, chunk)
		if n > 0 {
			frames += n
			if sink != nil {
				if err := sink.write(buf[:n*uint64(format.BytesPerFrame())]); err != nil {
					_ = sink.close()
					return err
				}
			}
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
		case errors.Is(err, resource.ErrBusy):
			busy++
			if err := app.Pump(ctx, m); err != nil {
				return err
			}
			continue
		default:
			if sink != nil {
				_ = sink.close()
			}
			return err
		}
		break
	}

	if sink != nil {
		if err := sink.close(); err != nil {
			return err
		}
	}

	elapsed := time.Since(started)
	log.Debug("playback finished",
		logger.String("path", path),
		logger.Uint64("frames", frames),
		logger.Uint64("busy_reads", busy),
		logger.Duration("elapsed", elapsed))

	fmt.Fprintf(w, "%s: %s, read %d frames (%s of audio, %s) in %s, %d busy reads\n",
		path, format, frames,
		units.HumanDuration(framesToDuration(frames, format.SampleRate)),
		units.BytesSize(float64(frames*uint64(format.BytesPerFrame()))),
		elapsed.Round(time.Millisecond), busy)
	return nil
}

// waitReady pumps jobs until the source has loaded or failed.
func waitReady(ctx context.Context, m *resource.Manager, src resource.Source) error {
	for {
		err := src.Result()
		if !errors.Is(err, resource.ErrBusy) {
			return err
		}
		if err := app.Pump(ctx, m); err != nil {
			return err
		}
	}
}

func seek(ctx context.Context, m *resource.Manager, src resource.Source, frame uint64) error {
	if err := src.Seek(frame); err != nil {
		return err
	}
	// A streaming seek completes on a job
	for {
		_, err := src.Cursor()
		if !errors.Is(err, resource.ErrBusy) {
			return err
		}
		if err := app.Pump(ctx, m); err != nil {
			return err
		}
	}
}

func durationToFrames(d time.Duration, sampleRate uint32) uint64 {
	return uint64(d.Seconds() * float64(sampleRate))
}

func framesToDuration(frames uint64, sampleRate uint32) time.Duration {
	if sampleRate == 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}

// wavSink converts decoded frames to 16-bit PCM and encodes them.
type wavSink struct {
	file    *os.File
	enc     *wav.Encoder
	format  decoder.DataFormat
	scratch []byte
	buf     *audio.IntBuffer
}

func newWAVSink(path string, format decoder.DataFormat) (*wavSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to create output file: %w", err)).
			Component("play").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	return &wavSink{
		file:   f,
		enc:    wav.NewEncoder(f, int(format.SampleRate), outputBitDepth, int(format.Channels), 1),
		format: format,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{SampleRate: int(format.SampleRate), NumChannels: int(format.Channels)},
			SourceBitDepth: outputBitDepth,
		},
	}, nil
}

func (s *wavSink) write(frames []byte) error {
	samples := len(frames) / s.format.Format.BytesPerSample()
	if cap(s.scratch) < samples*2 {
		s.scratch = make([]byte, samples*2)
	}
	s.scratch = s.scratch[:samples*2]
	decoder.ConvertSamples(s.scratch, decoder.FormatS16, frames, s.format.Format, samples)

	if cap(s.buf.Data) < samples {
		s.buf.Data = make([]int, samples)
	}
	s.buf.Data = s.buf.Data[:samples]
	for i := range samples {
		s.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(s.scratch[i*2:])))
	}

	if err := s.enc.Write(s.buf); err != nil {
		return fmt.Errorf("failed to write to WAV encoder: %w", err)
	}
	return nil
}

func (s *wavSink) close() error {
	if err := s.enc.Close(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return s.file.Close()
}
