package logger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	// DefaultBufferSize batches roughly a few hundred JSON records per write
	DefaultBufferSize = 32 * 1024

	// DefaultFlushInterval is the period of background flushes
	DefaultFlushInterval = 5 * time.Second

	// LogFilePermissions restricts log files to the owner
	LogFilePermissions = 0o600
)

// BufferedFileWriter is a thread-safe buffered file writer with periodic flushing.
type BufferedFileWriter struct {
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	stopFlush chan struct{}
	flushDone chan struct{}
	ticker    *time.Ticker
	closed    bool
}

// NewBufferedFileWriter opens filePath in append mode and starts the flush loop.
func NewBufferedFileWriter(filePath string) (*BufferedFileWriter, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
	}

	w := &BufferedFileWriter{
		file:      file,
		writer:    bufio.NewWriterSize(file, DefaultBufferSize),
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
		ticker:    time.NewTicker(DefaultFlushInterval),
	}
	go w.autoFlushLoop()
	return w, nil
}

func (w *BufferedFileWriter) autoFlushLoop() {
	defer close(w.flushDone)
	for {
		select {
		case <-w.stopFlush:
			return
		case <-w.ticker.C:
			// errors surface on the next Write
			_ = w.Flush()
		}
	}
}

// Write writes data to the buffer.
func (w *BufferedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.writer.Write(p)
}

// Flush pushes the buffer to the OS without fsync.
func (w *BufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return nil
}

// Close flushes, syncs and closes the file. Safe to call more than once.
func (w *BufferedFileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.ticker.Stop()
	close(w.stopFlush)
	<-w.flushDone

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if err := w.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush buffer: %w", err))
	}
	if err := w.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("failed to sync file: %w", err))
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close file: %w", err))
	}
	w.writer = nil
	w.file = nil
	return errors.Join(errs...)
}

var _ io.WriteCloser = (*BufferedFileWriter)(nil)
