package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const maxLevelWidth = 5

// textHandler renders records as "LEVEL [module] message key=value ...".
// Timestamps are left to the process supervisor.
type textHandler struct {
	mu       *sync.Mutex
	w        io.Writer
	level    slog.Level
	timezone *time.Location
	attrs    []slog.Attr
	group    string
}

func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return &textHandler{mu: &sync.Mutex{}, w: w, level: level, timezone: tz}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

//nolint:gocritic // slog.Handler interface requires record by value
func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	buf.WriteString(padLevel(levelName(r.Level)))

	var module string
	var rest []slog.Attr
	collect := func(a slog.Attr) bool {
		if a.Key == moduleKey {
			module = a.Value.String()
			return true
		}
		rest = append(rest, a)
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	if module != "" {
		buf.WriteString(" [")
		buf.WriteString(module)
		buf.WriteByte(']')
	}
	buf.WriteByte(' ')
	buf.WriteString(r.Message)

	for _, a := range rest {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&buf, " %s=%s", key, formatValue(a.Value, h.timezone))
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func levelName(l slog.Level) string {
	if l <= traceLevelValue {
		return "TRACE"
	}
	return l.String()
}

func padLevel(s string) string {
	if len(s) >= maxLevelWidth {
		return s
	}
	return s + strings.Repeat(" ", maxLevelWidth-len(s))
}

func formatValue(v slog.Value, tz *time.Location) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if strings.ContainsAny(s, " \t\"=") {
			return fmt.Sprintf("%q", s)
		}
		return s
	case slog.KindTime:
		return v.Time().In(tz).Format(time.RFC3339)
	default:
		return v.String()
	}
}
