// Package logging provides the structured log format shared by the taskfin
// server, its scheduled refreshes, and the sync CLI.
//
// Every line looks like:
//
//	2026-01-06T14:05:52Z [taskfin] INFO Sync complete user=abc stats="created=3, updated=0"
//
// Call Init once at startup and use slog directly everywhere else.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Handler is a slog.Handler writing the single-line format described above.
type Handler struct {
	source string
	level  slog.Leveler
	mu     *sync.Mutex
	writer io.Writer
	attrs  []slog.Attr
	prefix string // dotted group path applied to record attrs
}

// NewHandler creates a handler tagging each line with source.
func NewHandler(source string, w io.Writer, level slog.Leveler) *Handler {
	return &Handler{
		source: source,
		level:  level,
		mu:     &sync.Mutex{},
		writer: w,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes one record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var buf strings.Builder
	buf.WriteString(ts.UTC().Format("2006-01-02T15:04:05Z"))
	buf.WriteString(" [")
	buf.WriteString(h.source)
	buf.WriteString("] ")
	buf.WriteString(r.Level.String())
	buf.WriteString(" ")
	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, buf.String())
	return err
}

// WithAttrs returns a handler that appends attrs to every line.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

// WithGroup returns a handler that prefixes subsequent keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range group {
			writeAttr(buf, p, ga)
		}
		return
	}

	buf.WriteString(" ")
	buf.WriteString(prefix)
	buf.WriteString(a.Key)
	buf.WriteString("=")
	buf.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindTime:
		s = v.Time().UTC().Format(time.RFC3339)
	default:
		s = fmt.Sprintf("%v", v.Any())
	}
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// NewLogger creates a logger at the level named by LOG_LEVEL.
func NewLogger(source string, w io.Writer) *slog.Logger {
	return NewLoggerWithLevel(source, w, LevelFromEnv())
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(source string, w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(NewHandler(source, w, level))
}

// LevelFromEnv maps LOG_LEVEL to a slog level, defaulting to INFO.
func LevelFromEnv() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs the default logger writing to stdout.
func Init(source string) {
	InitWithWriter(source, os.Stdout)
}

// InitWithWriter installs the default logger writing to w.
func InitWithWriter(source string, w io.Writer) {
	slog.SetDefault(NewLogger(source, w))
}
