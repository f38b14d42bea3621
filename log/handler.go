package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/colorfulnotion/jitrt/common"
)

type discardHandler struct{}

// DiscardHandler returns a handler that drops every record.
func DiscardHandler() slog.Handler {
	return &discardHandler{}
}

func (h *discardHandler) Handle(_ context.Context, r slog.Record) error  { return nil }
func (h *discardHandler) Enabled(_ context.Context, lvl slog.Level) bool { return false }
func (h *discardHandler) WithGroup(name string) slog.Handler             { return h }
func (h *discardHandler) WithAttrs(attrs []slog.Attr) slog.Handler       { return h }

const timeFormat = "01-02|15:04:05.000"

// TerminalHandler prints records in a human-friendly single-line format,
// optionally colorizing the level tag.
type TerminalHandler struct {
	mu       sync.Mutex
	wr       io.Writer
	lvl      slog.Level
	useColor bool
	attrs    []slog.Attr
	buf      []byte
}

// NewTerminalHandler returns a handler which logs everything.
func NewTerminalHandler(wr io.Writer, useColor bool) *TerminalHandler {
	return NewTerminalHandlerWithLevel(wr, levelMaxVerbosity, useColor)
}

// NewTerminalHandlerWithLevel returns the same handler as NewTerminalHandler
// but only outputs records at or above the given verbosity.
func NewTerminalHandlerWithLevel(wr io.Writer, lvl slog.Level, useColor bool) *TerminalHandler {
	return &TerminalHandler{
		wr:       wr,
		lvl:      lvl,
		useColor: useColor,
	}
}

func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.format(h.buf[:0], r)
	h.wr.Write(buf)
	h.buf = buf[:0]
	return nil
}

func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.lvl
}

func (h *TerminalHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := NewTerminalHandlerWithLevel(h.wr, h.lvl, h.useColor)
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return clone
}

func (h *TerminalHandler) format(buf []byte, r slog.Record) []byte {
	lvl := LevelAlignedString(r.Level)
	if h.useColor {
		buf = append(buf, levelColor(r.Level)...)
		buf = append(buf, lvl...)
		buf = append(buf, common.ColorReset...)
	} else {
		buf = append(buf, lvl...)
	}
	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, timeFormat)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	for _, a := range h.attrs {
		buf = appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = appendAttr(buf, a)
		return true
	})
	buf = append(buf, '\n')
	return buf
}

func appendAttr(buf []byte, a slog.Attr) []byte {
	buf = append(buf, ' ')
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	val := a.Value.Resolve()
	switch val.Kind() {
	case slog.KindString:
		s := val.String()
		if needsQuoting(s) {
			buf = strconv.AppendQuote(buf, s)
		} else {
			buf = append(buf, s...)
		}
	case slog.KindInt64:
		buf = strconv.AppendInt(buf, val.Int64(), 10)
	case slog.KindUint64:
		buf = strconv.AppendUint(buf, val.Uint64(), 10)
	case slog.KindBool:
		buf = strconv.AppendBool(buf, val.Bool())
	case slog.KindDuration:
		buf = append(buf, val.Duration().String()...)
	case slog.KindTime:
		buf = val.Time().AppendFormat(buf, timeFormat)
	default:
		buf = fmt.Appendf(buf, "%v", val.Any())
	}
	return buf
}

func needsQuoting(s string) bool {
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return true
		}
	}
	return false
}

func levelColor(l slog.Level) string {
	switch {
	case l >= LevelCrit:
		return common.ColorMagenta
	case l >= LevelError:
		return common.ColorRed
	case l >= LevelWarn:
		return common.ColorYellow
	case l >= LevelInfo:
		return common.ColorGreen
	case l >= LevelDebug:
		return common.ColorCyan
	}
	return common.ColorGray
}
