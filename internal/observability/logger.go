package observability

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
)

// ParseLevel maps a level name to a slog level. Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a tint-backed structured logger writing to w.
// Colors are disabled unless color is set, so logs stay clean when redirected.
func NewLogger(w io.Writer, level string, color bool) *slog.Logger {
	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			if source, ok := a.Value.Any().(*slog.Source); ok {
				source.File = filepath.Base(source.File)
			}
		}
		return a
	}

	lvl := ParseLevel(level)
	return slog.New(tint.NewHandler(w, &tint.Options{
		AddSource:   lvl == slog.LevelDebug,
		Level:       lvl,
		ReplaceAttr: replaceAttrs,
		NoColor:     !color,
	}))
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
