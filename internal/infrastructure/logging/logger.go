package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/homegateway/internal/infrastructure/config"
)

// ServiceName is attached to every log entry as the "service" field.
const ServiceName = "homegateway"

// Logger is the gateway's structured logger. Every entry carries the
// service name and build version; Component derives per-subsystem loggers
// that satisfy the narrow Logger interfaces declared by each package.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger

	// out is set when the logger owns its destination file.
	out io.Closer
}

// New builds a logger from the logging section of the config.
//
// Output is "stdout", "stderr" or a file path opened for append. A file
// that cannot be opened falls back to stderr, and the first entry written
// says so.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	w, closer, openErr := destination(cfg.Output)

	l := NewWithWriter(w, cfg, version)
	l.out = closer
	if openErr != nil {
		l.Warn("log file unavailable, writing to stderr", "output", cfg.Output, "error", openErr)
	}
	return l
}

// NewWithWriter is New with an explicit destination. Output in cfg is ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(h.WithAttrs([]slog.Attr{
			slog.String("service", ServiceName),
			slog.String("version", version),
		})),
	}
}

func destination(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // G304: path comes from the operator's config
	if err != nil {
		return os.Stderr, nil, fmt.Errorf("opening %s: %w", output, err)
	}
	return f, f, nil
}

// parseLevel maps debug, info, warn(ing) and error to slog levels.
// Anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a derived Logger carrying extra attributes. The derived
// logger shares the destination; only the root closes it.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags entries with the subsystem that wrote them.
//
// Example:
//
//	doorLog := logger.Component("door")
//	doorLog.Info("door armed", "ieee", ieee) // component=door
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Close releases the log file, if New opened one.
func (l *Logger) Close() error {
	if l == nil || l.out == nil {
		return nil
	}
	return l.out.Close()
}

// Default is the logger used before configuration is loaded: JSON at info
// level on stdout.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}
