package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/LLL3993/Music-Microservices/internal/config"
)

var (
	logFileMu sync.Mutex
	logFile   *os.File
)

// ParseLevel maps LOG_LEVEL values to slog levels, defaulting to INFO
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger builds the process logger. Output goes to stdout and, when LOG_FILE is set, to that file too
func SetupLogger(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			slog.Warn("Could not open log file, logging to stdout only", "path", cfg.LogFile, "error", err)
		} else {
			logFileMu.Lock()
			logFile = f
			logFileMu.Unlock()
			out = io.MultiWriter(os.Stdout, f)
		}
	}

	return NewLogger(out, cfg.LogLevel, cfg.LogFormat).With("service", cfg.ServiceName)
}

// NewLogger creates a text or JSON slog logger writing to w
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.ToUpper(format) == "JSON" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// CloseLogger flushes and closes the log file opened by SetupLogger, if any
func CloseLogger() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		logFile.Sync()
		logFile.Close()
		logFile = nil
	}
}
