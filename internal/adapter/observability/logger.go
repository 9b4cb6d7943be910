package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fairyhunter13/subfleet/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
// When LOG_DIR is set, log lines are additionally written to a dated file
// under that directory so terminal output survives the session.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev or with DEBUG_MODE, show debug level; in prod, default to info
	if cfg.IsDev() || cfg.DebugMode {
		opts.Level = slog.LevelDebug
	}
	var w io.Writer = os.Stdout
	if cfg.LogDir != "" {
		if f, err := openLogFile(cfg.LogDir); err != nil {
			slog.Warn("log dir unavailable, logging to stdout only", slog.Any("error", err))
		} else {
			w = io.MultiWriter(os.Stdout, f)
		}
	}
	h := slog.NewJSONHandler(w, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("op=observability.openLogFile: %w", err)
	}
	name := filepath.Join(dir, time.Now().Format("2006-01-02")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("op=observability.openLogFile: %w", err)
	}
	return f, nil
}
