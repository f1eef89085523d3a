package cli

import (
	"io"
	"log/slog"

	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/internal/logging"
)

// NewLogger configures the application logger from the log section.
// Records go to w so the transcript on stdout stays clean.
func NewLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewWithFormat(w, level, cfg.Format), nil
}
