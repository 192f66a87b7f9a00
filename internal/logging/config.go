package logging

import (
	"log/slog"

	"shuttle/internal/config"
)

// NewFromConfig builds the daemon logger from the [logging] config section,
// writing to stderr and the daemon log file.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	return New(Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr", cfg.LogPath()},
	})
}
