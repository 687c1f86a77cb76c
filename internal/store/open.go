package store

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Open initializes the configured driver.
func Open(cfg Config, log zerolog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file", "json":
		return openFile(cfg, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
