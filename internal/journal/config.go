package journal

import (
	"fmt"

	"codeberg.org/mutker/domwatch/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/domwatch/alerts.db"
)

type Config struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	DBPath  string `mapstructure:"db_path" toml:"db_path"`
	// BatchSize is the number of entries buffered before a write.
	BatchSize int `mapstructure:"batch_size" toml:"batch_size"`
	// BatchTimeout flushes a partial batch after this many seconds; 0 waits for Close.
	BatchTimeout int `mapstructure:"batch_timeout" toml:"batch_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		DBPath:       defaultDBPath,
		BatchSize:    1,
		BatchTimeout: 5,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate the rest if the journal is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 {
		return errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("journal.batch_size must be at least 1, got %d", c.BatchSize))
	}
	if c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("journal.batch_timeout must not be negative, got %d", c.BatchTimeout))
	}
	return nil
}
