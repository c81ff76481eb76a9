package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths are the on-disk locations the relay uses, all under one base
// directory: $ANONRELAY_HOME, or ~/.anonrelay.
type Paths struct {
	Base   string
	Config string
	Logs   string
	Data   string
}

// PathsAt lays out the standard files beneath base.
func PathsAt(base string) Paths {
	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Logs:   filepath.Join(base, "logs"),
		Data:   filepath.Join(base, "data"),
	}
}

// ResolvePaths picks the base directory from the environment.
func ResolvePaths() (Paths, error) {
	if base := os.Getenv("ANONRELAY_HOME"); base != "" {
		return PathsAt(base), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("locating home directory: %w", err)
	}
	return PathsAt(filepath.Join(home, ".anonrelay")), nil
}

// DatabasePath is the configured store file, or data/anonrelay.db.
func (p Paths) DatabasePath(cfg StoreConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(p.Data, "anonrelay.db")
}

// EnsureDirs creates the base, logs and data directories owner-only.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Base, p.Logs, p.Data} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
