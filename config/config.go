// Package config loads and persists the widget's settings file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultRetention is how long entries stay in the folder before the
	// sweeper acts on them.
	DefaultRetention = 7 * 24 * time.Hour

	// DefaultSweepInterval is how often the retention sweeper runs.
	DefaultSweepInterval = 1 * time.Hour

	// MinRetention and MaxRetention bound the configurable retention window.
	MinRetention = 1 * time.Minute
	MaxRetention = 31 * 24 * time.Hour

	// DefaultFolderName is the storage folder created under the user's home
	// directory when no folder is configured.
	DefaultFolderName = "TempDesk"
)

// ErrInvalid reports a config value outside its accepted range. Callers
// treat it as non-fatal: the offending value is replaced with its default.
var ErrInvalid = errors.New("invalid config value")

// Config is the runtime configuration for the lifecycle core.
type Config struct {
	// StorageFolder is the absolute path of the watched folder. Created if
	// absent.
	StorageFolder string

	// Retention is the age past which an entry is expired.
	Retention time.Duration

	// DeleteOnExpire selects what the sweeper does with expired entries:
	// true deletes them permanently, false relocates them to the "old"
	// subfolder.
	DeleteOnExpire bool

	// SweepInterval is how often the sweeper runs.
	SweepInterval time.Duration
}

// Default returns the configuration used when no file exists or the file
// cannot be parsed.
func Default() Config {
	return Config{
		StorageFolder:  defaultFolder(),
		Retention:      DefaultRetention,
		DeleteOnExpire: false,
		SweepInterval:  DefaultSweepInterval,
	}
}

func defaultFolder() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// No home directory, fall back to a folder under the cwd.
		return DefaultFolderName
	}
	return filepath.Join(home, DefaultFolderName)
}

// Validate checks the configuration, replacing out-of-range values with
// defaults. It returns ErrInvalid (wrapped) describing the first problem
// found; the receiver is always usable afterwards.
func (c *Config) Validate() error {
	var err error
	if c.StorageFolder == "" {
		c.StorageFolder = defaultFolder()
	}
	if abs, aerr := filepath.Abs(c.StorageFolder); aerr == nil {
		c.StorageFolder = abs
	}
	if c.Retention <= 0 {
		err = fmt.Errorf("%w: retention must be positive, got %s", ErrInvalid, c.Retention)
		c.Retention = DefaultRetention
	} else if c.Retention < MinRetention || c.Retention > MaxRetention {
		err = fmt.Errorf("%w: retention %s outside [%s, %s]", ErrInvalid, c.Retention, MinRetention, MaxRetention)
		c.Retention = DefaultRetention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return err
}

// fileFormat is the on-disk JSON document. Unknown keys are ignored by
// encoding/json; missing keys keep their zero value and are defaulted in
// fromFile.
type fileFormat struct {
	TempFolder     string   `json:"temp_folder"`
	AutoDeleteDays *float64 `json:"auto_delete_days"`
	AutoDelete     bool     `json:"auto_delete"`
}

func (c Config) toFile() fileFormat {
	days := c.Retention.Hours() / 24
	return fileFormat{
		TempFolder:     c.StorageFolder,
		AutoDeleteDays: &days,
		AutoDelete:     c.DeleteOnExpire,
	}
}

func fromFile(f fileFormat) Config {
	cfg := Default()
	if f.TempFolder != "" {
		cfg.StorageFolder = f.TempFolder
	}
	if f.AutoDeleteDays != nil && *f.AutoDeleteDays > 0 {
		// Fractional days allowed for sub-day retention.
		cfg.Retention = time.Duration(*f.AutoDeleteDays * 24 * float64(time.Hour))
	}
	cfg.DeleteOnExpire = f.AutoDelete
	return cfg
}

// DefaultPath returns the standard location of the settings file.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tempdesk.json"
	}
	return filepath.Join(home, ".tempdesk.json")
}

// LegacyPath returns the settings location used by earlier releases. Load
// migrates it to DefaultPath when the current file is absent.
func LegacyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tempdrop_config.json"
	}
	return filepath.Join(home, ".tempdrop_config.json")
}

// Load reads the configuration at path. A missing file, malformed JSON or
// invalid values never fail startup: the result is always a usable Config,
// with problems reported on the logger.
func Load(path string, logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := read(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Try the legacy location once, then persist at the new path.
			if legacy, lerr := read(LegacyPath()); lerr == nil {
				logger.Info("migrating legacy config", "from", LegacyPath(), "to", path)
				if serr := Save(path, legacy); serr != nil {
					logger.Warn("could not persist migrated config", "error", serr)
				}
				cfg = legacy
			} else {
				cfg = Default()
			}
		} else {
			logger.Warn("config unreadable, using defaults", "path", path, "error", err)
			cfg = Default()
		}
	}

	if verr := cfg.Validate(); verr != nil {
		logger.Warn("config value out of range, defaulted", "error", verr)
	}
	return cfg
}

func read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return fromFile(f), nil
}

// Save writes the configuration atomically using a temp file and rename, so
// a crash mid-write never leaves a corrupt settings file behind.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg.toFile(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}
