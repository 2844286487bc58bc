package logging

import "fmt"

// Config defines journal storage and rotation.
type Config struct {
	// Backend selects the store: "none", "jsonl" or "sqlite".
	Backend string `json:"backend"`
	// Path is the file location of the journal.
	Path string `json:"path"`
	// MaxSizeMB enables rotation of the jsonl backend when positive.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "none"
	}
	if c.Path == "" && c.Backend != "none" {
		c.Path = "charger-journal.log"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "none":
		return nil
	case "jsonl", "sqlite":
	default:
		return fmt.Errorf("unknown journal backend %s", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("journal path is required")
	}
	return nil
}

// Open builds the Journal described by c.
func Open(c Config) (Journal, error) {
	switch c.Backend {
	case "", "none":
		return NopJournal{}, nil
	case "sqlite":
		return NewSQLiteStore(c.Path)
	case "jsonl":
		if c.MaxSizeMB > 0 {
			return NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
		}
		return NewJSONLStore(c.Path)
	default:
		return nil, fmt.Errorf("unknown journal backend %s", c.Backend)
	}
}
