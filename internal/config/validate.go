package config

import (
	"errors"
	"fmt"

	"github.com/rickgao/backsim/internal/epoch"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServerConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if len(c.Replay.Tables) == 0 {
		return errors.New("replay.tables must list at least one table")
	}
	seen := make(map[string]bool, len(c.Replay.Tables))
	for _, t := range c.Replay.Tables {
		if t.Name == "" {
			return errors.New("replay.tables[].name is required")
		}
		if seen[t.Name] {
			return fmt.Errorf("replay table %q declared twice", t.Name)
		}
		seen[t.Name] = true

		if t.Kind != TableKindTicks && t.Kind != TableKindBars {
			return fmt.Errorf("replay table %q: kind must be %q or %q", t.Name, TableKindTicks, TableKindBars)
		}
		unit, err := epoch.ParseUnit(t.EpochUnit)
		if err != nil {
			return fmt.Errorf("replay table %q: %w", t.Name, err)
		}
		if _, err := epoch.New(unit, t.Timezone); err != nil {
			return fmt.Errorf("replay table %q: %w", t.Name, err)
		}
	}
	if !seen[c.Replay.DefaultTable] {
		return fmt.Errorf("replay.default_table %q is not a declared table", c.Replay.DefaultTable)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug/info/warn/error", c.Log.Level)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
