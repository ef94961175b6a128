package config

import "time"

// ServerConfig is the root configuration for a backtest server instance.
type ServerConfig struct {
	Server   ListenConfig  `yaml:"server"`
	Database DBConfig      `yaml:"database"`
	Replay   ReplayConfig  `yaml:"replay"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Log      LogConfig     `yaml:"log"`
}

// ListenConfig holds the WebSocket listener settings.
type ListenConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Path         string        `yaml:"path"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SendBuffer   int           `yaml:"send_buffer"`
}

// DBConfig holds the PostgreSQL connection serving replay tables.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Table kinds: plain quote rows or OHLC bar rows.
const (
	TableKindTicks = "ticks"
	TableKindBars  = "bars"
)

// TableConfig declares one replayable table. Only declared tables can be
// enumerated or opened.
type TableConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`       // "ticks" or "bars"
	TsColumn  string `yaml:"ts_column"`  // epoch column, integer
	EpochUnit string `yaml:"epoch_unit"` // "s", "ms", "us", or "day"
	Timezone  string `yaml:"timezone"`   // IANA name, empty = UTC
}

// ReplayConfig lists the replayable tables. DefaultTable picks the table
// whose epoch representation new connections adopt at init.
type ReplayConfig struct {
	Tables       []TableConfig `yaml:"tables"`
	DefaultTable string        `yaml:"default_table"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}
