package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 8070
	DefaultWSPath       = "/ws"
	DefaultWriteTimeout = 5 * time.Second
	DefaultSendBuffer   = 1024
	DefaultDBPort       = 5432
	DefaultDBSSLMode    = "prefer"
	DefaultMaxConns     = 10
	DefaultMinConns     = 2
	DefaultTsColumn     = "ts"
	DefaultEpochUnit    = "ms"
	DefaultTableKind    = TableKindTicks
	DefaultMetricsPort  = 9090
	DefaultMetricsPath  = "/metrics"
	DefaultLogLevel     = "info"
)

func (c *ServerConfig) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultWSPath
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}

	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	for i := range c.Replay.Tables {
		t := &c.Replay.Tables[i]
		if t.TsColumn == "" {
			t.TsColumn = DefaultTsColumn
		}
		if t.EpochUnit == "" {
			t.EpochUnit = DefaultEpochUnit
		}
		if t.Kind == "" {
			t.Kind = DefaultTableKind
		}
	}
	if c.Replay.DefaultTable == "" && len(c.Replay.Tables) > 0 {
		c.Replay.DefaultTable = c.Replay.Tables[0].Name
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
