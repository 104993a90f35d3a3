package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultReconnectGrowth      = 2.0
	DefaultMaxReconnectAttempts = 10
	DefaultInboundBufferSize    = 1000
	DefaultSessionTimeout       = 10 * time.Second
	DefaultSessionMaxRetries    = 3
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultArchiveBufferSize    = 10000
	DefaultHealthPort           = 8089
)

func (c *RecorderConfig) applyDefaults() {
	// Realtime defaults
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Realtime.PingInterval == 0 {
		c.Realtime.PingInterval = DefaultPingInterval
	}
	if c.Realtime.ReconnectBaseDelay == 0 {
		c.Realtime.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Realtime.ReconnectMaxDelay == 0 {
		c.Realtime.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Realtime.ReconnectGrowth == 0 {
		c.Realtime.ReconnectGrowth = DefaultReconnectGrowth
	}
	if c.Realtime.MaxReconnectAttempts == 0 {
		c.Realtime.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Realtime.BufferSize == 0 {
		c.Realtime.BufferSize = DefaultInboundBufferSize
	}

	// Session defaults
	if c.Session.Timeout == 0 {
		c.Session.Timeout = DefaultSessionTimeout
	}
	if c.Session.MaxRetries == 0 {
		c.Session.MaxRetries = DefaultSessionMaxRetries
	}

	// Database defaults
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

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultArchiveBufferSize
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}
