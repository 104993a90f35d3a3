package config

import "time"

// RecorderConfig is the root configuration for a recorder instance.
type RecorderConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Session  SessionConfig  `yaml:"session"`
	Database DatabaseConfig `yaml:"database"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this recorder.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// RealtimeConfig holds the realtime connection settings.
type RealtimeConfig struct {
	DirectURL string `yaml:"direct_url"` // Development override, wins if set
	APIURL    string `yaml:"api_url"`
	OriginURL string `yaml:"origin_url"`
	UserID    string `yaml:"user_id"`

	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectGrowth      float64       `yaml:"reconnect_growth"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	BufferSize           int           `yaml:"buffer_size"`
}

// SessionConfig selects a token source. Exactly one of token_url, token_file,
// or token should be set; token_url wins, then token_file, then token.
type SessionConfig struct {
	Token        string        `yaml:"token"`
	TokenFile    string        `yaml:"token_file"`
	TokenURL     string        `yaml:"token_url"`
	RefreshToken string        `yaml:"refresh_token"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// DatabaseConfig holds the Postgres connection for the message archive.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ArchiveConfig holds batch writer settings for the message archive.
type ArchiveConfig struct {
	Channels      []string      `yaml:"channels"` // empty means all feature channels
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// HealthConfig holds the local health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
