package archive

import "time"

// Config holds recorder and batch writer settings.
type Config struct {
	// Channels to record; empty means every feature channel.
	Channels []string

	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns production-ready writer settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics tracks writer throughput.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
