package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *RecorderConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Realtime.DirectURL == "" && c.Realtime.APIURL == "" && c.Realtime.OriginURL == "" {
		return errors.New("one of realtime.direct_url, realtime.api_url, realtime.origin_url is required")
	}
	if c.Realtime.ReconnectGrowth < 1 {
		return fmt.Errorf("realtime.reconnect_growth must be >= 1, got %g", c.Realtime.ReconnectGrowth)
	}
	if c.Realtime.ReconnectBaseDelay > c.Realtime.ReconnectMaxDelay {
		return errors.New("realtime.reconnect_base_delay cannot exceed reconnect_max_delay")
	}
	if c.Realtime.MaxReconnectAttempts < 1 {
		return errors.New("realtime.max_reconnect_attempts must be >= 1")
	}

	if c.Session.TokenURL != "" && c.Session.RefreshToken == "" {
		return errors.New("session.refresh_token is required with session.token_url")
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Archive.BatchSize < 1 {
		return errors.New("archive.batch_size must be >= 1")
	}
	if c.Archive.BufferSize < 1 {
		return errors.New("archive.buffer_size must be >= 1")
	}
	for _, ch := range c.Archive.Channels {
		switch ch {
		case "conversation", "agent", "document", "prefetch":
		default:
			return fmt.Errorf("archive.channels: unknown channel %q", ch)
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (c *RecorderConfig) validateDatabase() error {
	db := c.Database
	if db.Host == "" {
		return errors.New("database.host is required")
	}
	if db.Name == "" {
		return errors.New("database.name is required")
	}
	if db.User == "" {
		return errors.New("database.user is required")
	}
	if db.Password == "" {
		return errors.New("database.password is required")
	}
	if db.MaxConns < 1 {
		return errors.New("database.max_conns must be >= 1")
	}
	if db.MinConns < 0 {
		return errors.New("database.min_conns must be >= 0")
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("database.min_conns (%d) cannot exceed max_conns (%d)", db.MinConns, db.MaxConns)
	}
	return nil
}
