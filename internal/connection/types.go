package connection

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// Channel is a named logical stream multiplexed over the single socket.
type Channel string

const (
	ChannelConversation Channel = "conversation"
	ChannelAgent        Channel = "agent"
	ChannelDocument     Channel = "document"
	ChannelSystem       Channel = "system"
	ChannelPrefetch     Channel = "prefetch"
)

// System message types sent by the client.
const (
	TypeAuthenticate = "authenticate"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypePing         = "ping"
)

// System message types received from the server. None of these are forwarded
// to application subscribers.
const (
	TypeWelcome       = "connection_established"
	TypeAuthenticated = "authenticated"
	TypeSubscribed    = "subscribed"
	TypeUnsubscribed  = "unsubscribed"
	TypePong          = "pong"
	TypeError         = "error"
)

// Message is the wire shape in both directions.
type Message struct {
	ID        string  `json:"id"`
	Channel   Channel `json:"channel"`
	Type      string  `json:"type"`
	Payload   any     `json:"payload"`
	ContextID string  `json:"contextId,omitempty"`
	AgentID   string  `json:"agentId,omitempty"`
	UserID    string  `json:"userId,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// Callback receives messages dispatched to a subscription.
type Callback func(Message)

// Status is a point-in-time snapshot of the connection.
type Status struct {
	Connected          bool
	Connecting         bool
	SessionID          string
	SubscriptionCount  int
	QueuedMessageCount int
	ReconnectAttempts  int
	PermanentlyFailed  bool
	LastError          string
}

// StatusListener observes connection state changes.
type StatusListener func(Status)

// TokenProvider supplies the current access token for authentication.
// A nil provider means anonymous connections.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config configures a Conn.
type Config struct {
	DirectURL string // direct development host, preferred when set
	APIURL    string // configured API host
	OriginURL string // same-origin fallback

	HandshakeTimeout     time.Duration // WebSocket dial timeout
	WriteTimeout         time.Duration // write deadline for sends
	PingInterval         time.Duration // application-level heartbeat period
	ReconnectBaseDelay   time.Duration // backoff floor
	ReconnectMaxDelay    time.Duration // backoff cap
	ReconnectGrowth      float64       // backoff growth factor
	MaxReconnectAttempts int           // ceiling before permanent failure
	BufferSize           int           // inbound message channel buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		PingInterval:         30 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectGrowth:      2.0,
		MaxReconnectAttempts: 10,
		BufferSize:           1000,
	}
}

// applyDefaults fills zero-valued fields from DefaultConfig.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = def.PingInterval
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.ReconnectGrowth == 0 {
		c.ReconnectGrowth = def.ReconnectGrowth
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.BufferSize == 0 {
		c.BufferSize = def.BufferSize
	}
}
