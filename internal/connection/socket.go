package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// socketConfig configures a single socket instance.
type socketConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
}

// socket owns one live WebSocket. The Conn creates a fresh socket per connect
// attempt; a socket is never reused after it closes.
type socket struct {
	cfg    socketConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan []byte
	errs     chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
}

func newSocket(cfg socketConfig, logger *slog.Logger) *socket {
	if logger == nil {
		logger = slog.Default()
	}
	return &socket{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan []byte, cfg.BufferSize),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// dial establishes the WebSocket connection and starts the read loop.
func (s *socket) dial(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	// Answer protocol-level pings so intermediaries keep the connection up.
	// The application heartbeat is a separate system message owned by Conn.
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	go s.readLoop()

	s.logger.Debug("websocket connected", "url", s.cfg.URL)

	return nil
}

// close gracefully closes the connection. Safe to call more than once.
func (s *socket) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	s.mu.Unlock()

	close(s.done)

	if s.conn != nil {
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return s.conn.Close()
	}

	return nil
}

// send writes raw bytes to the connection.
func (s *socket) send(data []byte) error {
	s.mu.RLock()
	if !s.connected {
		s.mu.RUnlock()
		return ErrNotConnected
	}
	s.mu.RUnlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// closing returns a channel closed when close() has been called locally.
func (s *socket) closing() <-chan struct{} {
	return s.done
}

// readLoop reads frames from the WebSocket and feeds the messages channel.
// On a read error it reports once on the errors channel and exits.
func (s *socket) readLoop() {
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// Errors after a local close are expected; swallow them.
			select {
			case <-s.done:
				return
			default:
				select {
				case s.errs <- err:
				default:
				}
				return
			}
		}

		// Block when the buffer is full rather than drop; the consumer
		// keeps draining until close, which unblocks via done.
		select {
		case s.messages <- data:
		case <-s.done:
			return
		}
	}
}
