package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// connState is the lifecycle state of the Conn.
type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateOpen
	stateClosing
	stateFailed
)

// subscription is one local listener scoped to a (channel, context) pair.
type subscription struct {
	id        string
	channel   Channel
	contextID string
	callback  Callback
	cbKey     uintptr // callback identity for deduplication
}

// pairKey identifies a distinct (channel, context) pair announced to the
// server. Many subscriptions may share one pair; the server sees it once.
type pairKey struct {
	channel   Channel
	contextID string
}

// Conn multiplexes many logical subscribers onto a single WebSocket to the
// unified realtime endpoint. Construct exactly one per process and share it;
// the constructor enforces no hidden global state, the composition root
// enforces the singleton.
type Conn struct {
	cfg    Config
	tokens TokenProvider
	logger *slog.Logger

	mu    sync.Mutex
	state connState
	sock  *socket
	gen   uint64 // socket generation, bumped on every connect attempt

	sessionID string
	userID    string
	lastError string

	reconnectAttempts int
	permanentlyFailed bool
	reconnectTimer    *time.Timer
	heartbeatStop     chan struct{}

	connectCtx context.Context // base ctx for timer-driven reconnects

	subs      []*subscription
	announced map[pairKey]struct{}

	queue    []Message
	flushing bool

	listeners      map[int]StatusListener
	listenerOrder  []int
	nextListenerID int
}

// NewConn creates a connection multiplexer. tokens may be nil for anonymous
// sessions.
func NewConn(cfg Config, tokens TokenProvider, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Conn{
		cfg:       cfg,
		tokens:    tokens,
		logger:    logger,
		announced: make(map[pairKey]struct{}),
		listeners: make(map[int]StatusListener),
	}
}

// Connect starts a session for userID. A no-op while already connecting or
// open. Clears a prior permanent failure: an explicit call is manual
// recovery intent and overrides the backoff ceiling.
func (c *Conn) Connect(ctx context.Context, userID string) {
	c.mu.Lock()
	if c.state == stateConnecting || c.state == stateOpen {
		c.logger.Debug("connect ignored, already active", "state", c.state)
		c.mu.Unlock()
		return
	}

	if c.permanentlyFailed {
		c.permanentlyFailed = false
		c.reconnectAttempts = 0
		c.logger.Info("manual connect after permanent failure, resetting")
	}

	c.cancelReconnectLocked()

	// A superseded socket's close event may still be in flight; once gen is
	// bumped its handler sees a stale generation and skips teardown. Stop the
	// old heartbeat and drop the old socket here so nothing from the prior
	// generation outlives it.
	c.stopHeartbeatLocked()
	if c.sock != nil {
		stale := c.sock
		c.sock = nil
		defer stale.close()
	}

	c.state = stateConnecting
	c.userID = userID
	c.sessionID = uuid.NewString()
	c.connectCtx = ctx
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.broadcast()
	go c.dial(ctx, gen)
}

// Disconnect closes the session. No reconnection is scheduled; the
// subscription registry survives for the next Connect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.cancelReconnectLocked()
	c.reconnectAttempts = 0

	switch c.state {
	case stateOpen:
		c.state = stateClosing
		sock := c.sock
		c.mu.Unlock()
		sock.close()
		// eventLoop observes the close and finishes the transition.
		return
	case stateConnecting:
		// Dial still in flight; bump the generation so its result is dropped.
		c.gen++
		c.state = stateIdle
		if c.sock != nil {
			sock := c.sock
			c.sock = nil
			c.mu.Unlock()
			sock.close()
			c.broadcast()
			return
		}
	}
	c.mu.Unlock()

	c.broadcast()
}

// Reconnect tears down the current session and starts a fresh one with the
// last known user. Manual recovery after a permanent failure.
func (c *Conn) Reconnect(ctx context.Context) {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	c.Disconnect()
	c.Connect(ctx, userID)
}

// Cleanup disconnects and drops all subscriptions, queued messages and
// status listeners. Process teardown only.
func (c *Conn) Cleanup() {
	c.Disconnect()

	c.mu.Lock()
	c.subs = nil
	c.queue = nil
	c.announced = make(map[pairKey]struct{})
	c.listeners = make(map[int]StatusListener)
	c.listenerOrder = nil
	c.mu.Unlock()
}

// dial loads a token, opens the socket and hands off to the open path.
// Runs off the caller's goroutine: Connect never blocks.
func (c *Conn) dial(ctx context.Context, gen uint64) {
	var token string
	if c.tokens != nil {
		t, err := c.tokens.AccessToken(ctx)
		if err != nil {
			// Proceed anonymously; the server accepts unauthenticated sessions.
			c.mu.Lock()
			c.lastError = "token load failed: " + err.Error()
			c.mu.Unlock()
			c.logger.Warn("token load failed, connecting anonymously", "error", err)
		} else {
			token = t
		}
	}

	c.mu.Lock()
	wsURL, err := sessionURL(c.cfg, c.sessionID, token)
	c.mu.Unlock()
	if err != nil {
		c.handleDialFailure(gen, err)
		return
	}

	sock := newSocket(socketConfig{
		URL:              wsURL,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		WriteTimeout:     c.cfg.WriteTimeout,
		BufferSize:       c.cfg.BufferSize,
	}, c.logger)

	if err := sock.dial(ctx); err != nil {
		c.handleDialFailure(gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.state != stateConnecting {
		// Superseded by a Disconnect or a newer Connect while dialing.
		c.mu.Unlock()
		sock.close()
		return
	}
	c.sock = sock
	c.mu.Unlock()

	go c.eventLoop(sock, gen)
	c.handleOpen(gen, token)
}

// handleDialFailure treats a failed dial like an abnormal close: record the
// error and schedule a retry, unless the attempt is stale.
func (c *Conn) handleDialFailure(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.lastError = err.Error()
	c.logger.Warn("connect failed", "error", err, "attempts", c.reconnectAttempts)
	c.finishCloseLocked(false)
}

// handleOpen runs the open transition: authenticate, re-announce, heartbeat,
// flush, broadcast.
func (c *Conn) handleOpen(gen uint64, token string) {
	c.mu.Lock()
	if gen != c.gen || c.state != stateConnecting {
		c.mu.Unlock()
		return
	}

	c.state = stateOpen
	c.reconnectAttempts = 0
	c.lastError = ""
	c.announced = make(map[pairKey]struct{})

	c.logger.Info("connected", "session", c.sessionID, "user", c.userID)

	c.transmitLocked(c.stamp(Message{
		Channel: ChannelSystem,
		Type:    TypeAuthenticate,
		Payload: map[string]any{"token": token, "userId": c.userID},
	}))

	// Re-announce every distinct pair in the registry, in registration order.
	for _, sub := range c.subs {
		pk := pairKey{sub.channel, sub.contextID}
		if _, ok := c.announced[pk]; ok {
			continue
		}
		c.announced[pk] = struct{}{}
		c.transmitLocked(c.announcement(TypeSubscribe, pk))
	}

	stop := make(chan struct{})
	c.heartbeatStop = stop
	go c.heartbeatLoop(c.sock, stop)

	c.flushing = true
	c.mu.Unlock()

	c.flush(gen)
	c.broadcast()
}

// eventLoop consumes one socket generation until it closes, locally or not.
func (c *Conn) eventLoop(sock *socket, gen uint64) {
	for {
		select {
		case data := <-sock.messages:
			c.dispatch(data)

		case err := <-sock.errs:
			c.handleClose(gen, err)
			return

		case <-sock.closing():
			c.handleClose(gen, nil)
			return
		}
	}
}

// handleClose runs the close transition for a socket generation.
func (c *Conn) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	if err != nil {
		c.lastError = err.Error()
		c.logger.Warn("connection lost", "error", err)
	}

	local := c.state == stateClosing
	c.finishCloseLocked(local)
}

// finishCloseLocked tears down the live socket state and either resets (local
// close) or schedules a reconnect. Releases the lock and broadcasts.
func (c *Conn) finishCloseLocked(local bool) {
	c.stopHeartbeatLocked()
	c.announced = make(map[pairKey]struct{})
	if c.sock != nil {
		c.sock.close()
		c.sock = nil
	}

	if local {
		c.state = stateIdle
		c.reconnectAttempts = 0
	} else if c.reconnectAttempts >= c.cfg.MaxReconnectAttempts {
		c.state = stateFailed
		c.permanentlyFailed = true
		c.logger.Error("reconnect ceiling reached, giving up",
			"attempts", c.reconnectAttempts,
		)
	} else {
		c.state = stateIdle
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	c.broadcast()
}

// scheduleReconnectLocked arms a single backoff timer. A pending timer is
// replaced, never overlapped.
func (c *Conn) scheduleReconnectLocked() {
	c.cancelReconnectLocked()

	c.reconnectAttempts++
	n := c.reconnectAttempts

	delay := time.Duration(float64(c.cfg.ReconnectBaseDelay) *
		math.Pow(c.cfg.ReconnectGrowth, float64(n-1)))
	if delay > c.cfg.ReconnectMaxDelay {
		delay = c.cfg.ReconnectMaxDelay
	}

	ctx := c.connectCtx
	userID := c.userID
	c.logger.Info("scheduling reconnect", "attempt", n, "delay", delay)

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.Connect(ctx, userID)
	})
}

func (c *Conn) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Conn) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

// heartbeatLoop sends an application-level ping while this socket generation
// is open. stop is closed before the socket is ever superseded, so a stale
// heartbeat can never write to a newer connection.
func (c *Conn) heartbeatLoop(sock *socket, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			ping := c.stamp(Message{
				Channel: ChannelSystem,
				Type:    TypePing,
				Payload: map[string]any{},
			})
			c.mu.Unlock()
			data, err := json.Marshal(ping)
			if err != nil {
				continue
			}
			if err := sock.send(data); err != nil {
				c.logger.Debug("heartbeat send failed", "error", err)
			}
		}
	}
}

// Subscribe registers callback for messages on channel, optionally scoped to
// contextID ("" matches every context). An identical (channel, contextID,
// callback) registration returns the existing id. Never fails: before the
// first Connect it registers silently, ready for announcement on open.
func (c *Conn) Subscribe(channel Channel, callback Callback, contextID string) string {
	key := reflect.ValueOf(callback).Pointer()

	c.mu.Lock()
	for _, sub := range c.subs {
		if sub.channel == channel && sub.contextID == contextID && sub.cbKey == key {
			id := sub.id
			c.mu.Unlock()
			return id
		}
	}

	sub := &subscription{
		id:        uuid.NewString(),
		channel:   channel,
		contextID: contextID,
		callback:  callback,
		cbKey:     key,
	}
	c.subs = append(c.subs, sub)

	if c.state == stateOpen {
		pk := pairKey{channel, contextID}
		if _, ok := c.announced[pk]; !ok {
			c.announced[pk] = struct{}{}
			c.transmitLocked(c.announcement(TypeSubscribe, pk))
		}
	}
	c.mu.Unlock()

	c.logger.Debug("subscribed", "channel", channel, "context", contextID, "id", sub.id)
	return sub.id
}

// Unsubscribe removes a subscription. The server is told only when the last
// local subscriber for the (channel, context) pair goes away.
func (c *Conn) Unsubscribe(id string) {
	c.mu.Lock()
	idx := -1
	for i, sub := range c.subs {
		if sub.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return
	}

	removed := c.subs[idx]
	c.subs = append(c.subs[:idx], c.subs[idx+1:]...)

	pk := pairKey{removed.channel, removed.contextID}
	shared := false
	for _, sub := range c.subs {
		if sub.channel == pk.channel && sub.contextID == pk.contextID {
			shared = true
			break
		}
	}

	if !shared {
		if _, ok := c.announced[pk]; ok {
			delete(c.announced, pk)
			if c.state == stateOpen {
				c.transmitLocked(c.announcement(TypeUnsubscribe, pk))
			}
		}
	}
	c.mu.Unlock()

	c.logger.Debug("unsubscribed", "channel", removed.channel, "context", removed.contextID, "id", id)
}

// Send transmits a message, stamping id, timestamp and user. While
// disconnected, or on a transmission failure, the message is queued instead
// of dropped; Send itself never fails.
func (c *Conn) Send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg = c.stamp(msg)

	if c.state != stateOpen || c.sock == nil || c.flushing {
		c.queue = append(c.queue, msg)
		c.logger.Debug("queued message",
			"channel", msg.Channel, "type", msg.Type, "queued", len(c.queue),
		)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("drop unmarshalable message", "type", msg.Type, "error", err)
		return
	}
	if err := c.sock.send(data); err != nil {
		c.queue = append(c.queue, msg)
		c.logger.Warn("send failed, message queued", "error", err)
	}
}

// flush drains the queue front to back, writing with the lock released so
// senders and status readers never stall behind a slow socket. Send queues
// while c.flushing is set, so messages arriving mid-flush join the tail of
// the same pass and global order is preserved. A failed write goes back to
// the head and ends the pass; the close event that follows reschedules the
// rest.
func (c *Conn) flush(gen uint64) {
	flushed := 0
	for {
		c.mu.Lock()
		if gen != c.gen || c.state != stateOpen || c.sock == nil || len(c.queue) == 0 {
			c.flushing = false
			remaining := len(c.queue)
			c.mu.Unlock()
			if flushed > 0 || remaining > 0 {
				c.logger.Info("flushed queued messages", "count", flushed, "remaining", remaining)
			}
			return
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		sock := c.sock
		c.mu.Unlock()

		data, err := json.Marshal(msg)
		if err != nil {
			c.logger.Error("drop unmarshalable queued message", "type", msg.Type, "error", err)
			continue
		}
		if err := sock.send(data); err != nil {
			c.logger.Warn("flush send failed, re-queued", "error", err)
			c.mu.Lock()
			if gen == c.gen {
				c.queue = append([]Message{msg}, c.queue...)
			}
			c.flushing = false
			c.mu.Unlock()
			return
		}
		flushed++
	}
}

// dispatch parses an inbound frame and delivers it. System messages are
// handled internally and never reach application subscribers.
func (c *Conn) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("unparsable inbound frame", "error", err)
		return
	}

	if msg.Channel == ChannelSystem {
		c.handleSystem(msg)
		return
	}

	c.mu.Lock()
	targets := make([]Callback, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.channel != msg.Channel {
			continue
		}
		if sub.contextID != "" && sub.contextID != msg.ContextID {
			continue
		}
		targets = append(targets, sub.callback)
	}
	c.mu.Unlock()

	for _, cb := range targets {
		c.invoke(cb, msg)
	}
}

// invoke shields the dispatch loop from a panicking subscriber.
func (c *Conn) invoke(cb Callback, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber callback panicked",
				"channel", msg.Channel, "type", msg.Type, "panic", r,
			)
		}
	}()
	cb(msg)
}

// handleSystem consumes reserved-channel traffic.
func (c *Conn) handleSystem(msg Message) {
	switch msg.Type {
	case TypeWelcome:
		c.logger.Debug("server welcome")
	case TypeAuthenticated:
		c.logger.Debug("authentication acknowledged")
	case TypePong:
		c.logger.Debug("heartbeat pong")
	case TypeSubscribed, TypeUnsubscribed:
		c.logger.Debug("announcement acknowledged", "type", msg.Type)
	case TypeError:
		text := "server error"
		if p, ok := msg.Payload.(map[string]any); ok {
			if m, ok := p["message"].(string); ok && m != "" {
				text = m
			}
		}
		c.mu.Lock()
		c.lastError = text
		c.mu.Unlock()
		c.logger.Warn("server error", "message", text)
	default:
		c.logger.Debug("unhandled system message", "type", msg.Type)
	}
}

// Status returns the current snapshot.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Conn) statusLocked() Status {
	return Status{
		Connected:          c.state == stateOpen,
		Connecting:         c.state == stateConnecting,
		SessionID:          c.sessionID,
		SubscriptionCount:  len(c.subs),
		QueuedMessageCount: len(c.queue),
		ReconnectAttempts:  c.reconnectAttempts,
		PermanentlyFailed:  c.permanentlyFailed,
		LastError:          c.lastError,
	}
}

// OnStatusChange registers a listener, immediately invoking it with the
// current snapshot so late subscribers never miss state. Returns a cancel
// func that removes the listener.
func (c *Conn) OnStatusChange(listener StatusListener) func() {
	c.mu.Lock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = listener
	c.listenerOrder = append(c.listenerOrder, id)
	snap := c.statusLocked()
	c.mu.Unlock()

	listener(snap)

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		for i, lid := range c.listenerOrder {
			if lid == id {
				c.listenerOrder = append(c.listenerOrder[:i], c.listenerOrder[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
}

// broadcast invokes every status listener with a fresh snapshot,
// synchronously, outside the state lock.
func (c *Conn) broadcast() {
	c.mu.Lock()
	snap := c.statusLocked()
	targets := make([]StatusListener, 0, len(c.listenerOrder))
	for _, id := range c.listenerOrder {
		if l, ok := c.listeners[id]; ok {
			targets = append(targets, l)
		}
	}
	c.mu.Unlock()

	for _, l := range targets {
		l(snap)
	}
}

// announcement builds a subscribe/unsubscribe system message for a pair.
func (c *Conn) announcement(msgType string, pk pairKey) Message {
	payload := map[string]any{"channel": string(pk.channel)}
	if pk.contextID != "" {
		payload["contextId"] = pk.contextID
	}
	return c.stamp(Message{
		Channel: ChannelSystem,
		Type:    msgType,
		Payload: payload,
	})
}

// transmitLocked writes a message straight to the live socket. Announcements
// and authentication are per-socket; they are never queued, a reopen rebuilds
// them from the registry instead.
func (c *Conn) transmitLocked(msg Message) {
	if c.sock == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshal system message", "type", msg.Type, "error", err)
		return
	}
	if err := c.sock.send(data); err != nil {
		c.logger.Warn("system message send failed", "type", msg.Type, "error", err)
	}
}

// stamp fills in the generated message fields.
func (c *Conn) stamp(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if msg.UserID == "" {
		msg.UserID = c.userID
	}
	return msg
}
