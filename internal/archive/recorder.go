package archive

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/planweave/realtime-go/internal/connection"
	"github.com/planweave/realtime-go/internal/model"
	"github.com/planweave/realtime-go/internal/queue"
)

// subscriber is the slice of the connection surface the recorder needs.
// Satisfied by *connection.Conn.
type subscriber interface {
	Subscribe(channel connection.Channel, cb connection.Callback, contextID string) string
	Unsubscribe(id string)
}

// Recorder subscribes to feature channels and feeds inbound messages into the
// writer buffer.
type Recorder struct {
	cfg    Config
	conn   subscriber
	buffer *queue.Buffer[model.Record]
	logger *slog.Logger

	subIDs []string
}

// NewRecorder creates a recorder feeding the given buffer.
func NewRecorder(cfg Config, conn subscriber, buffer *queue.Buffer[model.Record], logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		conn:   conn,
		buffer: buffer,
		logger: logger,
	}
}

// Start registers one unscoped subscription per recorded channel.
func (r *Recorder) Start() {
	channels := r.cfg.Channels
	if len(channels) == 0 {
		channels = []string{
			string(connection.ChannelConversation),
			string(connection.ChannelAgent),
			string(connection.ChannelDocument),
			string(connection.ChannelPrefetch),
		}
	}

	for _, ch := range channels {
		id := r.conn.Subscribe(connection.Channel(ch), r.record, "")
		r.subIDs = append(r.subIDs, id)
	}

	r.logger.Info("recorder started", "channels", channels)
}

// Stop removes the recorder's subscriptions. Buffered records stay queued for
// the writer to drain.
func (r *Recorder) Stop() {
	for _, id := range r.subIDs {
		r.conn.Unsubscribe(id)
	}
	r.subIDs = nil
	r.logger.Info("recorder stopped")
}

// record flattens one inbound message and pushes it to the writer buffer.
func (r *Recorder) record(msg connection.Message) {
	row, err := transform(msg)
	if err != nil {
		r.logger.Warn("dropping unrecordable message",
			"id", msg.ID, "channel", msg.Channel, "error", err,
		)
		return
	}
	if !r.buffer.Push(row) {
		r.logger.Warn("archive buffer closed, dropping message", "id", msg.ID)
	}
}

// transform converts a wire message to an archive row.
func transform(msg connection.Message) (model.Record, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return model.Record{}, err
	}

	var sentAt int64
	if msg.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			sentAt = ts.UnixMicro()
		}
	}

	return model.Record{
		ID:         msg.ID,
		Channel:    string(msg.Channel),
		Type:       msg.Type,
		ContextID:  msg.ContextID,
		AgentID:    msg.AgentID,
		UserID:     msg.UserID,
		SentAt:     sentAt,
		ReceivedAt: time.Now().UnixMicro(),
		Payload:    payload,
	}, nil
}
