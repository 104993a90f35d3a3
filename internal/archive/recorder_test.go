package archive

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/planweave/realtime-go/internal/connection"
	"github.com/planweave/realtime-go/internal/model"
	"github.com/planweave/realtime-go/internal/queue"
)

// fakeConn records subscribe/unsubscribe calls and lets a test inject messages.
type fakeConn struct {
	subs      map[string]connection.Callback
	channels  []string
	unsubbed  []string
	nextSubID int
}

func newFakeConn() *fakeConn {
	return &fakeConn{subs: make(map[string]connection.Callback)}
}

func (f *fakeConn) Subscribe(channel connection.Channel, cb connection.Callback, contextID string) string {
	f.nextSubID++
	id := string(rune('a' + f.nextSubID - 1))
	f.subs[id] = cb
	f.channels = append(f.channels, string(channel))
	return id
}

func (f *fakeConn) Unsubscribe(id string) {
	f.unsubbed = append(f.unsubbed, id)
	delete(f.subs, id)
}

func (f *fakeConn) inject(msg connection.Message) {
	for _, cb := range f.subs {
		cb(msg)
	}
}

func TestRecorderSubscribesAllFeatureChannels(t *testing.T) {
	conn := newFakeConn()
	buffer := queue.NewBuffer[model.Record](10)
	r := NewRecorder(Config{}, conn, buffer, nil)

	r.Start()
	want := []string{"conversation", "agent", "document", "prefetch"}
	if len(conn.channels) != len(want) {
		t.Fatalf("subscribed channels = %v, want %v", conn.channels, want)
	}
	for i, ch := range want {
		if conn.channels[i] != ch {
			t.Errorf("channel[%d] = %s, want %s", i, conn.channels[i], ch)
		}
	}

	r.Stop()
	if len(conn.unsubbed) != len(want) {
		t.Errorf("unsubscribed %d of %d", len(conn.unsubbed), len(want))
	}
}

func TestRecorderHonorsChannelFilter(t *testing.T) {
	conn := newFakeConn()
	buffer := queue.NewBuffer[model.Record](10)
	r := NewRecorder(Config{Channels: []string{"conversation"}}, conn, buffer, nil)

	r.Start()
	defer r.Stop()

	if len(conn.channels) != 1 || conn.channels[0] != "conversation" {
		t.Errorf("subscribed channels = %v, want [conversation]", conn.channels)
	}
}

func TestRecorderBuffersInboundMessages(t *testing.T) {
	conn := newFakeConn()
	buffer := queue.NewBuffer[model.Record](10)
	r := NewRecorder(Config{Channels: []string{"conversation"}}, conn, buffer, nil)
	r.Start()
	defer r.Stop()

	conn.inject(connection.Message{
		ID:        "msg-1",
		Channel:   connection.ChannelConversation,
		Type:      "ai_message",
		ContextID: "ctx-1",
		UserID:    "user-1",
		Payload:   map[string]any{"content": "hi"},
		Timestamp: "2026-08-29T12:00:00Z",
	})

	row, ok := buffer.TryPop()
	if !ok {
		t.Fatal("no record buffered")
	}
	if row.ID != "msg-1" || row.Channel != "conversation" || row.Type != "ai_message" {
		t.Errorf("row identity = %s/%s/%s", row.ID, row.Channel, row.Type)
	}
	if row.ContextID != "ctx-1" || row.UserID != "user-1" {
		t.Errorf("row scope = %s/%s", row.ContextID, row.UserID)
	}
}

func TestTransform(t *testing.T) {
	sent := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	msg := connection.Message{
		ID:        "msg-9",
		Channel:   connection.ChannelDocument,
		Type:      "document_edit",
		ContextID: "ctx-2",
		AgentID:   "agent-1",
		UserID:    "user-2",
		Payload:   map[string]any{"documentId": "doc-1", "operation": "insert"},
		Timestamp: sent.Format(time.RFC3339Nano),
	}

	before := time.Now().UnixMicro()
	row, err := transform(msg)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	if row.SentAt != sent.UnixMicro() {
		t.Errorf("SentAt = %d, want %d", row.SentAt, sent.UnixMicro())
	}
	if row.ReceivedAt < before {
		t.Errorf("ReceivedAt = %d, before call start %d", row.ReceivedAt, before)
	}
	if row.AgentID != "agent-1" {
		t.Errorf("AgentID = %s", row.AgentID)
	}

	var payload map[string]any
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload["documentId"] != "doc-1" {
		t.Errorf("payload = %v", payload)
	}
}

func TestTransformUnparsableTimestamp(t *testing.T) {
	row, err := transform(connection.Message{
		ID:        "msg-2",
		Channel:   connection.ChannelAgent,
		Type:      "agent_update",
		Payload:   map[string]any{},
		Timestamp: "not-a-timestamp",
	})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if row.SentAt != 0 {
		t.Errorf("SentAt = %d, want 0 for unparsable timestamp", row.SentAt)
	}
}
