package connection

import (
	"context"
	"testing"
	"time"

	"github.com/planweave/realtime-go/internal/model"
)

func TestConvenienceSenders(t *testing.T) {
	server := newUnifiedServer(t)
	conn := NewConn(testConfig(server), nil, nil)
	defer conn.Cleanup()

	conn.Connect(context.Background(), "user-7")
	waitFor(t, time.Second, "connection open", func() bool {
		return conn.Status().Connected
	})

	conn.SendConversationMessage("ctx-1", "hello there")
	conn.PauseAgent("ctx-1", "agent-9")
	conn.ResumeAgent("ctx-1", "agent-9")
	conn.StopAgent("ctx-1", "agent-9")

	waitFor(t, time.Second, "four frames", func() bool {
		return server.frameCount() == 4
	})

	msg := server.frameAt(0)
	if msg.Channel != ChannelConversation || msg.Type != "user_message" {
		t.Errorf("conversation frame = %s/%s", msg.Channel, msg.Type)
	}
	if msg.ContextID != "ctx-1" {
		t.Errorf("ContextID = %s", msg.ContextID)
	}
	if msg.UserID != "user-7" {
		t.Errorf("UserID = %s, want the connected user stamped", msg.UserID)
	}
	p, _ := msg.Payload.(map[string]any)
	if p["content"] != "hello there" {
		t.Errorf("content = %v", p["content"])
	}
	if p["sender"] != "user" {
		t.Errorf("sender = %v", p["sender"])
	}

	wantTypes := []string{"agent_pause", "agent_resume", "agent_stop"}
	for i, want := range wantTypes {
		msg := server.frameAt(i + 1)
		if msg.Channel != ChannelAgent || msg.Type != want {
			t.Errorf("agent frame %d = %s/%s, want agent/%s", i, msg.Channel, msg.Type, want)
		}
		if msg.AgentID != "agent-9" {
			t.Errorf("agent frame %d AgentID = %s", i, msg.AgentID)
		}
	}
}

func TestSendDocumentEditAndPrefetch(t *testing.T) {
	server := newUnifiedServer(t)
	conn := NewConn(testConfig(server), nil, nil)
	defer conn.Cleanup()

	conn.Connect(context.Background(), "user-7")
	waitFor(t, time.Second, "connection open", func() bool {
		return conn.Status().Connected
	})

	conn.SendDocumentEdit("ctx-2", model.DocumentEdit{
		DocumentID: "doc-1",
		Operation:  "replace",
		Path:       "/sections/0/title",
		Value:      "New Title",
	})
	conn.RequestPrefetch("ctx-2", model.PrefetchRequest{
		Query: "quarterly revenue",
		Scope: []string{"documents"},
	})

	waitFor(t, time.Second, "two frames", func() bool {
		return server.frameCount() == 2
	})

	edit := server.frameAt(0)
	if edit.Channel != ChannelDocument || edit.Type != "document_edit" {
		t.Errorf("edit frame = %s/%s", edit.Channel, edit.Type)
	}
	p, _ := edit.Payload.(map[string]any)
	if p["documentId"] != "doc-1" || p["operation"] != "replace" {
		t.Errorf("edit payload = %v", p)
	}

	pre := server.frameAt(1)
	if pre.Channel != ChannelPrefetch || pre.Type != "analyze_for_prefetch" {
		t.Errorf("prefetch frame = %s/%s", pre.Channel, pre.Type)
	}
}
