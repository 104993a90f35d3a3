package connection

import "github.com/planweave/realtime-go/internal/model"

// Convenience senders: thin projections of feature payloads into Send. Each
// inherits Send's semantics (queue while disconnected, never fails locally).

// SendConversationMessage sends a user chat message scoped to a conversation.
func (c *Conn) SendConversationMessage(contextID, content string) {
	c.Send(Message{
		Channel:   ChannelConversation,
		Type:      "user_message",
		ContextID: contextID,
		Payload:   model.ConversationMessage{Content: content, Sender: "user"},
	})
}

// PauseAgent asks the server to pause a running agent.
func (c *Conn) PauseAgent(contextID, agentID string) {
	c.sendAgentControl("agent_pause", contextID, agentID)
}

// ResumeAgent resumes a paused agent.
func (c *Conn) ResumeAgent(contextID, agentID string) {
	c.sendAgentControl("agent_resume", contextID, agentID)
}

// StopAgent stops an agent entirely.
func (c *Conn) StopAgent(contextID, agentID string) {
	c.sendAgentControl("agent_stop", contextID, agentID)
}

func (c *Conn) sendAgentControl(msgType, contextID, agentID string) {
	c.Send(Message{
		Channel:   ChannelAgent,
		Type:      msgType,
		ContextID: contextID,
		AgentID:   agentID,
		Payload:   map[string]any{},
	})
}

// SendDocumentEdit broadcasts a document edit to collaborators in the context.
func (c *Conn) SendDocumentEdit(contextID string, edit model.DocumentEdit) {
	c.Send(Message{
		Channel:   ChannelDocument,
		Type:      "document_edit",
		ContextID: contextID,
		Payload:   edit,
	})
}

// RequestPrefetch asks the server to analyze an interaction for prefetching.
func (c *Conn) RequestPrefetch(contextID string, req model.PrefetchRequest) {
	c.Send(Message{
		Channel:   ChannelPrefetch,
		Type:      "analyze_for_prefetch",
		ContextID: contextID,
		Payload:   req,
	})
}
