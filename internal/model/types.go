package model

import "encoding/json"

// -----------------------------------------------------------------------------
// Wire Payloads
// -----------------------------------------------------------------------------

// ConversationMessage is the payload of a chat message on the conversation
// channel.
type ConversationMessage struct {
	Content string `json:"content"`          // Message text
	Sender  string `json:"sender,omitempty"` // "user" or "assistant"
}

// DocumentEdit is the payload of a collaborative edit on the document channel.
type DocumentEdit struct {
	DocumentID string `json:"documentId"`      // Target document
	Operation  string `json:"operation"`       // "insert", "replace", "delete"
	Path       string `json:"path,omitempty"`  // Location within the document
	Value      any    `json:"value,omitempty"` // New content for the location
}

// PrefetchRequest asks the server to analyze an interaction and warm caches.
type PrefetchRequest struct {
	Query string   `json:"query"`           // User interaction to analyze
	Scope []string `json:"scope,omitempty"` // Resource kinds worth prefetching
}

// -----------------------------------------------------------------------------
// Archive Types
// -----------------------------------------------------------------------------

// Record is one inbound realtime message flattened for persistence.
type Record struct {
	ID         string          // Wire message id (unique, dedup key)
	Channel    string          // Logical channel
	Type       string          // Message type within the channel
	ContextID  string          // Conversation/workspace scope, "" if unscoped
	AgentID    string          // Originating agent, "" if none
	UserID     string          // Originating user, "" if none
	SentAt     int64           // Server timestamp (µs since epoch), 0 if unparsable
	ReceivedAt int64           // Local receive timestamp (µs since epoch)
	Payload    json.RawMessage // Raw payload JSON
}
