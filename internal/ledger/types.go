// ABOUTME: Conversation, Message and control-ownership types for the live ledger
// ABOUTME: Defines status enum, sender constants and deep-copy snapshots

package ledger

import (
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
)

// ValidStatus reports whether s is one of the known status values.
func ValidStatus(s Status) bool {
	switch s {
	case StatusWaiting, StatusActive, StatusEscalated, StatusResolved:
		return true
	}
	return false
}

// Sender constants for message attribution.
const (
	SenderCustomer   = "customer"
	SenderAgent      = "agent"
	SenderSupervisor = "supervisor"
	SenderSystem     = "system"
)

// AlertLevel constants.
const (
	AlertNormal = "normal"
	AlertHigh   = "high"
)

// Message is a single immutable entry in a conversation transcript.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlOwner records who is currently driving a conversation.
// AI is true exactly when no supervisor has taken over.
type ControlOwner struct {
	AI             bool   `json:"ai"`
	SupervisorID   string `json:"supervisor_id,omitempty"`
	SupervisorName string `json:"supervisor_name,omitempty"`
}

// Conversation is the authoritative in-memory state of one live conversation.
// The message log is append-only; EndTime is set exactly when status becomes
// resolved.
type Conversation struct {
	ID           string       `json:"id"`
	CustomerName string       `json:"customer_name"`
	AgentID      string       `json:"agent_id"`
	Messages     []Message    `json:"messages"`
	Status       Status       `json:"status"`
	Control      ControlOwner `json:"control"`
	AlertLevel   string       `json:"alert_level"`
	Tags         []string     `json:"tags"`

	// Sentiment is in [0.1, 1.0] when known, nil when no signal has been
	// recorded yet. Averages must skip nil, not treat it as zero.
	Sentiment *float64 `json:"sentiment,omitempty"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Clone returns a deep copy safe to hand to callers and subscribers.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	cp.Tags = make([]string, len(c.Tags))
	copy(cp.Tags, c.Tags)
	if c.Sentiment != nil {
		s := *c.Sentiment
		cp.Sentiment = &s
	}
	if c.EndTime != nil {
		t := *c.EndTime
		cp.EndTime = &t
	}
	return &cp
}
