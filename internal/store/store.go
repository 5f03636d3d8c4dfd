// ABOUTME: Store interface and data types for overseer-gateway persistence
// ABOUTME: The store is a best-effort mirror of the ledger, plus template and agent records

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/overseer-gateway/internal/ledger"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Template is a canned response with {{var}} placeholders.
type Template struct {
	ID         string
	Name       string
	Content    string
	Category   string
	Variables  []string
	UsageCount int
	LastUsed   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AgentParameters are the tunable generation settings of an AI agent.
type AgentParameters struct {
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	ResponseStyle string  `json:"response_style"`
}

// AgentCapability is an individually toggleable agent skill.
type AgentCapability struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// EscalationThresholds define when a conversation should be flagged for a
// human. Zero values mean "not configured".
type EscalationThresholds struct {
	SentimentBelow   float64 `json:"sentiment_below"`
	WaitSecondsAbove int     `json:"wait_seconds_above"`
}

// Agent is an automated conversational agent's configuration record.
type Agent struct {
	ID           string
	Name         string
	Status       string
	Parameters   AgentParameters
	Capabilities []AgentCapability
	Escalation   EscalationThresholds
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store defines the persistence contract the core depends on. The ledger is
// the source of truth for live conversations; the store just mirrors them
// and owns templates and agent configuration.
type Store interface {
	// Conversations
	LoadConversation(ctx context.Context, id string) (*ledger.Conversation, error)
	LoadAllConversations(ctx context.Context) ([]*ledger.Conversation, error)
	SaveConversation(ctx context.Context, conv *ledger.Conversation) error

	// Templates
	GetTemplate(ctx context.Context, id string) (*Template, error)
	ListTemplates(ctx context.Context, category string) ([]*Template, error)
	SaveTemplate(ctx context.Context, tpl *Template) error
	IncrementTemplateUsage(ctx context.Context, id string) error

	// Agents
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	SaveAgent(ctx context.Context, agent *Agent) error

	// Close releases any resources held by the store
	Close() error
}
