// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers conversation round-trips, template usage counting and agent records

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/overseer-gateway/internal/ledger"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleConversation() *ledger.Conversation {
	sentiment := 0.7
	return &ledger.Conversation{
		ID:           "conv-1",
		CustomerName: "Ana",
		AgentID:      "agent-1",
		Status:       ledger.StatusActive,
		Control:      ledger.ControlOwner{AI: true},
		AlertLevel:   ledger.AlertNormal,
		Sentiment:    &sentiment,
		Tags:         []string{"billing", "vip"},
		StartTime:    time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		Messages: []ledger.Message{
			{ID: "m1", Sender: ledger.SenderCustomer, Text: "hi", Timestamp: time.Date(2026, 8, 30, 10, 0, 1, 0, time.UTC)},
			{ID: "m2", Sender: ledger.SenderAgent, Text: "hello", Timestamp: time.Date(2026, 8, 30, 10, 0, 9, 0, time.UTC)},
		},
	}
}

func TestConversationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveConversation(ctx, sampleConversation()))

	got, err := s.LoadConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.CustomerName)
	assert.Equal(t, ledger.StatusActive, got.Status)
	assert.True(t, got.Control.AI)
	require.NotNil(t, got.Sentiment)
	assert.InDelta(t, 0.7, *got.Sentiment, 0.001)
	assert.Equal(t, []string{"billing", "vip"}, got.Tags)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "m1", got.Messages[0].ID)
	assert.Equal(t, "hello", got.Messages[1].Text)
	assert.Nil(t, got.EndTime)
}

func TestSaveConversationUpsertsAndAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	conv := sampleConversation()
	require.NoError(t, s.SaveConversation(ctx, conv))

	// Take over, append, resolve; save the new snapshot.
	conv.Control = ledger.ControlOwner{AI: false, SupervisorID: "sup-1", SupervisorName: "Maria"}
	conv.Messages = append(conv.Messages, ledger.Message{
		ID: "m3", Sender: ledger.SenderSystem, Text: "Maria has taken over this conversation",
		Timestamp: time.Date(2026, 8, 30, 10, 1, 0, 0, time.UTC),
	})
	conv.Status = ledger.StatusResolved
	end := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	conv.EndTime = &end
	require.NoError(t, s.SaveConversation(ctx, conv))

	got, err := s.LoadConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, got.Control.AI)
	assert.Equal(t, "Maria", got.Control.SupervisorName)
	assert.Equal(t, ledger.StatusResolved, got.Status)
	require.NotNil(t, got.EndTime)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "m3", got.Messages[2].ID)
}

func TestLoadConversationNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadConversation(t.Context(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadAllConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	c1 := sampleConversation()
	c2 := sampleConversation()
	c2.ID = "conv-2"
	c2.StartTime = c1.StartTime.Add(time.Hour)
	require.NoError(t, s.SaveConversation(ctx, c1))
	require.NoError(t, s.SaveConversation(ctx, c2))

	all, err := s.LoadAllConversations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "conv-1", all[0].ID, "ordered by start time")
	assert.Equal(t, "conv-2", all[1].ID)
	assert.Len(t, all[0].Messages, 2)
}

func TestTemplateRoundTripAndUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	tpl := &Template{
		ID:        "tpl-1",
		Name:      "Greeting",
		Content:   "Hi {{name}}, order {{oid}} is ready, {{name}}!",
		Category:  "greetings",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, s.SaveTemplate(ctx, tpl))

	got, err := s.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "oid"}, got.Variables, "variables re-parsed from content, deduplicated")
	assert.Zero(t, got.UsageCount)
	assert.Nil(t, got.LastUsed)

	require.NoError(t, s.IncrementTemplateUsage(ctx, "tpl-1"))
	require.NoError(t, s.IncrementTemplateUsage(ctx, "tpl-1"))

	got, err = s.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
	assert.NotNil(t, got.LastUsed)

	assert.ErrorIs(t, s.IncrementTemplateUsage(ctx, "ghost"), ErrNotFound)
}

func TestListTemplatesFiltersByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for _, tpl := range []*Template{
		{ID: "a", Name: "A", Content: "x", Category: "billing", CreatedAt: time.Now(), UpdatedAt: time.Now()},
		{ID: "b", Name: "B", Content: "y", Category: "greetings", CreatedAt: time.Now(), UpdatedAt: time.Now()},
	} {
		require.NoError(t, s.SaveTemplate(ctx, tpl))
	}

	all, err := s.ListTemplates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	billing, err := s.ListTemplates(ctx, "billing")
	require.NoError(t, err)
	require.Len(t, billing, 1)
	assert.Equal(t, "a", billing[0].ID)
}

func TestAgentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	agent := &Agent{
		ID:     "agent-1",
		Name:   "Billing Bot",
		Status: "online",
		Parameters: AgentParameters{
			Temperature:   0.4,
			MaxTokens:     512,
			ResponseStyle: "concise",
		},
		Capabilities: []AgentCapability{
			{ID: "refunds", Name: "Refunds", Enabled: true},
			{ID: "smalltalk", Name: "Small talk", Enabled: false},
		},
		Escalation: EscalationThresholds{SentimentBelow: 0.3, WaitSecondsAbove: 120},
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, s.SaveAgent(ctx, agent))

	got, err := s.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Billing Bot", got.Name)
	assert.InDelta(t, 0.4, got.Parameters.Temperature, 0.001)
	require.Len(t, got.Capabilities, 2)
	assert.True(t, got.Capabilities[0].Enabled)
	assert.Equal(t, 120, got.Escalation.WaitSecondsAbove)

	_, err = s.GetAgent(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
