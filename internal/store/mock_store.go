// ABOUTME: In-memory Store implementation for tests
// ABOUTME: Supports forced persist failures to exercise degraded-success paths

package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/2389/overseer-gateway/internal/ledger"
	"github.com/2389/overseer-gateway/internal/template"
)

// MockStore is a thread-safe in-memory Store for tests.
type MockStore struct {
	mu            sync.Mutex
	conversations map[string]*ledger.Conversation
	templates     map[string]*Template
	agents        map[string]*Agent

	// FailPersist makes every SaveConversation fail, for testing the
	// degraded-success path.
	FailPersist bool

	// SaveCount counts SaveConversation calls, successful or not.
	SaveCount int
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*ledger.Conversation),
		templates:     make(map[string]*Template),
		agents:        make(map[string]*Agent),
	}
}

func (m *MockStore) LoadConversation(ctx context.Context, id string) (*ledger.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

func (m *MockStore) LoadAllConversations(ctx context.Context) ([]*ledger.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ledger.Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		out = append(out, conv.Clone())
	}
	return out, nil
}

func (m *MockStore) SaveConversation(ctx context.Context, conv *ledger.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCount++
	if m.FailPersist {
		return errors.New("mock persist failure")
	}
	m.conversations[conv.ID] = conv.Clone()
	return nil
}

func (m *MockStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tpl, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tpl
	return &cp, nil
}

func (m *MockStore) ListTemplates(ctx context.Context, category string) ([]*Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Template
	for _, tpl := range m.templates {
		if category != "" && tpl.Category != category {
			continue
		}
		cp := *tpl
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockStore) SaveTemplate(ctx context.Context, tpl *Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tpl
	cp.Variables = template.ParseVariables(cp.Content)
	m.templates[tpl.ID] = &cp
	return nil
}

func (m *MockStore) IncrementTemplateUsage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tpl, ok := m.templates[id]
	if !ok {
		return ErrNotFound
	}
	tpl.UsageCount++
	now := time.Now()
	tpl.LastUsed = &now
	return nil
}

func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *agent
	cp.Capabilities = append([]AgentCapability(nil), agent.Capabilities...)
	return &cp, nil
}

func (m *MockStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Agent
	for _, agent := range m.agents {
		cp := *agent
		cp.Capabilities = append([]AgentCapability(nil), agent.Capabilities...)
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockStore) SaveAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *agent
	cp.Capabilities = append([]AgentCapability(nil), agent.Capabilities...)
	m.agents[agent.ID] = &cp
	return nil
}

func (m *MockStore) Close() error { return nil }
