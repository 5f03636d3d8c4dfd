// ABOUTME: In-memory authoritative ledger of live conversations
// ABOUTME: All mutations are serialized per conversation id and mirrored to storage best-effort

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger errors. Persist failures never roll back in-memory state; they are
// reported alongside the committed snapshot via ErrPersist.
var (
	ErrConversationNotFound    = errors.New("conversation not found")
	ErrInvalidStatus           = errors.New("unknown status")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrAlreadyUnderSupervision = errors.New("conversation already under supervision")
	ErrNotUnderSupervision     = errors.New("conversation not under supervision")
	ErrPersist                 = errors.New("persist failed")
)

// persistTimeout bounds the best-effort storage mirror write. Detached from
// the request context so a cancelled request does not drop the write.
const persistTimeout = 5 * time.Second

// Persister defines what the ledger needs from the storage collaborator.
type Persister interface {
	SaveConversation(ctx context.Context, conv *Conversation) error
}

// entry holds one live conversation. entry.mu serializes every mutation for
// that id; operations on different ids proceed in parallel.
type entry struct {
	mu     sync.Mutex
	conv   *Conversation
	lastTS time.Time
}

// Ledger is the single source of truth for live conversation state. The
// outer RWMutex guards only the id map; per-conversation work happens under
// the entry lock.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry

	store  Persister
	pub    Publisher
	logger *slog.Logger

	now  func() time.Time
	rand func() float64
}

// New creates a ledger. store and pub may be nil (no mirror, no fan-out);
// pass nil logger for default.
func New(store Persister, pub Publisher, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		entries: make(map[string]*entry),
		store:   store,
		pub:     pub,
		logger:  logger.With("component", "ledger"),
		now:     time.Now,
		rand:    rand.Float64,
	}
}

// Load seeds the ledger from the storage collaborator at startup.
// Existing entries with the same id are replaced.
func (l *Ledger) Load(convs []*Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range convs {
		cc := c.Clone()
		normalize(cc)
		l.entries[cc.ID] = &entry{conv: cc, lastTS: lastMessageTime(cc)}
	}
	l.logger.Info("ledger loaded", "conversations", len(convs))
}

// Add registers a new live conversation and returns its snapshot.
func (l *Ledger) Add(conv *Conversation) *Conversation {
	cc := conv.Clone()
	if cc.ID == "" {
		cc.ID = uuid.New().String()
	}
	if cc.StartTime.IsZero() {
		cc.StartTime = l.now()
	}
	normalize(cc)

	l.mu.Lock()
	l.entries[cc.ID] = &entry{conv: cc, lastTS: lastMessageTime(cc)}
	l.mu.Unlock()

	l.logger.Debug("conversation added", "conversation_id", cc.ID)
	return cc.Clone()
}

// Get returns a snapshot of one conversation.
func (l *Ledger) Get(id string) (*Conversation, error) {
	l.mu.RLock()
	e, ok := l.entries[id]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrConversationNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Clone(), nil
}

// List returns snapshots of every live conversation. Each snapshot is
// internally consistent; the set as a whole may observe different
// conversations at slightly different instants.
func (l *Ledger) List() []*Conversation {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]*Conversation, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.conv.Clone())
		e.mu.Unlock()
	}
	return out
}

// AppendMessage appends a message with a server-assigned monotonic timestamp.
// Customer messages nudge the sentiment estimate by a bounded random walk
// clamped to [0.1, 1.0]. Returns the updated snapshot and the new message.
func (l *Ledger) AppendMessage(ctx context.Context, id, sender, text string) (*Conversation, *Message, error) {
	var msg Message
	conv, err := l.mutate(ctx, id, func(e *entry) (*ControlEvent, error) {
		msg = l.appendLocked(e, sender, text)
		if sender == SenderCustomer {
			l.nudgeSentimentLocked(e)
		}
		return l.newEvent(e, EventMessageAppended, map[string]any{
			"message_id": msg.ID,
			"sender":     msg.Sender,
		}), nil
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		return nil, nil, err
	}
	return conv, &msg, err
}

// SetStatus moves a conversation to the given status. Resolved is terminal:
// no further transitions are accepted, and reaching it stamps EndTime.
func (l *Ledger) SetStatus(ctx context.Context, id string, status Status) (*Conversation, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return l.mutate(ctx, id, func(e *entry) (*ControlEvent, error) {
		if e.conv.Status == StatusResolved {
			return nil, fmt.Errorf("%w: conversation is resolved", ErrInvalidTransition)
		}
		from := e.conv.Status
		e.conv.Status = status
		if status == StatusResolved && e.conv.EndTime == nil {
			t := l.now()
			e.conv.EndTime = &t
		}
		return l.newEvent(e, EventStatusChange, map[string]any{
			"from": string(from),
			"to":   string(status),
		}), nil
	})
}

// AddTags unions tags into the conversation's tag set, deduplicated.
func (l *Ledger) AddTags(ctx context.Context, id string, tags []string) (*Conversation, error) {
	return l.mutate(ctx, id, func(e *entry) (*ControlEvent, error) {
		seen := make(map[string]bool, len(e.conv.Tags))
		for _, t := range e.conv.Tags {
			seen[t] = true
		}
		for _, t := range tags {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			e.conv.Tags = append(e.conv.Tags, t)
		}
		return l.newEvent(e, EventTagsAdded, map[string]any{
			"tags": append([]string(nil), e.conv.Tags...),
		}), nil
	})
}

// Sweep retires resolved conversations whose EndTime is older than retention
// from the live map. Storage keeps the archived rows; this only bounds what
// the ledger holds in memory. Returns the retired ids.
func (l *Ledger) Sweep(retention time.Duration) []string {
	cutoff := l.now().Add(-retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	var retired []string
	for id, e := range l.entries {
		e.mu.Lock()
		dead := e.conv.Status == StatusResolved && e.conv.EndTime != nil && e.conv.EndTime.Before(cutoff)
		e.mu.Unlock()
		if dead {
			delete(l.entries, id)
			retired = append(retired, id)
		}
	}
	if len(retired) > 0 {
		l.logger.Info("retired resolved conversations", "count", len(retired))
	}
	return retired
}

// mutate runs fn under the per-conversation lock, publishes the resulting
// event after the state change commits (still inside the critical section so
// same-conversation events keep mutation order), then mirrors the snapshot to
// storage. A persist failure returns the committed snapshot with ErrPersist.
func (l *Ledger) mutate(ctx context.Context, id string, fn func(e *entry) (*ControlEvent, error)) (*Conversation, error) {
	l.mu.RLock()
	e, ok := l.entries[id]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrConversationNotFound
	}

	e.mu.Lock()
	event, err := fn(e)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	snapshot := e.conv.Clone()
	if l.pub != nil && event != nil {
		l.pub.Publish(event)
	}
	e.mu.Unlock()

	if perr := l.persist(snapshot); perr != nil {
		return snapshot, fmt.Errorf("%w: %v", ErrPersist, perr)
	}
	return snapshot, nil
}

// persist mirrors a committed snapshot to the storage collaborator.
func (l *Ledger) persist(conv *Conversation) error {
	if l.store == nil {
		return nil
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := l.store.SaveConversation(saveCtx, conv); err != nil {
		l.logger.Error("failed to persist conversation",
			"error", err,
			"conversation_id", conv.ID)
		return err
	}
	return nil
}

// appendLocked appends a message under the entry lock, assigning a timestamp
// that never moves backwards within one conversation.
func (l *Ledger) appendLocked(e *entry, sender, text string) Message {
	ts := l.now()
	if ts.Before(e.lastTS) {
		ts = e.lastTS
	}
	e.lastTS = ts

	msg := Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Text:      text,
		Timestamp: ts,
	}
	e.conv.Messages = append(e.conv.Messages, msg)
	return msg
}

// nudgeSentimentLocked models externally-supplied sentiment analysis as a
// bounded random walk: step -0.1 plus noise in [0, 0.2), clamped to
// [0.1, 1.0]. Only the bound and clamp are contractual; the noise
// distribution is not.
func (l *Ledger) nudgeSentimentLocked(e *entry) {
	s := 0.5
	if e.conv.Sentiment != nil {
		s = *e.conv.Sentiment
	}
	s = s - 0.1 + 0.2*l.rand()
	if s < 0.1 {
		s = 0.1
	}
	if s > 1.0 {
		s = 1.0
	}
	e.conv.Sentiment = &s
}

// newEvent builds a ControlEvent for the conversation held by e.
func (l *Ledger) newEvent(e *entry, kind EventKind, payload map[string]any) *ControlEvent {
	return &ControlEvent{
		ID:             uuid.New().String(),
		ConversationID: e.conv.ID,
		Kind:           kind,
		Payload:        payload,
		Timestamp:      l.now(),
	}
}

// normalize fills zero-value fields on a loaded conversation.
func normalize(c *Conversation) {
	if c.Status == "" {
		c.Status = StatusWaiting
	}
	if c.AlertLevel == "" {
		c.AlertLevel = AlertNormal
	}
	if !c.Control.AI && c.Control.SupervisorID == "" {
		c.Control.AI = true
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
}

func lastMessageTime(c *Conversation) time.Time {
	if len(c.Messages) == 0 {
		return time.Time{}
	}
	return c.Messages[len(c.Messages)-1].Timestamp
}
