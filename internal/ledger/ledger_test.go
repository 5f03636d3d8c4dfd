// ABOUTME: Tests for the conversation ledger and control state machine
// ABOUTME: Covers handoff round-trips, transition guards, concurrency and persist degradation

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturePublisher records published events in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []*ControlEvent
}

func (p *capturePublisher) Publish(event *ControlEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) all() []*ControlEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*ControlEvent(nil), p.events...)
}

// failingPersister always fails, to exercise degraded-success paths.
type failingPersister struct{}

func (failingPersister) SaveConversation(ctx context.Context, conv *Conversation) error {
	return errors.New("disk on fire")
}

func newTestLedger(pub Publisher) *Ledger {
	l := New(nil, pub, nil)
	l.Add(&Conversation{
		ID:           "conv-1",
		CustomerName: "Ana",
		AgentID:      "agent-1",
		Status:       StatusWaiting,
	})
	return l
}

func TestTakeoverThenReturnRestoresAIControl(t *testing.T) {
	l := newTestLedger(nil)

	before, err := l.Get("conv-1")
	require.NoError(t, err)

	conv, err := l.Takeover(t.Context(), "conv-1", "sup-9", "Maria")
	require.NoError(t, err)
	assert.False(t, conv.Control.AI)
	assert.Equal(t, "sup-9", conv.Control.SupervisorID)
	assert.Equal(t, "Maria", conv.Control.SupervisorName)
	assert.Equal(t, StatusActive, conv.Status, "takeover forces the conversation active")

	conv, err = l.ReturnToAI(t.Context(), "conv-1", "customer calmed down")
	require.NoError(t, err)
	assert.True(t, conv.Control.AI)
	assert.Empty(t, conv.Control.SupervisorID)

	// Exactly two synthetic system messages were added.
	require.Len(t, conv.Messages, len(before.Messages)+2)
	take := conv.Messages[len(conv.Messages)-2]
	ret := conv.Messages[len(conv.Messages)-1]
	assert.Equal(t, SenderSystem, take.Sender)
	assert.Equal(t, "Maria has taken over this conversation", take.Text)
	assert.Equal(t, SenderSystem, ret.Sender)
	assert.Equal(t, "Maria returned control to AI. Notes: customer calmed down", ret.Text)
}

func TestReturnWithoutNotesOmitsNotesSuffix(t *testing.T) {
	l := newTestLedger(nil)

	_, err := l.Takeover(t.Context(), "conv-1", "sup-1", "Sam")
	require.NoError(t, err)
	conv, err := l.ReturnToAI(t.Context(), "conv-1", "")
	require.NoError(t, err)

	last := conv.Messages[len(conv.Messages)-1]
	assert.Equal(t, "Sam returned control to AI", last.Text)
}

func TestDoubleTakeoverFailsAndEmitsNoEvent(t *testing.T) {
	pub := &capturePublisher{}
	l := newTestLedger(pub)

	_, err := l.Takeover(t.Context(), "conv-1", "sup-1", "First")
	require.NoError(t, err)
	eventsBefore := len(pub.all())

	_, err = l.Takeover(t.Context(), "conv-1", "sup-2", "Second")
	assert.ErrorIs(t, err, ErrAlreadyUnderSupervision)
	assert.Len(t, pub.all(), eventsBefore, "failed takeover must not produce an event")

	// The first supervisor still holds control.
	conv, err := l.Get("conv-1")
	require.NoError(t, err)
	assert.Equal(t, "sup-1", conv.Control.SupervisorID)
}

func TestReturnToAIRequiresSupervision(t *testing.T) {
	l := newTestLedger(nil)

	_, err := l.ReturnToAI(t.Context(), "conv-1", "")
	assert.ErrorIs(t, err, ErrNotUnderSupervision)
}

func TestMutationsOnMissingConversation(t *testing.T) {
	l := New(nil, nil, nil)

	_, _, err := l.AppendMessage(t.Context(), "ghost", SenderCustomer, "hi")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = l.Takeover(t.Context(), "ghost", "s", "S")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = l.SetStatus(t.Context(), "ghost", StatusActive)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = l.Get("ghost")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestResolvedIsTerminal(t *testing.T) {
	l := newTestLedger(nil)

	conv, err := l.SetStatus(t.Context(), "conv-1", StatusResolved)
	require.NoError(t, err)
	require.NotNil(t, conv.EndTime, "resolving stamps EndTime")

	_, err = l.SetStatus(t.Context(), "conv-1", StatusActive)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	l := newTestLedger(nil)

	_, err := l.SetStatus(t.Context(), "conv-1", Status("argued"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestEndTimeSetOnlyOnResolve(t *testing.T) {
	l := newTestLedger(nil)

	conv, err := l.SetStatus(t.Context(), "conv-1", StatusEscalated)
	require.NoError(t, err)
	assert.Nil(t, conv.EndTime)
}

func TestAddTagsDeduplicates(t *testing.T) {
	l := newTestLedger(nil)

	_, err := l.AddTags(t.Context(), "conv-1", []string{"billing", "vip"})
	require.NoError(t, err)
	conv, err := l.AddTags(t.Context(), "conv-1", []string{"vip", "refund", ""})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"billing", "vip", "refund"}, conv.Tags)
}

func TestCustomerMessageNudgesSentimentWithinBounds(t *testing.T) {
	l := newTestLedger(nil)

	// Force the walk downward hard; the clamp must hold at 0.1.
	l.rand = func() float64 { return 0 }
	for range 20 {
		conv, _, err := l.AppendMessage(t.Context(), "conv-1", SenderCustomer, "this is terrible")
		require.NoError(t, err)
		require.NotNil(t, conv.Sentiment)
		assert.GreaterOrEqual(t, *conv.Sentiment, 0.1)
		assert.LessOrEqual(t, *conv.Sentiment, 1.0)
	}

	// And upward; the clamp must hold at 1.0.
	l.rand = func() float64 { return 0.9999 }
	for range 20 {
		conv, _, err := l.AppendMessage(t.Context(), "conv-1", SenderCustomer, "thank you!")
		require.NoError(t, err)
		assert.LessOrEqual(t, *conv.Sentiment, 1.0)
	}
}

func TestAgentMessageLeavesSentimentAlone(t *testing.T) {
	l := newTestLedger(nil)

	conv, _, err := l.AppendMessage(t.Context(), "conv-1", SenderAgent, "how can I help?")
	require.NoError(t, err)
	assert.Nil(t, conv.Sentiment)
}

func TestMessageTimestampsNeverMoveBackwards(t *testing.T) {
	l := newTestLedger(nil)

	// Simulate a clock that jumps backwards between appends.
	base := time.Now()
	times := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	i := 0
	l.now = func() time.Time {
		t := times[i%len(times)]
		i++
		return t
	}

	var conv *Conversation
	for range 3 {
		var err error
		conv, _, err = l.AppendMessage(t.Context(), "conv-1", SenderAgent, "tick")
		require.NoError(t, err)
	}

	msgs := conv.Messages
	for j := 1; j < len(msgs); j++ {
		assert.False(t, msgs[j].Timestamp.Before(msgs[j-1].Timestamp),
			"message %d timestamp went backwards", j)
	}
}

func TestConcurrentAppendAndTakeoverSerialize(t *testing.T) {
	for range 50 {
		pub := &capturePublisher{}
		l := newTestLedger(pub)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = l.AppendMessage(context.Background(), "conv-1", SenderCustomer, "hello?")
		}()
		go func() {
			defer wg.Done()
			_, _ = l.Takeover(context.Background(), "conv-1", "sup-1", "Maria")
		}()
		wg.Wait()

		conv, err := l.Get("conv-1")
		require.NoError(t, err)

		// Both operations landed: customer message plus takeover system
		// message, and control is consistently supervisor-owned.
		require.Len(t, conv.Messages, 2, "no lost update under either interleaving")
		assert.False(t, conv.Control.AI)
		assert.Equal(t, "sup-1", conv.Control.SupervisorID)
		assert.Equal(t, StatusActive, conv.Status)
	}
}

func TestConcurrentMutationsAcrossConversationsProceed(t *testing.T) {
	l := New(nil, nil, nil)
	for i := range 10 {
		l.Add(&Conversation{ID: fmt.Sprintf("conv-%d", i), Status: StatusActive})
	}

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("conv-%d", i)
			for range 20 {
				_, _, err := l.AppendMessage(context.Background(), id, SenderAgent, "busy")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for i := range 10 {
		conv, err := l.Get(fmt.Sprintf("conv-%d", i))
		require.NoError(t, err)
		assert.Len(t, conv.Messages, 20)
	}
}

func TestPersistFailureIsDegradedSuccess(t *testing.T) {
	l := New(failingPersister{}, nil, nil)
	l.Add(&Conversation{ID: "conv-1", Status: StatusWaiting})

	conv, msg, err := l.AppendMessage(t.Context(), "conv-1", SenderAgent, "hi")
	assert.ErrorIs(t, err, ErrPersist)
	require.NotNil(t, conv, "in-memory state committed despite persist failure")
	require.NotNil(t, msg)
	assert.Len(t, conv.Messages, 1)

	// The ledger itself kept the message.
	got, gerr := l.Get("conv-1")
	require.NoError(t, gerr)
	assert.Len(t, got.Messages, 1)
}

func TestEventsFollowMutationOrderPerConversation(t *testing.T) {
	pub := &capturePublisher{}
	l := newTestLedger(pub)

	_, _, err := l.AppendMessage(t.Context(), "conv-1", SenderCustomer, "first")
	require.NoError(t, err)
	_, err = l.Takeover(t.Context(), "conv-1", "sup-1", "Maria")
	require.NoError(t, err)
	_, err = l.ReturnToAI(t.Context(), "conv-1", "done")
	require.NoError(t, err)

	events := pub.all()
	require.Len(t, events, 3)
	assert.Equal(t, EventMessageAppended, events[0].Kind)
	assert.Equal(t, EventTakeover, events[1].Kind)
	assert.Equal(t, EventReturn, events[2].Kind)
	for _, ev := range events {
		assert.Equal(t, "conv-1", ev.ConversationID)
		assert.NotEmpty(t, ev.ID)
	}
}

func TestSweepRetiresOldResolvedConversations(t *testing.T) {
	l := New(nil, nil, nil)
	old := time.Now().Add(-2 * time.Hour)
	l.Add(&Conversation{ID: "old-resolved", Status: StatusResolved, EndTime: &old})
	l.Add(&Conversation{ID: "fresh-resolved", Status: StatusResolved, EndTime: timePtr(time.Now())})
	l.Add(&Conversation{ID: "still-active", Status: StatusActive})

	retired := l.Sweep(time.Hour)
	assert.Equal(t, []string{"old-resolved"}, retired)

	_, err := l.Get("old-resolved")
	assert.ErrorIs(t, err, ErrConversationNotFound)
	_, err = l.Get("fresh-resolved")
	assert.NoError(t, err)
	_, err = l.Get("still-active")
	assert.NoError(t, err)
}

func TestSnapshotsAreIsolatedFromLedgerState(t *testing.T) {
	l := newTestLedger(nil)

	conv, _, err := l.AppendMessage(t.Context(), "conv-1", SenderAgent, "original")
	require.NoError(t, err)

	// Mutating the returned snapshot must not leak into the ledger.
	conv.Messages[0].Text = "tampered"
	conv.Tags = append(conv.Tags, "sneaky")

	got, err := l.Get("conv-1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Messages[0].Text)
	assert.Empty(t, got.Tags)
}

func timePtr(t time.Time) *time.Time { return &t }
