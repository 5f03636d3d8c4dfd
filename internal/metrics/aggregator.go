// ABOUTME: Derives rolling dashboard statistics from the live conversation set
// ABOUTME: Snapshots are recomputed wholesale each cycle, never partially updated

package metrics

import (
	"log/slog"
	"math"
	"time"

	"github.com/2389/overseer-gateway/internal/ledger"
)

// Snapshot is a fully-recomputed, internally consistent metrics value at one
// instant. Field names mirror what the dashboard consumes.
type Snapshot struct {
	CSAT                float64   `json:"csat"`
	AvgResponseTime     int       `json:"avgResponseTime"`
	ActiveConversations int       `json:"activeConversations"`
	EscalationRate      int       `json:"escalationRate"`
	Timestamp           time.Time `json:"timestamp"`
}

// DailyMetric is one day's rollup for the analytics chart.
type DailyMetric struct {
	Date          string  `json:"date"`
	CSAT          float64 `json:"csat"`
	Conversations int     `json:"conversations"`
}

// ConversationSource provides the conversation set a snapshot derives from.
// Implemented by ledger.Ledger.
type ConversationSource interface {
	List() []*ledger.Conversation
}

// Aggregator computes metric snapshots over the ledger's conversation set.
// Computation is a read-only pass; it never mutates ledger state. A snapshot
// may observe different conversations at slightly different instants, which
// is an accepted staleness bound, not a correctness bug.
type Aggregator struct {
	source ConversationSource
	logger *slog.Logger
	now    func() time.Time
}

// New creates an aggregator over the given conversation source.
func New(source ConversationSource, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		source: source,
		logger: logger.With("component", "metrics"),
		now:    time.Now,
	}
}

// Snapshot recomputes the full metrics view from the current conversation
// set. Conversations with missing sentiment are excluded from the CSAT
// average but still counted everywhere else.
func (a *Aggregator) Snapshot() Snapshot {
	convs := a.source.List()

	var sentimentSum float64
	sentimentCount := 0
	active := 0
	escalated := 0

	var gapSum float64
	gapCount := 0

	for _, c := range convs {
		if c.Sentiment != nil {
			sentimentSum += *c.Sentiment
			sentimentCount++
		}
		if c.Status == ledger.StatusActive || c.Status == ledger.StatusWaiting {
			active++
		}
		if c.Status == ledger.StatusEscalated || c.AlertLevel == ledger.AlertHigh {
			escalated++
		}
		for i := 1; i < len(c.Messages); i++ {
			prev, cur := c.Messages[i-1], c.Messages[i]
			if isCustomer(prev.Sender) && cur.Sender == ledger.SenderAgent {
				gapSum += cur.Timestamp.Sub(prev.Timestamp).Seconds()
				gapCount++
			}
		}
	}

	csat := 0.0
	if sentimentCount > 0 {
		csat = round1(sentimentSum / float64(sentimentCount) * 10)
	}

	avgResponse := 0
	if gapCount > 0 {
		avgResponse = int(math.Round(gapSum / float64(gapCount)))
	}

	total := len(convs)
	rate := 0
	if total > 0 {
		rate = int(math.Round(float64(escalated) / float64(total) * 100))
	}

	return Snapshot{
		CSAT:                csat,
		AvgResponseTime:     avgResponse,
		ActiveConversations: active,
		EscalationRate:      rate,
		Timestamp:           a.now(),
	}
}

// Daily buckets the conversation set by start day and returns the last n
// days (oldest first), one rollup per day, for the analytics chart.
func (a *Aggregator) Daily(n int) []DailyMetric {
	convs := a.source.List()
	out := make([]DailyMetric, 0, n)

	for i := n - 1; i >= 0; i-- {
		day := a.now().AddDate(0, 0, -i)
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		dayEnd := dayStart.AddDate(0, 0, 1)

		var sentimentSum float64
		sentimentCount := 0
		count := 0
		for _, c := range convs {
			if c.StartTime.Before(dayStart) || !c.StartTime.Before(dayEnd) {
				continue
			}
			count++
			if c.Sentiment != nil {
				sentimentSum += *c.Sentiment
				sentimentCount++
			}
		}

		csat := 0.0
		if sentimentCount > 0 {
			csat = round1(sentimentSum / float64(sentimentCount) * 10)
		}
		out = append(out, DailyMetric{
			Date:          dayStart.Format("2006-01-02"),
			CSAT:          csat,
			Conversations: count,
		})
	}
	return out
}

// isCustomer accepts both the current "customer" sender and the legacy
// "user" value still present in archived transcripts.
func isCustomer(sender string) bool {
	return sender == ledger.SenderCustomer || sender == "user"
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
