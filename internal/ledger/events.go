// ABOUTME: ControlEvent type emitted on every successful ledger mutation
// ABOUTME: Events are published after the state commits, never before

package ledger

import "time"

// EventKind identifies what kind of transition produced a ControlEvent.
type EventKind string

const (
	EventTakeover        EventKind = "takeover"
	EventReturn          EventKind = "return"
	EventStatusChange    EventKind = "status_change"
	EventMessageAppended EventKind = "message_appended"
	EventTagsAdded       EventKind = "tags_added"
)

// ControlEvent is emitted once per successful state transition. The ledger
// publishes it only after the mutation has committed, so an observer never
// sees an event for state that does not yet exist.
type ControlEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Kind           EventKind      `json:"kind"`
	Payload        map[string]any `json:"payload,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Publisher receives events for fan-out to connected viewers. Implemented by
// broadcast.Broadcaster; a nil publisher is valid and drops events.
type Publisher interface {
	Publish(event *ControlEvent)
}
