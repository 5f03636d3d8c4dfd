// ABOUTME: Control state machine for supervisor takeover and return-to-AI
// ABOUTME: Enforces mutual exclusion between AI and supervisor control per conversation

package ledger

import (
	"context"
	"fmt"
)

// Takeover moves a conversation from AI control to supervisor control. Valid
// only while the AI holds control; a second takeover fails with
// ErrAlreadyUnderSupervision so the caller is told rather than silently
// ignored. Engaging a human forces the conversation active and records a
// synthetic system message.
func (l *Ledger) Takeover(ctx context.Context, id, supervisorID, supervisorName string) (*Conversation, error) {
	if supervisorID == "" {
		supervisorID = "supervisor-001"
	}
	if supervisorName == "" {
		supervisorName = "Supervisor"
	}

	return l.mutate(ctx, id, func(e *entry) (*ControlEvent, error) {
		if !e.conv.Control.AI {
			return nil, fmt.Errorf("%w: held by %s", ErrAlreadyUnderSupervision, e.conv.Control.SupervisorName)
		}

		e.conv.Control = ControlOwner{
			AI:             false,
			SupervisorID:   supervisorID,
			SupervisorName: supervisorName,
		}
		e.conv.Status = StatusActive
		l.appendLocked(e, SenderSystem, supervisorName+" has taken over this conversation")

		return l.newEvent(e, EventTakeover, map[string]any{
			"supervisor_id":   supervisorID,
			"supervisor_name": supervisorName,
		}), nil
	})
}

// ReturnToAI hands control back to the AI agent. Valid only while a
// supervisor holds control. The outgoing supervisor's name and the optional
// notes are embedded verbatim in a synthetic system message.
func (l *Ledger) ReturnToAI(ctx context.Context, id, notes string) (*Conversation, error) {
	return l.mutate(ctx, id, func(e *entry) (*ControlEvent, error) {
		if e.conv.Control.AI {
			return nil, ErrNotUnderSupervision
		}

		name := e.conv.Control.SupervisorName
		e.conv.Control = ControlOwner{AI: true}

		text := name + " returned control to AI"
		if notes != "" {
			text += ". Notes: " + notes
		}
		l.appendLocked(e, SenderSystem, text)

		payload := map[string]any{"supervisor_name": name}
		if notes != "" {
			payload["notes"] = notes
		}
		return l.newEvent(e, EventReturn, payload), nil
	})
}
