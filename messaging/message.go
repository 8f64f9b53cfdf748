// Package messaging orchestrates personalization payloads into registered
// rules and drives triggered in-app messages through their display lifecycle.
package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/messagekit/errors"
	"github.com/c360/messagekit/rules"
	"github.com/c360/messagekit/tracking"
)

// State is a message's position in its display lifecycle.
type State int

const (
	// StateCreated is a message that has not been shown yet.
	StateCreated State = iota
	// StateDisplayed is a message currently holding the display slot.
	StateDisplayed
	// StateSuppressed is a message the display policy declined. Terminal for
	// rendering; tracking interactions are still accepted.
	StateSuppressed
	// StateDismissed is the terminal state.
	StateDismissed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDisplayed:
		return "displayed"
	case StateSuppressed:
		return "suppressed"
	case StateDismissed:
		return "dismissed"
	default:
		return "unknown"
	}
}

// Message is one in-app message produced by a triggered rule. Transitions
// are serialized by an internal mutex; tracking events are emitted outside
// it so a slow dispatcher never blocks state reads.
type Message struct {
	executionID string
	rule        rules.CompiledRule

	slot       *DisplaySlot
	policy     DisplayPolicy
	dispatcher tracking.Dispatcher
	logger     *slog.Logger

	mu    sync.Mutex
	state State
}

// NewMessage creates a message in StateCreated with a fresh execution id.
func NewMessage(rule rules.CompiledRule, slot *DisplaySlot, policy DisplayPolicy, dispatcher tracking.Dispatcher, logger *slog.Logger) *Message {
	if policy == nil {
		policy = AlwaysShow
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Message{
		executionID: id,
		rule:        rule,
		slot:        slot,
		policy:      policy,
		dispatcher:  dispatcher,
		logger:      logger.With("component", "messaging.Message", "execution_id", id),
	}
}

// ExecutionID returns the message's unique execution id.
func (m *Message) ExecutionID() string {
	return m.executionID
}

// Rule returns the compiled rule that produced this message.
func (m *Message) Rule() rules.CompiledRule {
	return m.rule
}

// HTML returns the message's rendering payload.
func (m *Message) HTML() string {
	html, _ := m.rule.Detail["html"].(string)
	return html
}

// State returns the current lifecycle state.
func (m *Message) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Show attempts to render the message. The display policy is consulted
// first; a decline transitions to Suppressed and emits a suppressed event.
// Otherwise the message needs the process-wide display slot: when free it
// transitions to Displayed and emits trigger and display events, when
// occupied Show fails fast with ErrDisplayConflict and the state is
// unchanged (no queueing).
func (m *Message) Show(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateDismissed:
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrMessageDismissed,
			"Message", "Show", "check state")
	case StateDisplayed, StateSuppressed:
		m.mu.Unlock()
		return nil // already resolved, events stay exactly-once
	}
	m.mu.Unlock()

	// ShouldShow may call back into State() and the other accessors that
	// take m.mu; it must run unlocked.
	allowed := m.policy.ShouldShow(m)

	m.mu.Lock()
	// Re-check: another caller may have resolved the message while the
	// policy ran.
	switch m.state {
	case StateDismissed:
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrMessageDismissed,
			"Message", "Show", "check state")
	case StateDisplayed, StateSuppressed:
		m.mu.Unlock()
		return nil
	}

	if !allowed {
		m.state = StateSuppressed
		m.mu.Unlock()
		m.logger.Info("message suppressed by display policy")
		m.emit(ctx, tracking.EventSuppressed, "")
		return nil
	}

	if !m.slot.TryAcquire(m.executionID) {
		m.mu.Unlock()
		m.logger.Warn("display slot occupied", "holder", m.slot.Owner())
		return errors.WrapInvalid(errors.ErrDisplayConflict,
			"Message", "Show", "acquire display slot")
	}

	m.state = StateDisplayed
	m.mu.Unlock()

	m.logger.Info("message displayed", "consequence_id", m.rule.ConsequenceID)
	m.emit(ctx, tracking.EventTrigger, "")
	m.emit(ctx, tracking.EventDisplay, "")
	return nil
}

// Dismiss releases the display slot and transitions to Dismissed.
// Idempotent: dismissing an already-dismissed message is a no-op. The
// dismiss event is emitted only when the message was actually on screen.
func (m *Message) Dismiss(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDismissed {
		m.mu.Unlock()
		return nil
	}
	wasDisplayed := m.state == StateDisplayed
	m.state = StateDismissed
	m.mu.Unlock()

	if wasDisplayed {
		m.slot.Release(m.executionID)
		m.logger.Info("message dismissed")
		m.emit(ctx, tracking.EventDismiss, "")
	}
	return nil
}

// Track emits an interact event carrying interactionID. Blank ids are
// rejected and dismissed messages no longer accept interactions.
func (m *Message) Track(ctx context.Context, interactionID string) error {
	if strings.TrimSpace(interactionID) == "" {
		return errors.WrapInvalid(errors.ErrBlankInteraction,
			"Message", "Track", "read interaction id")
	}

	m.mu.Lock()
	if m.state == StateDismissed {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrMessageDismissed,
			"Message", "Track", "check state")
	}
	m.mu.Unlock()

	m.emit(ctx, tracking.EventInteract, interactionID)
	return nil
}

// emit dispatches one tracking event, logging failures instead of
// propagating them into the lifecycle.
func (m *Message) emit(ctx context.Context, eventType tracking.EventType, actionID string) {
	if m.dispatcher == nil {
		return
	}
	event := tracking.Event{
		EventType:          eventType,
		MessageExecutionID: m.executionID,
		ActionID:           actionID,
	}
	if err := m.dispatcher.Dispatch(ctx, event); err != nil {
		m.logger.Warn("tracking dispatch failed",
			"event_type", eventType, "error", err)
	}
}
