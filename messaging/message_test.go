package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/messagekit/errors"
	"github.com/c360/messagekit/rules"
	"github.com/c360/messagekit/tracking"
)

func testRule(id string) rules.CompiledRule {
	return rules.CompiledRule{
		ConsequenceID:   id,
		ConsequenceType: rules.ConsequenceTypeCJM,
		Detail:          map[string]any{"html": "<html>offer</html>"},
		SurfaceURI:      "mobileapp://com.app.appname",
	}
}

func eventTypes(events []tracking.Event) []tracking.EventType {
	types := make([]tracking.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func TestShowDisplaysMessage(t *testing.T) {
	capture := tracking.NewCaptureDispatcher()
	slot := NewDisplaySlot()
	msg := NewMessage(testRule("c-1"), slot, nil, capture, nil)
	ctx := context.Background()

	require.Equal(t, StateCreated, msg.State())
	require.NoError(t, msg.Show(ctx))

	assert.Equal(t, StateDisplayed, msg.State())
	assert.Equal(t, msg.ExecutionID(), slot.Owner())
	assert.Equal(t, []tracking.EventType{tracking.EventTrigger, tracking.EventDisplay},
		eventTypes(capture.Events()))
	assert.Equal(t, "<html>offer</html>", msg.HTML())
}

func TestShowIsIdempotentOnceDisplayed(t *testing.T) {
	capture := tracking.NewCaptureDispatcher()
	msg := NewMessage(testRule("c-1"), NewDisplaySlot(), nil, capture, nil)
	ctx := context.Background()

	require.NoError(t, msg.Show(ctx))
	require.NoError(t, msg.Show(ctx), "second show is a no-op")

	assert.Len(t, capture.Events(), 2, "trigger and display are emitted once")
}

func TestShowSuppressedByPolicy(t *testing.T) {
	capture := tracking.NewCaptureDispatcher()
	slot := NewDisplaySlot()
	decline := DisplayPolicyFunc(func(*Message) bool { return false })
	msg := NewMessage(testRule("c-1"), slot, decline, capture, nil)
	ctx := context.Background()

	require.NoError(t, msg.Show(ctx))

	assert.Equal(t, StateSuppressed, msg.State())
	assert.Empty(t, slot.Owner(), "suppressed message never takes the slot")
	assert.Equal(t, []tracking.EventType{tracking.EventSuppressed}, eventTypes(capture.Events()))
}

func TestShowPolicyMayInspectMessageState(t *testing.T) {
	capture := tracking.NewCaptureDispatcher()
	slot := NewDisplaySlot()
	// A policy reading back through the message's own accessors must not
	// block Show.
	gate := DisplayPolicyFunc(func(m *Message) bool { return m.State() == StateCreated })
	msg := NewMessage(testRule("c-1"), slot, gate, capture, nil)

	done := make(chan error, 1)
	go func() { done <- msg.Show(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Show did not return while the policy inspected message state")
	}

	assert.Equal(t, StateDisplayed, msg.State())
	assert.Equal(t, msg.ExecutionID(), slot.Owner())
}

func TestShowFailsFastWhenSlotOccupied(t *testing.T) {
	capture := tracking.NewCaptureDispatcher()
	slot := NewDisplaySlot()
	ctx := context.Background()

	first := NewMessage(testRule("c-1"), slot, nil, capture, nil)
	second := NewMessage(testRule("c-2"), slot, nil, capture, nil)

	require.NoError(t, first.Show(ctx))

	err := second.Show(ctx)
	require.ErrorIs(t, err, errors.ErrDisplayConflict)
	assert.Equal(t, StateCreated, second.State(), "no queueing, state unchanged")

	// Once the slot frees up, the second message can show.
	require.NoError(t, first.Dismiss(ctx))
	require.NoError(t, second.Show(ctx))
	assert.Equal(t, StateDisplayed, second.State())
}

func TestDisplayExclusivityUnderConcurrency(t *testing.T) {
	slot := NewDisplaySlot()
	ctx := context.Background()

	const n = 16
	msgs := make([]*Message, n)
	for i := range msgs {
		msgs[i] = NewMessage(testRule("c"), slot, nil, tracking.NewCaptureDispatcher(), nil)
	}

	var wg sync.WaitGroup
	for _, msg := range msgs {
		wg.Add(1)
		go func(m *Message) {
			defer wg.Done()
			_ = m.Show(ctx)
		}(msg)
	}
	wg.Wait()

	displayed := 0
	for _, msg := range msgs {
		if msg.State() == StateDisplayed {
			displayed++
		}
	}
	assert.Equal(t, 1, displayed, "exactly one message may hold the display slot")
}

func TestDismissReleasesSlotAndIsIdempotent(t *testing.T) {
	capture := tracking.NewCaptureDispatcher()
	slot := NewDisplaySlot()
	msg := NewMessage(testRule("c-1"), slot, nil, capture, nil)
	ctx := context.Background()

	require.NoError(t, msg.Show(ctx))
	require.NoError(t, msg.Dismiss(ctx))

	assert.Equal(t, StateDismissed, msg.State())
	assert.Empty(t, slot.Owner())

	require.NoError(t, msg.Dismiss(ctx), "dismissing again is a no-op")
	assert.Equal(t, []tracking.EventType{
		tracking.EventTrigger, tracking.EventDisplay, tracking.EventDismiss,
	}, eventTypes(capture.Events()), "dismiss event is emitted exactly once")
}

func TestDismissNeverDisplayedEmitsNoEvent(t *testing.T) {
	capture := tracking.NewCaptureDispatcher()
	msg := NewMessage(testRule("c-1"), NewDisplaySlot(), nil, capture, nil)

	require.NoError(t, msg.Dismiss(context.Background()))
	assert.Equal(t, StateDismissed, msg.State())
	assert.Empty(t, capture.Events())
}

func TestShowAfterDismiss(t *testing.T) {
	msg := NewMessage(testRule("c-1"), NewDisplaySlot(), nil, tracking.NewCaptureDispatcher(), nil)
	ctx := context.Background()

	require.NoError(t, msg.Dismiss(ctx))
	assert.ErrorIs(t, msg.Show(ctx), errors.ErrMessageDismissed)
}

func TestTrack(t *testing.T) {
	capture := tracking.NewCaptureDispatcher()
	msg := NewMessage(testRule("c-1"), NewDisplaySlot(), nil, capture, nil)
	ctx := context.Background()

	require.NoError(t, msg.Show(ctx))
	require.NoError(t, msg.Track(ctx, "buy-now"))

	events := capture.Events()
	require.Len(t, events, 3)
	last := events[2]
	assert.Equal(t, tracking.EventInteract, last.EventType)
	assert.Equal(t, "buy-now", last.ActionID)
	assert.Equal(t, msg.ExecutionID(), last.MessageExecutionID)
}

func TestTrackRejectsBlankInteraction(t *testing.T) {
	capture := tracking.NewCaptureDispatcher()
	msg := NewMessage(testRule("c-1"), NewDisplaySlot(), nil, capture, nil)
	ctx := context.Background()

	require.NoError(t, msg.Show(ctx))

	for _, id := range []string{"", "   ", "\t\n"} {
		assert.ErrorIs(t, msg.Track(ctx, id), errors.ErrBlankInteraction)
	}
	assert.Len(t, capture.Events(), 2, "no interact event for blank ids")
}

func TestTrackAfterDismiss(t *testing.T) {
	msg := NewMessage(testRule("c-1"), NewDisplaySlot(), nil, tracking.NewCaptureDispatcher(), nil)
	ctx := context.Background()

	require.NoError(t, msg.Show(ctx))
	require.NoError(t, msg.Dismiss(ctx))
	assert.ErrorIs(t, msg.Track(ctx, "late"), errors.ErrMessageDismissed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "displayed", StateDisplayed.String())
	assert.Equal(t, "suppressed", StateSuppressed.String())
	assert.Equal(t, "dismissed", StateDismissed.String())
}
