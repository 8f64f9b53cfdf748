package tracking

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/messagekit/errors"
)

func TestEventJSONShape(t *testing.T) {
	event := Event{
		EventType:          EventInteract,
		MessageExecutionID: "exec-1",
		ActionID:           "buy-now",
		ApplicationOpened:  true,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"eventType": "interact",
		"messageExecutionID": "exec-1",
		"actionId": "buy-now",
		"applicationOpened": true
	}`, string(data))
}

func TestEventJSONOmitsOptionalFields(t *testing.T) {
	event := Event{EventType: EventDismiss, MessageExecutionID: "exec-1"}

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{"eventType":"dismiss","messageExecutionID":"exec-1"}`, string(data))
}

func TestEventValidate(t *testing.T) {
	assert.NoError(t, Event{EventType: EventTrigger, MessageExecutionID: "e"}.Validate())
	assert.ErrorIs(t, Event{MessageExecutionID: "e"}.Validate(), errors.ErrMissingField)
	assert.ErrorIs(t, Event{EventType: EventTrigger}.Validate(), errors.ErrMissingField)
}

func TestCaptureDispatcher(t *testing.T) {
	capture := NewCaptureDispatcher()
	ctx := context.Background()

	require.NoError(t, capture.Dispatch(ctx, Event{EventType: EventTrigger, MessageExecutionID: "e1"}))
	require.NoError(t, capture.Dispatch(ctx, Event{EventType: EventDismiss, MessageExecutionID: "e1"}))

	events := capture.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventTrigger, events[0].EventType)
	assert.Equal(t, EventDismiss, events[1].EventType)

	// Events returns a copy.
	events[0].EventType = EventInteract
	assert.Equal(t, EventTrigger, capture.Events()[0].EventType)

	capture.Reset()
	assert.Empty(t, capture.Events())
}

func TestCaptureDispatcherRejectsInvalid(t *testing.T) {
	capture := NewCaptureDispatcher()

	err := capture.Dispatch(context.Background(), Event{EventType: EventTrigger})
	assert.Error(t, err)
	assert.Empty(t, capture.Events())
}

func TestNewNATSDispatcherValidation(t *testing.T) {
	_, err := NewNATSDispatcher(nil, "tracking.events", nil, nil)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}
