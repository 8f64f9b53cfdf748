// Package tracking defines the outbound analytics events emitted by the
// message lifecycle and the dispatchers that deliver them.
package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/messagekit/errors"
	"github.com/c360/messagekit/metric"
)

// EventType identifies a lifecycle transition being reported.
type EventType string

const (
	EventTrigger    EventType = "trigger"
	EventDisplay    EventType = "display"
	EventInteract   EventType = "interact"
	EventDismiss    EventType = "dismiss"
	EventSuppressed EventType = "suppressed"
)

// Event is one outbound tracking event. The transport collaborator wraps it
// into the host's analytics envelope.
type Event struct {
	EventType          EventType `json:"eventType"`
	MessageExecutionID string    `json:"messageExecutionID"`
	ActionID           string    `json:"actionId,omitempty"`
	ApplicationOpened  bool      `json:"applicationOpened,omitempty"`
}

// Validate checks the fields every event must carry.
func (e Event) Validate() error {
	if e.EventType == "" || e.MessageExecutionID == "" {
		return errors.WrapInvalid(errors.ErrMissingField,
			"Event", "Validate", "read event type and execution id")
	}
	return nil
}

// Dispatcher delivers tracking events. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// NATSDispatcher publishes tracking events as JSON onto a NATS subject.
type NATSDispatcher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
	metrics *metric.Metrics
}

var _ Dispatcher = (*NATSDispatcher)(nil)

// NewNATSDispatcher creates a dispatcher publishing to subject. registry may
// be nil to disable metrics.
func NewNATSDispatcher(nc *nats.Conn, subject string, logger *slog.Logger, registry *metric.MetricsRegistry) (*NATSDispatcher, error) {
	if nc == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"NATSDispatcher", "NewNATSDispatcher", "read NATS connection")
	}
	if subject == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"NATSDispatcher", "NewNATSDispatcher", "read subject")
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &NATSDispatcher{
		nc:      nc,
		subject: subject,
		logger:  logger.With("component", "tracking.NATSDispatcher"),
	}
	if registry != nil {
		d.metrics = registry.CoreMetrics()
	}
	return d, nil
}

// Dispatch publishes the event. Publish errors are transient; the caller
// decides whether the event is worth retrying.
func (d *NATSDispatcher) Dispatch(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.WrapInvalid(errors.ErrDecodeFailed,
			"NATSDispatcher", "Dispatch", "serialize event")
	}

	if err := d.nc.Publish(d.subject, data); err != nil {
		return errors.WrapTransient(errors.ErrConnectionLost,
			"NATSDispatcher", "Dispatch", "publish event")
	}

	if d.metrics != nil {
		d.metrics.TrackingEvents.WithLabelValues(string(event.EventType)).Inc()
	}
	d.logger.Debug("tracking event dispatched",
		"event_type", event.EventType,
		"execution_id", event.MessageExecutionID)
	return nil
}

// CaptureDispatcher records events in memory. Used by tests and the CLI
// dry-run mode.
type CaptureDispatcher struct {
	mu     sync.Mutex
	events []Event
}

var _ Dispatcher = (*CaptureDispatcher)(nil)

// NewCaptureDispatcher creates an empty capture dispatcher.
func NewCaptureDispatcher() *CaptureDispatcher {
	return &CaptureDispatcher{}
}

// Dispatch records the event.
func (d *CaptureDispatcher) Dispatch(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

// Events returns a copy of the recorded events in dispatch order.
func (d *CaptureDispatcher) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// Reset discards recorded events.
func (d *CaptureDispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}
