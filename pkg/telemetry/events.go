package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Subsystem is the associated subsystem ID, if applicable.
	Subsystem string `json:"subsystem,omitempty"`

	// ItemID is the associated manifest item ID, if applicable.
	ItemID string `json:"item_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeItemApplied     = "item.applied"
	EventTypeItemFailed      = "item.failed"
	EventTypeDriftDetected   = "drift.detected"
	EventTypePolicyDenied    = "policy.denied"
	EventTypeManifestUpdated = "manifest.updated"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions. With a zero
// buffer size events are delivered synchronously in publish order, which
// keeps single run output deterministic.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given
// configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.BufferSize > 0 {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.buffer != nil {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, operation string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("%s run %s started", operation, runID),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"operation": operation},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, operation string, exitCode int, duration time.Duration) error {
	level := EventLevelInfo
	if exitCode != 0 {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Message: fmt.Sprintf("%s run %s completed with exit code %d", operation, runID, exitCode),
		Level:   level,
		Data: map[string]interface{}{
			"operation": operation,
			"exit_code": exitCode,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, operation, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		RunID:   runID,
		Message: fmt.Sprintf("%s run %s failed: %s", operation, runID, reason),
		Level:   EventLevelError,
		Data:    map[string]interface{}{"operation": operation, "reason": reason},
	})
}

// PublishItemApplied publishes an item applied event.
func (ep *EventPublisher) PublishItemApplied(runID, subsystem, itemID, action string) error {
	return ep.Publish(Event{
		Type:      EventTypeItemApplied,
		RunID:     runID,
		Subsystem: subsystem,
		ItemID:    itemID,
		Message:   fmt.Sprintf("%s %s applied in %s", action, itemID, subsystem),
		Level:     EventLevelInfo,
		Data:      map[string]interface{}{"action": action},
	})
}

// PublishItemFailed publishes an item failed event.
func (ep *EventPublisher) PublishItemFailed(runID, subsystem, itemID, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypeItemFailed,
		RunID:     runID,
		Subsystem: subsystem,
		ItemID:    itemID,
		Message:   fmt.Sprintf("%s failed in %s: %s", itemID, subsystem, reason),
		Level:     EventLevelError,
		Data:      map[string]interface{}{"reason": reason},
	})
}

// PublishDriftDetected publishes a drift detected event.
func (ep *EventPublisher) PublishDriftDetected(subsystem string, count int) error {
	return ep.Publish(Event{
		Type:      EventTypeDriftDetected,
		Subsystem: subsystem,
		Message:   fmt.Sprintf("drift detected in %s (%d items)", subsystem, count),
		Level:     EventLevelWarning,
		Data:      map[string]interface{}{"count": count},
	})
}

// PublishPolicyDenied publishes a policy denied event.
func (ep *EventPublisher) PublishPolicyDenied(runID string, reasons []string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyDenied,
		RunID:   runID,
		Message: fmt.Sprintf("policy denied run %s", runID),
		Level:   EventLevelError,
		Data:    map[string]interface{}{"reasons": reasons},
	})
}

// PublishManifestUpdated publishes a manifest updated event.
func (ep *EventPublisher) PublishManifestUpdated(subsystem, path string) error {
	return ep.Publish(Event{
		Type:      EventTypeManifestUpdated,
		Subsystem: subsystem,
		Message:   fmt.Sprintf("manifest for %s written to %s", subsystem, path),
		Level:     EventLevelInfo,
		Data:      map[string]interface{}{"path": path},
	})
}

// Subscribe adds a new event subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// processEvents delivers events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher, draining any buffered
// events first.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled || ep.cancel == nil {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByLevel creates a filter that only allows events of the given level
// or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterBySubsystem creates a filter that only allows events for a specific
// subsystem.
func FilterBySubsystem(subsystem string) EventFilter {
	return func(event Event) bool {
		return event.Subsystem == subsystem
	}
}
