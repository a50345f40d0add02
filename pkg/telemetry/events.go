package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a reconciliation event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the component that emitted the event.
	Source string `json:"source"`

	// Deployment is the deployment the event belongs to.
	Deployment string `json:"deployment,omitempty"`

	// Resource identifies the VM or instance concerned, if any.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types emitted by the reconciliation core.
const (
	EventTypePreparationStarted   = "preparation.started"
	EventTypePreparationCompleted = "preparation.completed"
	EventTypePreparationFailed    = "preparation.failed"
	EventTypeStatesCollected      = "states.collected"
	EventTypeStateInconsistent    = "state.inconsistent"
	EventTypeVMScheduledDeletion  = "vm.scheduled_for_deletion"
	EventTypeInstanceRenamed      = "instance.renamed"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered to a subscriber.
type EventFilter func(event Event) bool

// EventPublisher delivers reconciliation events to subscribers
// synchronously, in registration order.
type EventPublisher struct {
	config      EventsConfig
	mu          sync.RWMutex
	subscribers []subscriberEntry
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{config: cfg}
}

// Publish publishes an event to all subscribers. A nil publisher drops the
// event.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.deliverEvent(event)
	return nil
}

// PublishInconsistency publishes a verification failure for a VM.
func (ep *EventPublisher) PublishInconsistency(deployment, vmCID, kind, message string) error {
	return ep.Publish(Event{
		Type:       EventTypeStateInconsistent,
		Source:     "collector",
		Deployment: deployment,
		Resource:   vmCID,
		Message:    message,
		Level:      EventLevelWarning,
		Data: map[string]interface{}{
			"kind": kind,
		},
	})
}

// PublishVMScheduledForDeletion publishes an orphan VM reap.
func (ep *EventPublisher) PublishVMScheduledForDeletion(deployment, vmCID string) error {
	return ep.Publish(Event{
		Type:       EventTypeVMScheduledDeletion,
		Source:     "reaper",
		Deployment: deployment,
		Resource:   vmCID,
		Message:    fmt.Sprintf("orphan vm %s scheduled for deletion", vmCID),
	})
}

// PublishInstanceRenamed publishes a job rename applied to one instance.
func (ep *EventPublisher) PublishInstanceRenamed(deployment, instance, oldName, newName string) error {
	return ep.Publish(Event{
		Type:       EventTypeInstanceRenamed,
		Source:     "rename",
		Deployment: deployment,
		Resource:   instance,
		Message:    fmt.Sprintf("instance %s renamed from %s to %s", instance, oldName, newName),
		Data: map[string]interface{}{
			"old_name": oldName,
			"new_name": newName,
		},
	})
}

// PublishStatesCollected publishes the outcome of a state collection.
func (ep *EventPublisher) PublishStatesCollected(deployment string, collected, failed int) error {
	level := EventLevelInfo
	if failed > 0 {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:       EventTypeStatesCollected,
		Source:     "collector",
		Deployment: deployment,
		Message:    fmt.Sprintf("collected %d states, %d failed", collected, failed),
		Level:      level,
		Data: map[string]interface{}{
			"collected": collected,
			"failed":    failed,
		},
	})
}

// PublishPreparation publishes a preparation lifecycle event.
func (ep *EventPublisher) PublishPreparation(eventType, deployment, message string) error {
	level := EventLevelInfo
	if eventType == EventTypePreparationFailed {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:       eventType,
		Source:     "assembler",
		Deployment: deployment,
		Message:    message,
		Level:      level,
	})
}

// Subscribe registers a subscriber with an optional filter.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// deliverEvent delivers an event to all subscribers in registration order.
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

// Common event filters.

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

// FilterByDeployment creates a filter that only allows events for one deployment.
func FilterByDeployment(deployment string) EventFilter {
	return func(event Event) bool {
		return event.Deployment == deployment
	}
}

// AllOf creates a filter that passes events accepted by every filter.
func AllOf(filters ...EventFilter) EventFilter {
	return func(event Event) bool {
		for _, f := range filters {
			if !f(event) {
				return false
			}
		}
		return true
	}
}
