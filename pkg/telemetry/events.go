package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a pass lifecycle notification.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	PassID    string         `json:"pass_id,omitempty"`
	NodePath  string         `json:"node_path,omitempty"`
	Message   string         `json:"message"`
	Level     string         `json:"level"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event types.
const (
	EventTypePassStarted     = "pass.started"
	EventTypePassCompleted   = "pass.completed"
	EventTypePassFailed      = "pass.failed"
	EventTypeMutation        = "aspect.mutation"
	EventTypeLookupFailed    = "lookup.failed"
	EventTypePolicyViolation = "policy.violation"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans pass events out to subscribers. Subscribers are called
// in publish order, one event at a time. A nil or disabled publisher drops
// every event.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled || !cfg.EnableAsync {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ep.buffer = make(chan Event, cfg.BufferSize)
	ep.wg.Add(1)
	go ep.processEvents()
	return ep, nil
}

// Publish delivers an event to all matching subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.buffer == nil {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, %s dropped", event.Type)
	}
}

// PublishPassStarted publishes a pass started event.
func (ep *EventPublisher) PublishPassStarted(passID string) error {
	return ep.Publish(Event{
		Type:    EventTypePassStarted,
		PassID:  passID,
		Message: fmt.Sprintf("Pass %s started", passID),
	})
}

// PublishPassCompleted publishes a pass completed event.
func (ep *EventPublisher) PublishPassCompleted(passID string, mutations int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypePassCompleted,
		PassID:  passID,
		Message: fmt.Sprintf("Pass %s completed with %d mutations", passID, mutations),
		Data: map[string]any{
			"mutations":   mutations,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// PublishPassFailed publishes a pass failed event.
func (ep *EventPublisher) PublishPassFailed(passID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePassFailed,
		PassID:  passID,
		Level:   EventLevelError,
		Message: fmt.Sprintf("Pass %s failed: %s", passID, reason),
	})
}

// PublishMutation publishes an applied mutation.
func (ep *EventPublisher) PublishMutation(passID, path, key string, oldValue, newValue any) error {
	return ep.Publish(Event{
		Type:     EventTypeMutation,
		PassID:   passID,
		NodePath: path,
		Message:  fmt.Sprintf("%s: %s %v -> %v", path, key, oldValue, newValue),
		Data: map[string]any{
			"key": key,
			"old": oldValue,
			"new": newValue,
		},
	})
}

// PublishLookupFailed publishes a context lookup that did not succeed.
func (ep *EventPublisher) PublishLookupFailed(passID, lookup, outcome, diagnostic string) error {
	return ep.Publish(Event{
		Type:    EventTypeLookupFailed,
		PassID:  passID,
		Level:   EventLevelWarning,
		Message: fmt.Sprintf("Lookup %s: %s", lookup, diagnostic),
		Data: map[string]any{
			"lookup":  lookup,
			"outcome": outcome,
		},
	})
}

// PublishPolicyViolation publishes a policy violation.
func (ep *EventPublisher) PublishPolicyViolation(passID, path, policy, message, severity string) error {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:     EventTypePolicyViolation,
		PassID:   passID,
		NodePath: path,
		Level:    level,
		Message:  fmt.Sprintf("Policy %s: %s", policy, message),
		Data: map[string]any{
			"policy":   policy,
			"severity": severity,
		},
	})
}

// Subscribe adds a subscriber. filter may be nil.
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

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for event := range ep.buffer {
		ep.deliverEvent(event)
	}
}

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

// Shutdown drains buffered events and stops the delivery goroutine. Publishing
// after Shutdown panics.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || ep.buffer == nil {
		return nil
	}
	ep.closeOnce.Do(func() { close(ep.buffer) })

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

var eventLevels = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	min := eventLevels[minLevel]
	return func(event Event) bool {
		return eventLevels[event.Level] >= min
	}
}

// FilterByType passes events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}
