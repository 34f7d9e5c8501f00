package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clarityinspect/ingestcore/pkg/logger"
	"github.com/clarityinspect/ingestcore/pkg/metrics"
)

// defaultSubscriberQueueSize bounds the per-subscriber delivery queue. When a
// subscriber falls behind, Emit drops the oldest queued event rather than
// blocking the publisher.
const defaultSubscriberQueueSize = 256

// Service is an in-process topic-based publisher. Topics are project IDs;
// every SPEC_FULL.md component (ingestion pipeline, dispatcher, scheduler)
// that wants to observe events for a given tenant subscribes under that
// tenant's project ID. Delivery to each subscriber runs on its own goroutine,
// separate from the publisher, so a slow handler never blocks Emit.
type Service struct {
	log *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[uint64]chan EntityEvent
	nextID      uint64

	dropped atomic.Int64
}

// NewService constructs an empty event bus.
func NewService(log *slog.Logger) *Service {
	return &Service{
		log:         log.With(logger.Scope("events")),
		subscribers: make(map[string]map[uint64]chan EntityEvent),
	}
}

// Subscribe registers callback to receive every event emitted for projectID.
// The returned func removes the subscription; it is safe to call more than
// once.
func (s *Service) Subscribe(projectID string, callback func(EntityEvent)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	queue := make(chan EntityEvent, defaultSubscriberQueueSize)
	if s.subscribers[projectID] == nil {
		s.subscribers[projectID] = make(map[uint64]chan EntityEvent)
	}
	s.subscribers[projectID][id] = queue
	s.mu.Unlock()

	go func() {
		for event := range queue {
			callback(event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			byID, ok := s.subscribers[projectID]
			if !ok {
				return
			}
			if ch, ok := byID[id]; ok {
				delete(byID, id)
				close(ch)
			}
			if len(byID) == 0 {
				delete(s.subscribers, projectID)
			}
		})
	}
}

// GetSubscriberCount returns the number of active subscribers for projectID.
func (s *Service) GetSubscriberCount(projectID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[projectID])
}

// broadcastTopic is a reserved projectID: subscribers registered under it
// receive every event regardless of the event's own ProjectID. The webhook
// dispatcher uses this to watch all tenants through one subscription rather
// than one per tenant.
const broadcastTopic = "*"

// SubscribeAll registers callback to receive every event emitted for any
// project. The returned func removes the subscription.
func (s *Service) SubscribeAll(callback func(EntityEvent)) func() {
	return s.Subscribe(broadcastTopic, callback)
}

// GetTotalSubscriberCount returns the number of active subscribers across
// every project.
func (s *Service) GetTotalSubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, byID := range s.subscribers {
		total += len(byID)
	}
	return total
}

// Emit delivers event to every subscriber of event.ProjectID. Delivery is
// asynchronous and non-blocking: a subscriber whose queue is full has its
// oldest queued event dropped to make room, per the bus's documented
// back-pressure policy.
func (s *Service) Emit(event EntityEvent) {
	s.mu.RLock()
	byID := s.subscribers[event.ProjectID]
	queues := make([]chan EntityEvent, 0, len(byID))
	for _, ch := range byID {
		queues = append(queues, ch)
	}
	if event.ProjectID != broadcastTopic {
		for _, ch := range s.subscribers[broadcastTopic] {
			queues = append(queues, ch)
		}
	}
	s.mu.RUnlock()

	for _, ch := range queues {
		s.enqueue(ch, event)
	}
}

func (s *Service) enqueue(ch chan EntityEvent, event EntityEvent) {
	select {
	case ch <- event:
		return
	default:
	}

	// Queue is full: drop the oldest entry to make room, then retry once.
	select {
	case <-ch:
		s.dropped.Add(1)
		metrics.EventBusDropped.WithLabelValues(event.ProjectID).Inc()
		s.log.Warn("subscriber queue full, dropped oldest event")
	default:
	}

	select {
	case ch <- event:
	default:
		s.dropped.Add(1)
		metrics.EventBusDropped.WithLabelValues(event.ProjectID).Inc()
		s.log.Warn("subscriber queue full, dropped event")
	}
}

// DroppedCount returns the number of events dropped so far due to
// subscribers falling behind their queue bound.
func (s *Service) DroppedCount() int64 {
	return s.dropped.Load()
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func buildEvent(eventType EntityEventType, entity EntityType, id *string, ids []string, projectID string, opts *EmitOptions) EntityEvent {
	event := EntityEvent{
		Type:      eventType,
		Entity:    entity,
		ID:        id,
		IDs:       ids,
		ProjectID: projectID,
		Timestamp: nowRFC3339(),
	}
	if opts != nil {
		event.Data = opts.Data
		event.Actor = opts.Actor
		event.Version = opts.Version
		event.ObjectType = opts.ObjectType
	}
	return event
}

// EmitCreated publishes an entity.created event.
func (s *Service) EmitCreated(entity EntityType, entityID, projectID string, opts *EmitOptions) {
	id := entityID
	s.Emit(buildEvent(EventTypeCreated, entity, &id, nil, projectID, opts))
}

// EmitUpdated publishes an entity.updated event.
func (s *Service) EmitUpdated(entity EntityType, entityID, projectID string, opts *EmitOptions) {
	id := entityID
	s.Emit(buildEvent(EventTypeUpdated, entity, &id, nil, projectID, opts))
}

// EmitDeleted publishes an entity.deleted event.
func (s *Service) EmitDeleted(entity EntityType, entityID, projectID string, opts *EmitOptions) {
	id := entityID
	s.Emit(buildEvent(EventTypeDeleted, entity, &id, nil, projectID, opts))
}

// EmitBatch publishes a single entity.batch event covering multiple IDs.
func (s *Service) EmitBatch(entity EntityType, ids []string, projectID string, data map[string]any) {
	s.Emit(buildEvent(EventTypeBatch, entity, nil, ids, projectID, &EmitOptions{Data: data}))
}
