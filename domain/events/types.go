package events

// EntityEventType represents the type of entity event
type EntityEventType string

const (
	EventTypeCreated EntityEventType = "entity.created"
	EventTypeUpdated EntityEventType = "entity.updated"
	EventTypeDeleted EntityEventType = "entity.deleted"
	EventTypeBatch   EntityEventType = "entity.batch"
)

// EntityType represents the kind of entity an event describes. Job and
// WebhookDelivery are the two entities the ingestion core itself publishes
// events for; Document is kept for upstream callers submitting jobs against
// document records.
type EntityType string

const (
	EntityDocument        EntityType = "document"
	EntityJob             EntityType = "job"
	EntityWebhookDelivery EntityType = "webhook_delivery"

	// EntityChunk is a sub-fragment of a parsed document, such as one page or
	// one extracted passage, for callers that subscribe at finer granularity
	// than a whole Job.
	EntityChunk EntityType = "chunk"

	// EntityGraphObject is a structured object extracted from a document
	// (property, inspector, finding) that callers may react to individually.
	EntityGraphObject EntityType = "graph_object"
)

// Processing stage event names, carried in EntityEvent.Data["event"] for
// EntityJob events so subscribers (notably the webhook dispatcher) can
// distinguish started/progress/completed/failed without a new EntityEventType.
const (
	StageEventStarted   = "processing.started"
	StageEventProgress  = "processing.progress"
	StageEventCompleted = "processing.completed"
	StageEventFailed    = "processing.failed"
)

// ActorType represents the type of actor making a change
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAgent  ActorType = "agent"
	ActorSystem ActorType = "system"
)

// ActorContext tracks who made the change (for loop prevention in reaction agents)
type ActorContext struct {
	ActorType ActorType `json:"actorType"`
	ActorID   string    `json:"actorId,omitempty"`
}

// EntityEvent is the payload delivered to every subscriber of a topic.
type EntityEvent struct {
	Type       EntityEventType `json:"type"`
	Entity     EntityType      `json:"entity"`
	ID         *string         `json:"id"` // nil for batch events
	IDs        []string        `json:"ids,omitempty"`
	ProjectID  string          `json:"projectId"`
	Data       map[string]any  `json:"data,omitempty"`
	Timestamp  string          `json:"timestamp"`
	Actor      *ActorContext   `json:"actor,omitempty"`
	Version    *int            `json:"version,omitempty"`    // for graph objects
	ObjectType string          `json:"objectType,omitempty"` // for graph objects
}

// EmitOptions are optional parameters for emitting events
type EmitOptions struct {
	Data       map[string]any
	Actor      *ActorContext
	Version    *int
	ObjectType string
}
