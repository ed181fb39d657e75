package events

import (
	"sync"

	"go.uber.org/zap"
)

// MutationKind labels what happened to a node.
type MutationKind string

const (
	Created MutationKind = "CREATED"
	Updated MutationKind = "UPDATED"
	Deleted MutationKind = "DELETED"
)

// ChangeEvent is one per-node change notification. Batch mutations never
// produce these.
type ChangeEvent struct {
	Mutation MutationKind           `json:"mutation"`
	TypeName string                 `json:"type"`
	NodeID   string                 `json:"nodeId"`
	Node     map[string]interface{} `json:"node,omitempty"`

	// PreviousValues carries the pre-update scalar values for UPDATED
	// events and the final values for DELETED events.
	PreviousValues map[string]interface{} `json:"previousValues,omitempty"`
}

// Subscription is one listener on a single node type.
type Subscription struct {
	id       int
	typeName string
	C        chan ChangeEvent
}

// Bus fans change events out to per-type subscribers. Delivery is
// best-effort: a subscriber that stops draining its channel loses events
// rather than stalling mutations.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	logger *zap.SugaredLogger
}

func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		subs:   make(map[int]*Subscription),
		logger: logger,
	}
}

// Subscribe registers a listener for changes to one node type.
func (b *Bus) Subscribe(typeName string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:       b.nextID,
		typeName: typeName,
		C:        make(chan ChangeEvent, 64),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.C)
	}
}

// Publish delivers an event to every subscriber of its type.
func (b *Bus) Publish(ev ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.typeName != ev.TypeName {
			continue
		}
		select {
		case sub.C <- ev:
		default:
			if b.logger != nil {
				b.logger.Warnw("Dropping change event for slow subscriber",
					"type", ev.TypeName, "mutation", ev.Mutation)
			}
		}
	}
}
