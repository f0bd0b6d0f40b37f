/*
events.go - Typed domain events

PURPOSE:
  Every state transition emits one event on an explicit typed channel. The
  notification collaborator subscribes and handles delivery (email, push);
  this core only guarantees emission, in transition order per request.
*/
package leave

import (
	"sync"
	"time"
)

type EventType string

const (
	EventSubmitted         EventType = "leave.submitted"
	EventApproved          EventType = "leave.approved"
	EventApprovedWithConds EventType = "leave.approved_conditional"
	EventConditionAccepted EventType = "leave.condition_accepted"
	EventConditionDeclined EventType = "leave.condition_declined"
	EventRejected          EventType = "leave.rejected"
	EventCancelled         EventType = "leave.cancelled"
	EventRevoked           EventType = "leave.revoked"
	EventRecalled          EventType = "leave.recalled"
	EventReopened          EventType = "leave.reopened"
	EventExpired           EventType = "leave.expired"
	EventDeleted           EventType = "leave.deleted"
)

// Event is one state transition, emitted after the transition is durably
// recorded (never before, so subscribers never see a state that later
// rolled back).
type Event struct {
	Type       EventType
	RequestID  string
	EmployeeID string
	Actor      string
	At         time.Time
}

// Bus fans events out to subscribers. Subscriber channels are buffered and
// delivery is best-effort: a subscriber that stops draining loses events
// instead of blocking publishers (a state transition must never wait on a
// notification consumer).
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. cancel removes it and closes the
// channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber whose buffer has room.
// Never blocks: a full buffer drops the event for that subscriber only.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
