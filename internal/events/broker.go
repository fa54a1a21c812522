// Package events provides the in-process pub/sub broker that surfaces run
// progress to observers such as the WebSocket gateway.
package events

import (
	"sync"
	"time"
)

// Type classifies run events.
type Type string

const (
	RunStarted   Type = "run.started"
	RunFinished  Type = "run.finished"
	RunFailed    Type = "run.failed"
	RoundStarted Type = "round.started"
	TurnDecided  Type = "turn.decided"
	PlanUpdated  Type = "plan.updated"
	Stalled      Type = "run.stalled"
	Replanned    Type = "run.replanned"
	Delegated    Type = "turn.delegated"
	WorkerReply  Type = "worker.reply"
)

// Event is a single run progress notification.
type Event struct {
	Type       Type      `json:"type"`
	RunID      string    `json:"run_id"`
	Turn       int       `json:"turn,omitempty"`
	Speaker    string    `json:"speaker,omitempty"`
	Evaluation int       `json:"evaluation,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Time       time.Time `json:"time"`
}

const subscriberBuffer = 64

// Broker fans events out to subscribers. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the run.
// A nil *Broker is valid and drops everything.
type Broker struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers the event to all subscribers, stamping Time if unset.
func (b *Broker) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default: // Slow subscriber: drop.
		}
	}
}
