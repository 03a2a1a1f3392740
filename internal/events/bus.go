// Package events carries the engine's change-notification stream. Events
// use the CloudEvents 1.0 envelope; the in-process bus feeds live websocket
// subscribers, and the optional Pub/Sub bus adds durable cross-service
// fan-out. The core never reads these events back.
package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the engine.
const (
	TypeGlobalWhitelistChanged = "payment.whitelist.global.changed"
	TypePaymentSettled         = "payment.request.settled"
	TypePaymentRejected        = "payment.request.rejected"
	TypeAllowanceChanged       = "payment.allowance.changed"
)

// Source is the CloudEvents source URI for this engine.
const Source = "/subpay/engine"

// Emitter is the interface services publish through. Both Bus and PubSubBus
// satisfy it; a nil-safe NopEmitter exists for wiring without observers.
type Emitter interface {
	Emit(eventType, subject string, data map[string]interface{})
}

// Event is the CloudEvents 1.0 envelope.
type Event struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// New builds a CloudEvents 1.0 compliant event with a fresh UUID.
func New(eventType, subject string, data map[string]interface{}) *Event {
	return &Event{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      Source,
		ID:          uuid.NewString(),
		Time:        time.Now().UTC(),
		Subject:     subject,
		Data:        data,
	}
}

// JSON serializes the event.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Bus is the in-process pub/sub bus. Subscribers receive events on buffered
// channels; a full channel drops the event rather than blocking a publisher.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]chan *Event // event type -> channels
	allSubs    []chan *Event
	bufferSize int
	logger     *log.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[string][]chan *Event),
		bufferSize: 100,
		logger:     log.New(log.Writer(), "[Events] ", log.LstdFlags),
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when no type is named.
func (b *Bus) Subscribe(eventTypes ...string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufferSize)
	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
		return ch
	}
	for _, et := range eventTypes {
		b.subs[et] = append(b.subs[et], ch)
	}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.subs {
		b.subs[et] = without(subs, ch)
	}
	b.allSubs = without(b.allSubs, ch)
	close(ch)
}

func without(subs []chan *Event, drop chan *Event) []chan *Event {
	kept := subs[:0]
	for _, s := range subs {
		if s != drop {
			kept = append(kept, s)
		}
	}
	return kept
}

// Publish delivers an event to all matching subscribers.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[event.Type] {
		select {
		case ch <- event:
		default: // subscriber lagging, drop
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit creates and publishes an event.
func (b *Bus) Emit(eventType, subject string, data map[string]interface{}) {
	b.Publish(New(eventType, subject, data))
}

// SubscriberCount returns the number of active subscription channels.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.allSubs)
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) Emit(string, string, map[string]interface{}) {}
