// Package event provides the publish/subscribe bus that services use to
// announce state changes to the UI layer and to each other.
package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event kind.
type Type string

// Conversation events
const (
	TypeMessageAppended Type = "message.appended"
	TypeMessagesReset   Type = "messages.reset"
	TypeTypingChanged   Type = "typing.changed"
	TypeEmotionChanged  Type = "emotion.changed"
	TypePersonaChanged  Type = "persona.changed"
	TypeErrorSet        Type = "error.set"
	TypeErrorCleared    Type = "error.cleared"
	TypeUserSubmitted   Type = "message.submitted"
)

// Audio events
const (
	TypeSpeechState    Type = "speech.state"
	TypeSpeechUsage    Type = "speech.usage"
	TypeEffectPlayed   Type = "effects.played"
	TypeSettingsChange Type = "settings.changed"
	TypeAudioStarted   Type = "audio.started"
	TypeAudioVolume    Type = "audio.volume"
	TypeAudioEnded     Type = "audio.ended"
)

// Event is one notification on the bus.
type Event struct {
	ID   string         `json:"id"`
	Type Type           `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(t Type, data map[string]any) Event {
	return Event{ID: uuid.NewString(), Type: t, Time: time.Now().UTC(), Data: data}
}

// Handler receives events.
type Handler func(Event)

// Publisher is the narrow interface services depend on.
type Publisher interface {
	Publish(Event)
}

type subscription struct {
	id      uint64
	types   map[Type]struct{} // nil means every type
	handler Handler
}

// Bus 是一个简单的同步发布订阅总线，处理器按订阅顺序依次调用。
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers handler for the given types, or for every type when
// none are given. The returned func removes the subscription.
func (b *Bus) Subscribe(handler Handler, types ...Type) func() {
	var filter map[Type]struct{}
	if len(types) > 0 {
		filter = make(map[Type]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, types: filter, handler: handler})
	b.mu.Unlock()

	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every matching handler on the caller's goroutine.
// Handlers must not block; long work belongs in the handler's own goroutine.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.types == nil {
			handlers = append(handlers, s.handler)
			continue
		}
		if _, ok := s.types[ev.Type]; ok {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Recorder keeps published events in memory, for tests and diagnostics.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
