package core

import (
	"strings"
	"sync"
)

const EventReady = "ready"

// AddWebhookEvent names the lifecycle event emitted when the hub confirms a
// subscribe challenge for a topic. Event names are the listener's external
// contract; callers key their handlers on them.
func AddWebhookEvent(topic string) string {
	return "add_webhook_" + strings.TrimSpace(topic)
}

// RemoveWebhookEvent names the lifecycle event emitted when the hub confirms
// an unsubscribe challenge for a topic.
func RemoveWebhookEvent(topic string) string {
	return "remove_webhook_" + strings.TrimSpace(topic)
}

type Event struct {
	Name    string
	Payload any
}

type EventHandler func(Event)

// EventSink is the publishing half of the emitter, what the router and
// coordinator depend on.
type EventSink interface {
	Emit(name string, payload any)
}

type registration struct {
	id      uint64
	handler EventHandler
}

// Emitter is a process-local named event bus. Handlers run synchronously in
// the emitting goroutine, in registration order.
type Emitter struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]registration
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: map[string][]registration{}}
}

// On registers a handler for the named event and returns a function that
// removes it again. Removal is by registration identity, so unsubscribing
// one handler never shifts another handler's removal target.
func (e *Emitter) On(name string, handler EventHandler) func() {
	if e == nil || handler == nil {
		return func() {}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return func() {}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = map[string][]registration{}
	}
	e.nextID++
	id := e.nextID
	e.handlers[name] = append(e.handlers[name], registration{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			registered := e.handlers[name]
			for i, reg := range registered {
				if reg.id == id {
					e.handlers[name] = append(registered[:i:i], registered[i+1:]...)
					return
				}
			}
		})
	}
}

func (e *Emitter) Emit(name string, payload any) {
	if e == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	e.mu.RLock()
	registered := append([]registration(nil), e.handlers[name]...)
	e.mu.RUnlock()

	event := Event{Name: name, Payload: payload}
	for _, reg := range registered {
		if reg.handler == nil {
			continue
		}
		reg.handler(event)
	}
}
