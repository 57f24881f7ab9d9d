// Package push delivers server-side event notifications to mounted views.
package push

import (
	"cmp"
	"slices"
	"sync"
)

// Token identifies one registration made through Subscribe or OnStatus.
type Token uint64

// Handler receives the raw payload of one named message.
type Handler func(topic string, payload []byte)

type Category string

const (
	Connected    Category = "connected"
	Reconnected  Category = "reconnected"
	Disconnected Category = "disconnected"
	Denied       Category = "denied"
	Other        Category = "other"
)

// Status is a change in connectivity of the underlying transport.
type Status struct {
	Category Category
	Err      error
}

// Online reports whether messages can be expected after this status.
func (s Status) Online() bool {
	return s.Category == Connected || s.Category == Reconnected
}

type StatusHandler func(Status)

// Channel is the push transport as seen by a view. Connect and Disconnect bracket
// a view's mounted lifetime and may be called by several views; the transport
// stays up while at least one of them is connected.
type Channel interface {
	Connect() error
	Disconnect()
	Subscribe(topic string, h Handler) Token
	Unsubscribe(t Token)
	OnStatus(h StatusHandler) Token
}

type subscription struct {
	topic string
	h     Handler
}

// dispatcher is the handler table shared by every Channel implementation.
type dispatcher struct {
	mu       sync.RWMutex
	next     Token
	handlers map[Token]subscription
	statuses map[Token]StatusHandler
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		handlers: make(map[Token]subscription),
		statuses: make(map[Token]StatusHandler),
	}
}

func (d *dispatcher) subscribe(topic string, h Handler) Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.handlers[d.next] = subscription{topic: topic, h: h}
	return d.next
}

func (d *dispatcher) onStatus(h StatusHandler) Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.statuses[d.next] = h
	return d.next
}

func (d *dispatcher) unsubscribe(t Token) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, t)
	delete(d.statuses, t)
}

// dispatch runs matching handlers in registration order, outside the lock so a
// handler may unsubscribe itself.
func (d *dispatcher) dispatch(topic string, payload []byte) int {
	d.mu.RLock()
	var matched []tokenHandler
	for t, s := range d.handlers {
		if s.topic == topic {
			matched = append(matched, tokenHandler{t, s.h})
		}
	}
	d.mu.RUnlock()

	slices.SortFunc(matched, func(a, b tokenHandler) int { return cmp.Compare(a.t, b.t) })
	for _, m := range matched {
		m.h(topic, payload)
	}
	return len(matched)
}

func (d *dispatcher) notify(s Status) {
	d.mu.RLock()
	hs := make([]StatusHandler, 0, len(d.statuses))
	for _, h := range d.statuses {
		hs = append(hs, h)
	}
	d.mu.RUnlock()

	for _, h := range hs {
		h(s)
	}
}

func (d *dispatcher) size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers) + len(d.statuses)
}

type tokenHandler struct {
	t Token
	h Handler
}
