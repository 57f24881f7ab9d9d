package push

import (
	"sync"
)

// Memory is an in-process Channel. Messages published while nobody is
// connected are dropped, like a real transport would.
type Memory struct {
	*dispatcher

	mu          sync.Mutex
	connections int
	online      bool
}

func NewMemory() *Memory {
	return &Memory{dispatcher: newDispatcher()}
}

func (m *Memory) Connect() error {
	m.mu.Lock()
	m.connections++
	first := m.connections == 1
	if first {
		m.online = true
	}
	m.mu.Unlock()

	if first {
		m.notify(Status{Category: Connected})
	}
	return nil
}

func (m *Memory) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connections == 0 {
		return
	}
	m.connections--
	if m.connections == 0 {
		m.online = false
	}
}

func (m *Memory) Subscribe(topic string, h Handler) Token {
	return m.subscribe(topic, h)
}

func (m *Memory) Unsubscribe(t Token) {
	m.unsubscribe(t)
}

func (m *Memory) OnStatus(h StatusHandler) Token {
	return m.onStatus(h)
}

// Publish delivers payload to every handler of topic and returns how many ran.
func (m *Memory) Publish(topic string, payload []byte) int {
	m.mu.Lock()
	online := m.online
	m.mu.Unlock()
	if !online {
		return 0
	}
	return m.dispatch(topic, payload)
}

// Drop simulates a transport failure.
func (m *Memory) Drop(err error) {
	m.mu.Lock()
	m.online = false
	m.mu.Unlock()
	m.notify(Status{Category: Disconnected, Err: err})
}

// Restore simulates a successful reconnection after Drop.
func (m *Memory) Restore() {
	m.mu.Lock()
	m.online = m.connections > 0
	online := m.online
	m.mu.Unlock()
	if online {
		m.notify(Status{Category: Reconnected})
	}
}

func (m *Memory) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections
}

// Registrations is the number of live handler registrations.
func (m *Memory) Registrations() int {
	return m.size()
}
