package relay

import (
	"errors"
	"sync"
)

type mockConn struct {
	id       string
	identity string
	state    State
	sendErr  error
	received []string
	mu       sync.Mutex
}

func newMockConn(identity string) *mockConn {
	return &mockConn{id: identity + "-conn", identity: identity, state: StateOpen}
}

func (m *mockConn) ID() string       { return m.id }
func (m *mockConn) Identity() string { return m.identity }

func (m *mockConn) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockConn) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

func (m *mockConn) Send(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, text)
	return nil
}

func (m *mockConn) getReceived() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.received...)
}

var errBrokenPipe = errors.New("broken pipe")
