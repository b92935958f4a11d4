package client

import (
	"sync"

	"github.com/aeolun/tcpchat/pkg/protocol"
)

// MockConnection is a test implementation of ConnectionInterface
type MockConnection struct {
	mu sync.RWMutex

	connected bool
	address   string
	authErr   error
	joinErr   error
	sendErr   error
	leaveErr  error

	incoming  chan *protocol.Message
	errors    chan error
	closeOnce sync.Once

	// Recorded calls for verification
	User     string
	Token    string
	Joined   bool
	Left     bool
	Sent     []string
	Requests []string // Verbs in call order
}

// NewMockConnection creates a connected mock
func NewMockConnection(address string) *MockConnection {
	return &MockConnection{
		connected: true,
		address:   address,
		incoming:  make(chan *protocol.Message, 100),
		errors:    make(chan error, 10),
	}
}

func (m *MockConnection) Auth(user, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, protocol.VerbAuth)
	if m.authErr != nil {
		return m.authErr
	}
	m.User, m.Token = user, token
	return nil
}

func (m *MockConnection) Join() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, protocol.VerbJoin)
	if m.joinErr != nil {
		return m.joinErr
	}
	m.Joined = true
	return nil
}

func (m *MockConnection) Send(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, protocol.VerbSend)
	if m.sendErr != nil {
		return m.sendErr
	}
	m.Sent = append(m.Sent, text)
	return nil
}

func (m *MockConnection) Leave() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, protocol.VerbLeave)
	if m.leaveErr != nil {
		return m.leaveErr
	}
	m.Left = true
	m.Joined = false
	return nil
}

// Close marks the mock disconnected and closes its channels
func (m *MockConnection) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.closeOnce.Do(func() {
		close(m.incoming)
		close(m.errors)
	})
	return nil
}

func (m *MockConnection) Messages() <-chan *protocol.Message {
	return m.incoming
}

func (m *MockConnection) Errors() <-chan error {
	return m.errors
}

func (m *MockConnection) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MockConnection) Addr() string {
	return m.address
}

// ConnectionType is always "tcp" for the mock
func (m *MockConnection) ConnectionType() string {
	return "tcp"
}

// Test helpers

// SetAuthError sets an error to return from Auth()
func (m *MockConnection) SetAuthError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authErr = err
}

// SetJoinError sets an error to return from Join()
func (m *MockConnection) SetJoinError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinErr = err
}

// SetSendError sets an error to return from Send()
func (m *MockConnection) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetLeaveError sets an error to return from Leave()
func (m *MockConnection) SetLeaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveErr = err
}

// SimulateIncoming delivers msg on the Messages channel
func (m *MockConnection) SimulateIncoming(msg *protocol.Message) {
	m.incoming <- msg
}

// SimulateError delivers err on the Errors channel
func (m *MockConnection) SimulateError(err error) {
	m.errors <- err
}

// SentTexts returns a copy of every SEND body so far
func (m *MockConnection) SentTexts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.Sent...)
}
