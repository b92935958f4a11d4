package server

import (
	"sync"

	"github.com/aeolun/tcpchat/pkg/protocol"
	"github.com/samber/lo"
)

// Registry is the set of open connections and the only source of broadcast
// targets. A connection that is not registered is never written to.
//
// Mutations happen on the engine goroutine; the lock exists for the HTTP
// handlers that read counts concurrently.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection // ID -> connection
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// Register adds a connection
func (r *Registry) Register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c.ID] = c
}

// Unregister removes a connection and reports whether it was present.
// Removing an absent connection is a no-op.
func (r *Registry) Unregister(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[c.ID]; !ok {
		return false
	}
	delete(r.connections, c.ID)
	return true
}

// All returns a snapshot of every registered connection
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.connections)
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Joined returns the number of registered connections in the room
func (r *Registry) Joined() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.CountBy(lo.Values(r.connections), (*Connection).Joined)
}

// UsernameTaken reports whether an authenticated connection other than
// except already uses name
func (r *Registry) UsernameTaken(name string, except *Connection) bool {
	return lo.ContainsBy(r.All(), func(c *Connection) bool {
		return c != except && c.authenticated && c.username == name
	})
}

// Broadcast encodes msg once and queues it for every joined connection
// except exclude. The lock is released before any frame is queued.
//
// It returns the number of connections the frame was queued for, and the
// connections whose queue was full. The caller owns closing those.
func (r *Registry) Broadcast(msg *protocol.Message, exclude *Connection) (int, []*Connection) {
	targets := lo.Filter(r.All(), func(c *Connection, _ int) bool {
		return c != exclude && c.Joined()
	})
	if len(targets) == 0 {
		return 0, nil
	}

	data := msg.Encode()

	sent := 0
	var failed []*Connection
	for _, c := range targets {
		if err := c.enqueue(data); err != nil {
			failed = append(failed, c)
			continue
		}
		sent++
	}
	return sent, failed
}
