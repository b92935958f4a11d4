package server

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/aeolun/tcpchat/pkg/protocol"
	"github.com/google/uuid"
)

// Transport kinds, used as the "transport" metric label
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
	TransportSSH       = "ssh"
)

// DefaultOutboundQueue is the number of encoded frames a connection may have
// waiting for its writer before it is considered failed
const DefaultOutboundQueue = 256

// ErrOutboundQueueFull is returned when a peer is not draining its frames
var ErrOutboundQueueFull = errors.New("outbound queue full")

// Transport is the write side of whatever carries a connection's byte
// stream. Each call delivers one encoded frame.
type Transport interface {
	WriteFrame(data []byte) error
	Close() error
}

// Connection is the protocol state of one accepted transport.
//
// All fields except joined are owned by the engine goroutine. joined is read
// by the HTTP health handler through the registry, so it is atomic.
type Connection struct {
	ID         string
	Kind       string
	RemoteAddr string

	decoder   *protocol.Decoder
	transport Transport
	outbound  chan []byte

	authenticated bool
	username      string
	joined        atomic.Bool
	closed        bool
}

func newConnection(kind, remoteAddr string, transport Transport, limits Limits) *Connection {
	queue := limits.OutboundQueue
	if queue <= 0 {
		queue = DefaultOutboundQueue
	}
	return &Connection{
		ID:         uuid.NewString(),
		Kind:       kind,
		RemoteAddr: remoteAddr,
		decoder:    protocol.NewDecoder(limits.MaxHeaderBytes, limits.MaxBodyBytes),
		transport:  transport,
		outbound:   make(chan []byte, queue),
	}
}

// Username returns the name given at AUTH, or "" before that
func (c *Connection) Username() string {
	return c.username
}

// Authenticated reports whether AUTH succeeded on this connection
func (c *Connection) Authenticated() bool {
	return c.authenticated
}

// Joined reports whether the connection is a member of the room
func (c *Connection) Joined() bool {
	return c.joined.Load()
}

func (c *Connection) String() string {
	if c.username != "" {
		return fmt.Sprintf("%s/%s (%s)", c.Kind, c.ID, c.username)
	}
	return fmt.Sprintf("%s/%s", c.Kind, c.ID)
}

// enqueue hands an encoded frame to the writer without blocking
func (c *Connection) enqueue(data []byte) error {
	if c.closed {
		return fmt.Errorf("connection %s: write after close", c.ID)
	}
	select {
	case c.outbound <- data:
		return nil
	default:
		return fmt.Errorf("connection %s: %w", c.ID, ErrOutboundQueueFull)
	}
}

// shutdown marks the connection closed and lets the writer drain what is
// already queued before it closes the transport. Safe to call more than once.
func (c *Connection) shutdown() bool {
	if c.closed {
		return false
	}
	c.closed = true
	c.joined.Store(false)
	close(c.outbound)
	return true
}

// writeLoop sends queued frames until the queue is closed, then closes the
// transport so the reader side unblocks.
func (c *Connection) writeLoop() {
	defer c.transport.Close()

	for data := range c.outbound {
		if err := c.transport.WriteFrame(data); err != nil {
			debugLog.Printf("Connection %s/%s: write error: %v", c.Kind, c.ID, err)
			return
		}
	}
}
