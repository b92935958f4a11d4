package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/aeolun/tcpchat/pkg/protocol"
)

const (
	eventQueueSize = 1024
	readBufferSize = 4096
)

type eventKind uint8

const (
	eventData eventKind = iota
	eventClose
)

type event struct {
	kind eventKind
	conn *Connection
	data []byte
	err  error
}

// Limits bounds per-connection memory
type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int
	OutboundQueue  int
}

// MaxFrameBytes is the size of the largest frame the decoder will accept
func (l Limits) MaxFrameBytes() int {
	header, body := l.MaxHeaderBytes, l.MaxBodyBytes
	if header <= 0 {
		header = protocol.DefaultMaxHeaderSize
	}
	if body <= 0 {
		body = protocol.DefaultMaxBodySize
	}
	return header + len("\r\n\r\n") + body
}

// Engine runs the protocol. One goroutine (Run) owns every Connection's
// state: transport readers post chunks as events, the engine decodes,
// dispatches and queues replies to completion before taking the next event.
type Engine struct {
	registry        *Registry
	auth            *Authenticator
	metrics         *Metrics
	limits          Limits
	uniqueUsernames bool

	events chan event

	// Guards registration against shutdown
	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewEngine creates an engine from the server config
func NewEngine(config ServerConfig, metrics *Metrics) (*Engine, error) {
	auth, err := NewAuthenticator(config.AuthToken, config.AuthTokenHash)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Engine{
		registry:        NewRegistry(),
		auth:            auth,
		metrics:         metrics,
		limits:          config.Limits,
		uniqueUsernames: config.UniqueUsernames,
		events:          make(chan event, eventQueueSize),
		done:            make(chan struct{}),
	}, nil
}

// Registry returns the engine's connection registry
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Run processes events until ctx is cancelled, then closes every connection.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.stop()
			return nil
		case ev := <-e.events:
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) handleEvent(ev event) {
	switch ev.kind {
	case eventData:
		e.process(ev.conn, ev.data)
	case eventClose:
		if !e.closeConnection(ev.conn) {
			return
		}
		switch {
		case errors.Is(ev.err, protocol.ErrFrameTooLarge):
			e.metrics.RecordProtocolError(errKindFrameTooLarge)
			errorLog.Printf("Connection %s: %v", ev.conn, ev.err)
		case ev.err == nil, errors.Is(ev.err, io.EOF), errors.Is(ev.err, net.ErrClosed):
			debugLog.Printf("Connection %s: client disconnected", ev.conn)
		default:
			errorLog.Printf("Connection %s: read error: %v", ev.conn, ev.err)
		}
	}
}

// NewConnection creates the protocol state for a freshly accepted transport.
// Hand it to Open before posting data for it.
func (e *Engine) NewConnection(kind, remoteAddr string, transport Transport) *Connection {
	return newConnection(kind, remoteAddr, transport, e.limits)
}

// Open registers c and starts its writer. It returns false if the engine
// has stopped, in which case the caller closes the transport itself.
func (e *Engine) Open(c *Connection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return false
	}
	e.open(c)
	go c.writeLoop()
	return true
}

// Receive posts a chunk read from c's transport. It returns false if the
// engine has stopped and the reader should give up.
func (e *Engine) Receive(c *Connection, chunk []byte) bool {
	return e.post(event{kind: eventData, conn: c, data: chunk})
}

// Disconnect reports that c's transport reached end of stream or failed.
func (e *Engine) Disconnect(c *Connection, err error) {
	e.post(event{kind: eventClose, conn: c, err: err})
}

func (e *Engine) post(ev event) bool {
	select {
	case <-e.done:
		return false
	default:
	}

	select {
	case e.events <- ev:
		return true
	case <-e.done:
		return false
	}
}

// serveStream feeds a byte stream into the engine until it ends
func (e *Engine) serveStream(c *Connection, r io.Reader) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !e.Receive(c, chunk) {
				return
			}
		}
		if err != nil {
			e.Disconnect(c, err)
			return
		}
	}
}

func (e *Engine) open(c *Connection) {
	e.registry.Register(c)
	e.metrics.RecordConnectionOpened(c.Kind)
	debugLog.Printf("New %s connection %s from %s", c.Kind, c.ID, c.RemoteAddr)
}

// process feeds one chunk to c's decoder and dispatches every message it
// completes, in order. A framing fault closes the connection after the
// messages decoded before it have been handled.
func (e *Engine) process(c *Connection, chunk []byte) {
	if c.closed {
		return
	}

	msgs, decodeErr := c.decoder.Feed(chunk)
	for _, msg := range msgs {
		if c.closed {
			return
		}
		e.dispatch(c, msg)
	}

	if decodeErr != nil && !c.closed {
		e.metrics.RecordProtocolError(protocolErrorKind(decodeErr))
		errorLog.Printf("Connection %s: %v", c, decodeErr)
		e.closeConnection(c)
	}
}

func protocolErrorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrHeaderTooLarge):
		return errKindHeaderTooLarge
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return errKindFrameTooLarge
	default:
		return errKindSyntax
	}
}

// closeConnection removes c from the registry and stops its writer once the
// queue has drained. It reports whether this call did the closing.
func (e *Engine) closeConnection(c *Connection) bool {
	wasJoined := c.Joined()
	if !c.shutdown() {
		return false
	}
	if wasJoined {
		e.metrics.RecordLeft()
	}
	if e.registry.Unregister(c) {
		e.metrics.RecordConnectionClosed()
	}
	return true
}

// dropConnection closes c without waiting for its writer to drain. The
// writer may be blocked on a peer that stopped reading, so the transport is
// closed underneath it.
func (e *Engine) dropConnection(c *Connection) {
	if e.closeConnection(c) {
		go c.transport.Close()
	}
}

// stop refuses new connections and closes the registered ones. Anything a
// reader posts afterwards is dropped.
func (e *Engine) stop() {
	e.mu.Lock()
	e.stopped = true
	close(e.done)
	e.mu.Unlock()

	e.closeAll()
}

func (e *Engine) closeAll() {
	conns := e.registry.All()
	for _, c := range conns {
		e.closeConnection(c)
	}
	if len(conns) > 0 {
		debugLog.Printf("Closed %d connections on shutdown", len(conns))
	}
}
