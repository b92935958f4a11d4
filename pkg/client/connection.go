package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/tcpchat/pkg/protocol"
	"github.com/gorilla/websocket"
)

const (
	// DefaultResponseTimeout bounds how long Auth, Join and Leave wait for
	// the server's OK or ERROR
	DefaultResponseTimeout = 10 * time.Second

	readBufferSize = 4096
	wsCloseGrace   = time.Second
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrResponseTimeout  = errors.New("timeout waiting for response")
)

// ServerError is an ERROR response to one of our requests
type ServerError struct {
	Verb   string // Request the server rejected
	Reason string // Error header
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected %s: %s", e.Verb, e.Reason)
}

// transport moves raw bytes; framing is the decoder's job
type transport interface {
	read() ([]byte, error)
	write([]byte) error
	close() error
}

// Connection is a CHAT/1.0 client connection.
//
// A single read loop decodes every frame the server sends. OK and ERROR
// replies to AUTH, JOIN and LEAVE go to an internal response channel that
// the blocking calls wait on. MESSAGE frames go to Messages. An ERROR for
// SEND has no caller waiting for it and is reported on Errors instead.
type Connection struct {
	addr           string
	connectionType string // "tcp" or "websocket"
	transport      transport
	decoder        *protocol.Decoder
	timeout        time.Duration
	logger         *log.Logger

	sendMu sync.Mutex

	// Request/response: one outstanding request at a time
	requestMu sync.Mutex
	responses chan *protocol.Message

	incoming chan *protocol.Message
	errors   chan error

	mu       sync.RWMutex
	closed   bool
	readErr  error
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// Dial connects to addr. A ws:// or wss:// URL selects the WebSocket
// transport; anything else is a host:port for raw TCP.
func Dial(ctx context.Context, addr string) (*Connection, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return DialWebSocket(ctx, addr)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	return newConnection(addr, "tcp", &streamTransport{conn: conn, buf: make([]byte, readBufferSize)}), nil
}

// DialWebSocket connects to a server's /ws endpoint, e.g. ws://host:8080/ws
func DialWebSocket(ctx context.Context, url string) (*Connection, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultResponseTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return newConnection(url, "websocket", &wsTransport{conn: conn}), nil
}

func newConnection(addr, connectionType string, t transport) *Connection {
	c := &Connection{
		addr:           addr,
		connectionType: connectionType,
		transport:      t,
		decoder:        protocol.NewDecoder(0, 0),
		timeout:        DefaultResponseTimeout,
		responses:      make(chan *protocol.Message, 10),
		incoming:       make(chan *protocol.Message, 100),
		errors:         make(chan error, 10),
		shutdown:       make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()
	return c
}

// SetLogger enables debug logging of every frame sent and received
func (c *Connection) SetLogger(logger *log.Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// SetTimeout changes how long requests wait for their response
func (c *Connection) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

func (c *Connection) logf(format string, args ...interface{}) {
	c.mu.RLock()
	logger := c.logger
	c.mu.RUnlock()
	if logger != nil {
		logger.Printf(format, args...)
	}
}

// Auth authenticates as user with the shared token
func (c *Connection) Auth(user, token string) error {
	req := protocol.NewRequest(protocol.VerbAuth).
		WithHeader(protocol.HeaderUser, user).
		WithHeader(protocol.HeaderToken, token)
	_, err := c.request(req)
	return err
}

// Join enters the chat room
func (c *Connection) Join() error {
	_, err := c.request(protocol.NewRequest(protocol.VerbJoin))
	return err
}

// Leave exits the chat room. The server closes the connection after
// acknowledging it.
func (c *Connection) Leave() error {
	_, err := c.request(protocol.NewRequest(protocol.VerbLeave))
	return err
}

// Send posts text to the room. Success is silent; a rejection arrives on
// Errors as a *ServerError.
func (c *Connection) Send(text string) error {
	return c.write(protocol.NewRequest(protocol.VerbSend).WithBody([]byte(text)))
}

// Messages delivers MESSAGE frames (chat and server announcements). It is
// closed when the connection ends.
func (c *Connection) Messages() <-chan *protocol.Message {
	return c.incoming
}

// Errors delivers asynchronous failures: rejected SENDs and the read error
// that ended the connection
func (c *Connection) Errors() <-chan error {
	return c.errors
}

// Close shuts the connection down and waits for the read loop to exit
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.shutdown)
	c.mu.Unlock()

	err := c.transport.close()
	c.wg.Wait()
	return err
}

// IsConnected reports whether the read loop is still running
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.readErr == nil
}

// Addr returns the address the connection was dialled with
func (c *Connection) Addr() string {
	return c.addr
}

// ConnectionType returns "tcp" or "websocket"
func (c *Connection) ConnectionType() string {
	return c.connectionType
}

func (c *Connection) write(msg *protocol.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.IsConnected() {
		return ErrConnectionClosed
	}

	c.logf("→ SEND: %s", msg.Verb)
	if err := c.transport.write(msg.Encode()); err != nil {
		return fmt.Errorf("write %s failed: %w", msg.Verb, err)
	}
	return nil
}

// request sends req and waits for the OK or ERROR answering it
func (c *Connection) request(req *protocol.Message) (*protocol.Message, error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	if err := c.write(req); err != nil {
		return nil, err
	}
	return c.waitForResponse(req.Verb)
}

func (c *Connection) waitForResponse(verb string) (*protocol.Message, error) {
	c.mu.RLock()
	timeout := c.timeout
	c.mu.RUnlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case resp, ok := <-c.responses:
			if !ok {
				return nil, c.closeReason()
			}
			// Stale reply to an earlier request that timed out
			if resp.ResponseFor() != verb {
				c.logf("Dropping unexpected %s response for %s", resp.Verb, resp.ResponseFor())
				continue
			}
			if resp.Verb == protocol.StatusError {
				return resp, &ServerError{Verb: verb, Reason: resp.Get(protocol.HeaderError)}
			}
			return resp, nil
		case <-deadline.C:
			return nil, fmt.Errorf("%s: %w", verb, ErrResponseTimeout)
		}
	}
}

func (c *Connection) closeReason() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.readErr != nil && !errors.Is(c.readErr, io.EOF) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, c.readErr)
	}
	return ErrConnectionClosed
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	defer close(c.incoming)
	defer close(c.responses)

	for {
		chunk, err := c.transport.read()
		if err != nil {
			c.endRead(err)
			return
		}

		msgs, decodeErr := c.decoder.Feed(chunk)
		for _, msg := range msgs {
			if !c.dispatch(msg) {
				return
			}
		}
		if decodeErr != nil {
			c.endRead(fmt.Errorf("bad frame from server: %w", decodeErr))
			c.transport.close()
			return
		}
	}
}

// dispatch routes one frame; false means the connection is shutting down
func (c *Connection) dispatch(msg *protocol.Message) bool {
	c.logf("← RECV: %s Response-For=%s", msg.Verb, msg.ResponseFor())

	switch {
	case msg.Verb == protocol.StatusMessage:
		select {
		case c.incoming <- msg:
		case <-c.shutdown:
			return false
		}

	case msg.Verb == protocol.StatusError && msg.ResponseFor() == protocol.VerbSend:
		c.reportError(&ServerError{Verb: protocol.VerbSend, Reason: msg.Get(protocol.HeaderError)})

	case msg.Verb == protocol.StatusOK || msg.Verb == protocol.StatusError:
		select {
		case c.responses <- msg:
		default:
			// Nobody waiting; drop the oldest
			select {
			case <-c.responses:
			default:
			}
			c.responses <- msg
		}

	default:
		c.logf("Ignoring frame with unknown status %q", msg.Verb)
	}
	return true
}

func (c *Connection) endRead(err error) {
	c.mu.Lock()
	closed := c.closed
	c.readErr = err
	c.mu.Unlock()

	if closed {
		return
	}
	if errors.Is(err, io.EOF) {
		c.logf("Connection closed by server (EOF)")
		return
	}
	c.logf("Read error: %v", err)
	c.reportError(fmt.Errorf("read error: %w", err))
}

func (c *Connection) reportError(err error) {
	select {
	case c.errors <- err:
	default:
	}
}

// streamTransport carries the byte stream over TCP
type streamTransport struct {
	conn      net.Conn
	buf       []byte
	closeOnce sync.Once
	closeErr  error
}

func (t *streamTransport) read() ([]byte, error) {
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		return append([]byte(nil), t.buf[:n]...), nil
	}
	return nil, err
}

func (t *streamTransport) write(data []byte) error {
	_, err := t.conn.Write(data)
	return err
}

func (t *streamTransport) close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// wsTransport sends each frame as one binary WebSocket message
type wsTransport struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) read() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) write(data []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) close() error {
	t.closeOnce.Do(func() {
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsCloseGrace))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
