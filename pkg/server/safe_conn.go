package server

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SafeConn adapts a byte stream (a net.Conn or an SSH channel) to Transport.
//
// The writer goroutine is the only caller of WriteFrame in normal operation.
// Close can be reached from both the writer and a failed reader, so it runs
// once.
type SafeConn struct {
	conn      io.ReadWriteCloser
	mu        sync.Mutex // Protects writes to conn
	closeOnce sync.Once
	closeErr  error
}

// NewSafeConn wraps a stream
func NewSafeConn(conn io.ReadWriteCloser) *SafeConn {
	return &SafeConn{
		conn: conn,
	}
}

// WriteFrame writes one pre-encoded frame
func (sc *SafeConn) WriteFrame(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, err := sc.conn.Write(data)
	return err
}

// Read reads from the underlying stream. Reads don't need write synchronization.
func (sc *SafeConn) Read(p []byte) (int, error) {
	return sc.conn.Read(p)
}

// Close closes the underlying stream once
func (sc *SafeConn) Close() error {
	sc.closeOnce.Do(func() {
		sc.closeErr = sc.conn.Close()
	})
	return sc.closeErr
}

// wsConn adapts a WebSocket to Transport. Every frame goes out as one binary
// message.
type wsConn struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

func (w *wsConn) WriteFrame(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsCloseGrace))
		err = w.conn.Close()
	})
	return err
}
