package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aeolun/tcpchat/pkg/protocol"
	"github.com/gorilla/websocket"
)

const wsCloseGrace = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are chat programs, not browsers on someone else's page
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleWebSocket upgrades the request and carries the CHAT/1.0 byte stream
// over WebSocket messages. Inbound messages are chunks: a frame may span
// several of them, or one may hold several frames.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		debugLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// One WebSocket message may carry at most one maximal frame; gorilla
	// rejects longer messages from the frame header, before reading them
	conn.SetReadLimit(int64(s.engine.limits.MaxFrameBytes()))

	transport := &wsConn{conn: conn}
	c := s.engine.NewConnection(TransportWebSocket, r.RemoteAddr, transport)
	if !s.engine.Open(c) {
		transport.Close()
		return
	}

	go s.wsReadLoop(c, conn)
}

func (s *Server) wsReadLoop(c *Connection, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				err = fmt.Errorf("%w: websocket message over %d bytes", protocol.ErrFrameTooLarge, s.engine.limits.MaxFrameBytes())
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				err = io.EOF
			}
			s.engine.Disconnect(c, err)
			return
		}
		if !s.engine.Receive(c, data) {
			return
		}
	}
}
