package server

import (
	"context"
	"errors"
	"log"
	"net"
)

// acceptLoop hands every accepted connection to handle on its own goroutine
// until ctx is cancelled. Transient accept errors are logged and skipped.
func (s *Server) acceptLoop(ctx context.Context, kind string, listener net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("%s accept on %s: %v", kind, listener.Addr(), err)
			continue
		}

		go handle(conn)
	}
}

// handleConnection registers a TCP connection and reads it until it ends
func (s *Server) handleConnection(conn net.Conn) {
	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sc := NewSafeConn(conn)
	c := s.engine.NewConnection(TransportTCP, conn.RemoteAddr().String(), sc)
	if !s.engine.Open(c) {
		sc.Close()
		return
	}

	s.engine.serveStream(c, sc)
}
