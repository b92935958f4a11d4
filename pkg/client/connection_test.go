package client

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aeolun/tcpchat/pkg/protocol"
	"github.com/aeolun/tcpchat/pkg/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type testServer struct {
	tcpAddr string
	wsURL   string
}

// startServer runs a chat server with TCP and WebSocket listeners on
// loopback ports until the test ends
func startServer(t *testing.T) testServer {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	cfg.SSHHostKeyPath = filepath.Join(t.TempDir(), "ssh_host_key")

	srv, err := server.NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(testTimeout):
			t.Error("server did not shut down")
		}
	})

	return testServer{
		tcpAddr: srv.Addr().String(),
		wsURL:   "ws://" + srv.HTTPAddr().String() + "/ws",
	}
}

func dial(t *testing.T, addr string) *Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	conn, err := Dial(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func nextMessage(t *testing.T, conn *Connection) *protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-conn.Messages():
		require.True(t, ok, "messages channel closed")
		return msg
	case <-time.After(testTimeout):
		t.Fatal("no message within timeout")
	}
	return nil
}

func waitClosed(t *testing.T, conn *Connection) {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case _, ok := <-conn.Messages():
			if !ok {
				assert.False(t, conn.IsConnected())
				return
			}
		case <-deadline:
			t.Fatal("connection not closed by server")
		}
	}
}

func TestConversation(t *testing.T) {
	srv := startServer(t)

	for _, tc := range []struct {
		name string
		addr string
		kind string
	}{
		{"tcp", srv.tcpAddr, "tcp"},
		{"websocket", srv.wsURL, "websocket"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			alice := dial(t, tc.addr)
			bob := dial(t, tc.addr)
			assert.Equal(t, tc.kind, alice.ConnectionType())
			assert.Equal(t, tc.addr, alice.Addr())

			require.NoError(t, alice.Auth("alice_"+tc.name, server.DefaultToken))
			require.NoError(t, alice.Join())
			require.NoError(t, bob.Auth("bob_"+tc.name, server.DefaultToken))
			require.NoError(t, bob.Join())

			notice := nextMessage(t, alice)
			assert.Equal(t, protocol.ServerUser, notice.Get(protocol.HeaderUser))
			assert.Equal(t, "bob_"+tc.name+" has joined the chat.", string(notice.Body))

			require.NoError(t, bob.Send("hi alice"))
			chat := nextMessage(t, alice)
			assert.Equal(t, protocol.VerbSend, chat.ResponseFor())
			assert.Equal(t, "bob_"+tc.name, chat.Get(protocol.HeaderUser))
			assert.Equal(t, "hi alice", string(chat.Body))

			require.NoError(t, alice.Leave())
			waitClosed(t, alice)
			assert.ErrorIs(t, alice.Send("anyone?"), ErrConnectionClosed)

			notice = nextMessage(t, bob)
			assert.Equal(t, "alice_"+tc.name+" has left the chat.", string(notice.Body))
		})
	}
}

func TestAuthRejected(t *testing.T) {
	srv := startServer(t)
	conn := dial(t, srv.tcpAddr)

	err := conn.Auth("mallory", "guess")
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.VerbAuth, serverErr.Verb)
	assert.Equal(t, "Authentication failed", serverErr.Reason)

	waitClosed(t, conn)
}

func TestJoinBeforeAuth(t *testing.T) {
	srv := startServer(t)
	conn := dial(t, srv.tcpAddr)

	err := conn.Join()
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "Not authenticated", serverErr.Reason)

	// Still usable
	require.NoError(t, conn.Auth("late", server.DefaultToken))
	require.NoError(t, conn.Join())
}

func TestSendRejectionReportedOnErrors(t *testing.T) {
	srv := startServer(t)
	conn := dial(t, srv.tcpAddr)
	require.NoError(t, conn.Auth("eager", server.DefaultToken))

	require.NoError(t, conn.Send("before join"))

	select {
	case err := <-conn.Errors():
		var serverErr *ServerError
		require.ErrorAs(t, err, &serverErr)
		assert.Equal(t, protocol.VerbSend, serverErr.Verb)
		assert.Equal(t, "Not joined or authenticated", serverErr.Reason)
	case <-time.After(testTimeout):
		t.Fatal("no error for rejected SEND")
	}

	// The stray ERROR must not satisfy the next request
	require.NoError(t, conn.Join())
}

func TestResponseTimeout(t *testing.T) {
	// A server that reads and never answers
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		c, err := listener.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		io.Copy(io.Discard, c)
	}()

	conn := dial(t, listener.Addr().String())
	conn.SetTimeout(100 * time.Millisecond)

	err = conn.Auth("alice", "secret123")
	assert.ErrorIs(t, err, ErrResponseTimeout)
}

func TestServerGarbageEndsConnection(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		c, err := listener.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		io.Copy(io.Discard, c)
	}()

	conn := dial(t, listener.Addr().String())

	select {
	case err := <-conn.Errors():
		assert.ErrorIs(t, err, protocol.ErrProtocolSyntax)
	case <-time.After(testTimeout):
		t.Fatal("decode error not reported")
	}
	waitClosed(t, conn)

	err = conn.Join()
	assert.True(t, errors.Is(err, ErrConnectionClosed), "got %v", err)
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := startServer(t)
	conn := dial(t, srv.tcpAddr)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.False(t, conn.IsConnected())

	_, ok := <-conn.Messages()
	assert.False(t, ok)
}

func TestDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	_, err = Dial(ctx, addr)
	assert.Error(t, err)

	_, err = Dial(ctx, "ws://"+addr+"/ws")
	assert.Error(t, err)
}
