package server

import (
	"testing"

	"github.com/aeolun/tcpchat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegisteredConn(r *Registry, user string, joined bool) *Connection {
	c := newConnection(TransportTCP, "127.0.0.1:1", &fakeTransport{}, Limits{})
	if user != "" {
		c.authenticated = true
		c.username = user
	}
	c.joined.Store(joined)
	r.Register(c)
	return c
}

func TestRegistryUnregisterOnce(t *testing.T) {
	r := NewRegistry()
	c := newRegisteredConn(r, "", false)
	require.Equal(t, 1, r.Len())

	assert.True(t, r.Unregister(c))
	assert.False(t, r.Unregister(c), "second removal is a no-op")
	assert.Zero(t, r.Len())
}

func TestRegistryBroadcast(t *testing.T) {
	r := NewRegistry()
	alice := newRegisteredConn(r, "alice", true)
	bob := newRegisteredConn(r, "bob", true)
	carol := newRegisteredConn(r, "carol", false)
	anon := newRegisteredConn(r, "", false)

	msg := protocol.NewChatMessage(protocol.VerbSend, "alice", []byte("hi"))
	sent, failed := r.Broadcast(msg, alice)

	assert.Equal(t, 1, sent)
	assert.Empty(t, failed)
	assert.Len(t, bob.outbound, 1)
	assert.Empty(t, alice.outbound)
	assert.Empty(t, carol.outbound)
	assert.Empty(t, anon.outbound)

	assert.Equal(t, msg.Encode(), <-bob.outbound)
}

func TestRegistryBroadcastNoTargets(t *testing.T) {
	r := NewRegistry()
	alice := newRegisteredConn(r, "alice", true)

	sent, failed := r.Broadcast(protocol.NewServerMessage(protocol.VerbJoin, "alice has joined the chat."), alice)
	assert.Zero(t, sent)
	assert.Nil(t, failed)
}

func TestRegistryBroadcastReportsFullQueues(t *testing.T) {
	r := NewRegistry()
	slow := newConnection(TransportTCP, "127.0.0.1:2", &fakeTransport{}, Limits{OutboundQueue: 1})
	slow.joined.Store(true)
	r.Register(slow)

	msg := protocol.NewServerMessage(protocol.VerbJoin, "x has joined the chat.")
	sent, failed := r.Broadcast(msg, nil)
	require.Equal(t, 1, sent)
	require.Empty(t, failed)

	sent, failed = r.Broadcast(msg, nil)
	assert.Zero(t, sent)
	assert.Equal(t, []*Connection{slow}, failed)
}

func TestRegistryCounts(t *testing.T) {
	r := NewRegistry()
	alice := newRegisteredConn(r, "alice", true)
	newRegisteredConn(r, "bob", false)
	newRegisteredConn(r, "", false)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 1, r.Joined())
	assert.Len(t, r.All(), 3)

	assert.True(t, r.UsernameTaken("bob", alice))
	assert.False(t, r.UsernameTaken("alice", alice), "a connection does not collide with itself")
	assert.False(t, r.UsernameTaken("dave", nil))
}
