package client

import (
	"github.com/aeolun/tcpchat/pkg/protocol"
)

// ConnectionInterface is what the terminal UI needs from a connection.
// Connection implements it; MockConnection stands in for it in tests.
type ConnectionInterface interface {
	Auth(user, token string) error
	Join() error
	Send(text string) error
	Leave() error
	Close() error

	Messages() <-chan *protocol.Message
	Errors() <-chan error

	IsConnected() bool
	Addr() string
	ConnectionType() string
}

var _ ConnectionInterface = (*Connection)(nil)
