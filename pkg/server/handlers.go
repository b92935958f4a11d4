package server

import (
	"errors"
	"fmt"
	"log"

	"github.com/aeolun/tcpchat/pkg/protocol"
)

// Error header texts sent to clients
const (
	reasonAuthFailed           = "Authentication failed"
	reasonUsernameTaken        = "Username already in use"
	reasonAlreadyAuthenticated = "Already authenticated"
	reasonNotAuthenticated     = "Not authenticated"
	reasonNotJoinedOrAuthed    = "Not joined or authenticated"
	reasonNotInChat            = "Not in chat"
)

// dispatch runs the handler for msg's command and applies the outcome to
// the connection: state violations keep it open, everything else that
// fails closes it.
func (e *Engine) dispatch(c *Connection, msg *protocol.Message) {
	cmd := protocol.ParseCommand(msg.Verb)
	e.metrics.RecordMessageReceived(cmd.String())
	debugLog.Printf("Connection %s ← RECV: %s (%d bytes)", c, msg.Verb, len(msg.Body))

	var err error
	switch cmd {
	case protocol.CommandAuth:
		err = e.handleAuth(c, msg)
	case protocol.CommandJoin:
		err = e.handleJoin(c)
	case protocol.CommandSend:
		err = e.handleSend(c, msg)
	case protocol.CommandLeave:
		err = e.handleLeave(c)
	case protocol.CommandUnknown:
		e.metrics.RecordProtocolError(errKindUnknownCommand)
		debugLog.Printf("Connection %s: ignoring unknown command %q", c, msg.Verb)
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrStateViolation):
		debugLog.Printf("Connection %s: %v", c, err)
	case errors.Is(err, ErrClientDisconnecting):
		debugLog.Printf("Connection %s left the chat", c)
		e.closeConnection(c)
	case errors.Is(err, ErrAuthentication):
		e.metrics.RecordAuthFailure()
		log.Printf("Connection %s from %s: %v", c, c.RemoteAddr, err)
		e.closeConnection(c)
	case errors.Is(err, ErrOutboundQueueFull):
		errorLog.Printf("Connection %s: %v", c, err)
		e.dropConnection(c)
	default:
		errorLog.Printf("Connection %s: %v", c, err)
		e.closeConnection(c)
	}
}

// handleAuth handles AUTH. Any rejection is terminal.
func (e *Engine) handleAuth(c *Connection, msg *protocol.Message) error {
	if c.authenticated {
		if err := e.sendError(c, protocol.VerbAuth, reasonAlreadyAuthenticated); err != nil {
			return err
		}
		return fmt.Errorf("%w: AUTH while authenticated as %q", ErrStateViolation, c.username)
	}

	username := msg.Get(protocol.HeaderUser)
	if err := e.auth.Verify(username, msg.Get(protocol.HeaderToken)); err != nil {
		if sendErr := e.sendError(c, protocol.VerbAuth, reasonAuthFailed); sendErr != nil {
			return sendErr
		}
		return err
	}

	if e.uniqueUsernames && e.registry.UsernameTaken(username, c) {
		if err := e.sendError(c, protocol.VerbAuth, reasonUsernameTaken); err != nil {
			return err
		}
		return fmt.Errorf("%w: %q", ErrUsernameTaken, username)
	}

	c.authenticated = true
	c.username = username
	debugLog.Printf("Connection %s authenticated", c)

	return e.send(c, protocol.NewResponse(protocol.StatusOK, protocol.VerbAuth))
}

// handleJoin handles JOIN. Joining twice is silently ignored.
func (e *Engine) handleJoin(c *Connection) error {
	if !c.authenticated {
		if err := e.sendError(c, protocol.VerbJoin, reasonNotAuthenticated); err != nil {
			return err
		}
		return fmt.Errorf("%w: JOIN before AUTH", ErrStateViolation)
	}
	if c.Joined() {
		debugLog.Printf("Connection %s: already joined", c)
		return nil
	}

	c.joined.Store(true)
	e.metrics.RecordJoined()

	if err := e.send(c, protocol.NewResponse(protocol.StatusOK, protocol.VerbJoin)); err != nil {
		return err
	}

	e.broadcast(protocol.NewServerMessage(protocol.VerbJoin, c.username+" has joined the chat."), c)
	return nil
}

// handleSend relays the body to every other member. The sender gets no echo.
func (e *Engine) handleSend(c *Connection, msg *protocol.Message) error {
	if !c.authenticated || !c.Joined() {
		if err := e.sendError(c, protocol.VerbSend, reasonNotJoinedOrAuthed); err != nil {
			return err
		}
		return fmt.Errorf("%w: SEND outside the room", ErrStateViolation)
	}

	e.broadcast(protocol.NewChatMessage(protocol.VerbSend, c.username, msg.Body), c)
	return nil
}

// handleLeave acknowledges, tells the rest of the room, and ends the connection.
func (e *Engine) handleLeave(c *Connection) error {
	if !c.Joined() {
		if err := e.sendError(c, protocol.VerbLeave, reasonNotInChat); err != nil {
			return err
		}
		return fmt.Errorf("%w: LEAVE outside the room", ErrStateViolation)
	}

	if err := e.send(c, protocol.NewResponse(protocol.StatusOK, protocol.VerbLeave)); err != nil {
		return err
	}

	c.joined.Store(false)
	e.metrics.RecordLeft()
	e.broadcast(protocol.NewServerMessage(protocol.VerbLeave, c.username+" has left the chat."), c)

	return ErrClientDisconnecting
}

// send queues one response for c
func (e *Engine) send(c *Connection, msg *protocol.Message) error {
	if err := c.enqueue(msg.Encode()); err != nil {
		return err
	}
	e.metrics.RecordResponseSent(msg.Verb, 1)
	return nil
}

func (e *Engine) sendError(c *Connection, responseFor, reason string) error {
	return e.send(c, protocol.NewErrorResponse(responseFor, reason))
}

// broadcast queues msg for every joined connection except exclude. Peers
// whose queue is full are dropped.
func (e *Engine) broadcast(msg *protocol.Message, exclude *Connection) {
	sent, failed := e.registry.Broadcast(msg, exclude)
	e.metrics.RecordBroadcast(sent)
	e.metrics.RecordResponseSent(msg.Verb, sent)

	for _, peer := range failed {
		errorLog.Printf("Connection %s: dropping slow peer: %v", peer, ErrOutboundQueueFull)
		e.dropConnection(peer)
	}
}
