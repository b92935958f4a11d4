package ui

import (
	"log"
	"time"

	"github.com/aeolun/tcpchat/pkg/client"
	"github.com/aeolun/tcpchat/pkg/protocol"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"
)

const (
	inputCharLimit = 4096
	inputHeight    = 3 // Input line plus its border
	headerHeight   = 2 // Title bar plus spacing
)

// ConnectionState represents the connection status
type ConnectionState int

const (
	StateConnected ConnectionState = iota
	StateDisconnected
)

// lineKind selects how a transcript line is styled
type lineKind int

const (
	lineChat   lineKind = iota // Someone else's message
	lineSelf                   // Our own message, echoed locally
	lineServer                 // SERVER announcement
	lineError                  // Local error report
)

type chatLine struct {
	at   time.Time
	kind lineKind
	user string
	text string
}

// Notifier shows a desktop notification
type Notifier func(title, body string) error

// Model is the Bubble Tea model for a joined chat session
type Model struct {
	conn     client.ConnectionInterface
	username string
	logger   *log.Logger

	notify   bool
	notifier Notifier

	viewport viewport.Model
	input    textinput.Model
	lines    []chatLine

	width  int
	height int

	connectionState ConnectionState
	leaving         bool
	err             error

	now func() time.Time
}

// ServerMessageMsg carries a MESSAGE frame from the server
type ServerMessageMsg struct {
	Msg *protocol.Message
}

// ErrorMsg carries an asynchronous connection error
type ErrorMsg struct {
	Err error
}

// DisconnectedMsg reports that the server closed the connection
type DisconnectedMsg struct{}

type sendResultMsg struct {
	err error
}

type leftMsg struct {
	err error
}

// NewModel creates the UI for a connection that has already completed AUTH
// and JOIN as username. With notify set, messages mentioning username raise
// a desktop notification.
func NewModel(conn client.ConnectionInterface, username string, notify bool, logger *log.Logger) Model {
	input := textinput.New()
	input.Placeholder = "Type a message, /leave to quit"
	input.CharLimit = inputCharLimit
	input.Prompt = "> "
	input.Focus()

	return Model{
		conn:            conn,
		username:        username,
		logger:          logger,
		notify:          notify,
		notifier:        desktopNotify,
		input:           input,
		connectionState: StateConnected,
		now:             time.Now,
	}
}

// Init starts listening for server frames
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, listenForServerMessages(m.conn))
}

// Err returns the error that ended the session, if any
func (m Model) Err() error {
	return m.err
}

func (m Model) logf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// listenForServerMessages waits for the next frame or error from the
// connection. Update re-issues it after every delivery.
func listenForServerMessages(conn client.ConnectionInterface) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg, ok := <-conn.Messages():
			if !ok {
				return DisconnectedMsg{}
			}
			return ServerMessageMsg{Msg: msg}
		case err, ok := <-conn.Errors():
			if !ok {
				return DisconnectedMsg{}
			}
			return ErrorMsg{Err: err}
		}
	}
}

func sendCmd(conn client.ConnectionInterface, text string) tea.Cmd {
	return func() tea.Msg {
		return sendResultMsg{err: conn.Send(text)}
	}
}

// leaveCmd sends LEAVE when still connected, then closes the connection
func leaveCmd(conn client.ConnectionInterface) tea.Cmd {
	return func() tea.Msg {
		var err error
		if conn.IsConnected() {
			err = conn.Leave()
		}
		conn.Close()
		return leftMsg{err: err}
	}
}

func desktopNotify(title, body string) error {
	return beeep.Notify(title, body, "")
}
