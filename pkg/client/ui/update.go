package ui

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/aeolun/tcpchat/pkg/protocol"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const notificationPreviewLen = 100

// Update handles incoming messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		chatHeight := msg.Height - headerHeight - inputHeight
		if chatHeight < 3 {
			chatHeight = 3
		}
		if m.viewport.Width == 0 || m.viewport.Height == 0 {
			m.viewport = viewport.New(msg.Width, chatHeight)
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = chatHeight
		}
		m.input.Width = msg.Width - len(m.input.Prompt) - 2
		m.refreshViewport()
		return m, nil

	case ServerMessageMsg:
		m.handleServerMessage(msg.Msg)
		return m, listenForServerMessages(m.conn)

	case ErrorMsg:
		m.logf("Connection error: %v", msg.Err)
		m.appendLine(chatLine{kind: lineError, text: msg.Err.Error()})
		return m, listenForServerMessages(m.conn)

	case DisconnectedMsg:
		m.connectionState = StateDisconnected
		if m.leaving {
			// leftMsg follows and quits
			return m, nil
		}
		m.appendLine(chatLine{kind: lineError, text: "Disconnected from server. Press Ctrl+C to exit."})
		m.input.Blur()
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			m.appendLine(chatLine{kind: lineError, text: fmt.Sprintf("Send failed: %v", msg.err)})
		}
		return m, nil

	case leftMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("leave: %w", msg.err)
		}
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m.leave()

	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()

		switch strings.ToLower(text) {
		case "/leave", "/quit":
			return m.leave()
		}

		if m.connectionState != StateConnected {
			m.appendLine(chatLine{kind: lineError, text: "Not connected"})
			return m, nil
		}

		// The server never echoes our own messages
		m.appendLine(chatLine{kind: lineSelf, user: m.username, text: text})
		return m, sendCmd(m.conn, text)

	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) leave() (tea.Model, tea.Cmd) {
	if m.leaving {
		return m, nil
	}
	m.leaving = true
	m.input.Blur()
	return m, leaveCmd(m.conn)
}

func (m *Model) handleServerMessage(msg *protocol.Message) {
	user := msg.Get(protocol.HeaderUser)
	text := string(msg.Body)

	if user == protocol.ServerUser {
		m.appendLine(chatLine{kind: lineServer, user: user, text: text})
		return
	}

	m.appendLine(chatLine{kind: lineChat, user: user, text: text})

	if m.notify && user != m.username && mentions(text, m.username) {
		m.sendDesktopNotification(user, text)
	}
}

func (m *Model) sendDesktopNotification(user, text string) {
	if m.notifier == nil {
		return
	}

	if len(text) > notificationPreviewLen {
		text = text[:notificationPreviewLen-3] + "..."
	}

	// Best effort
	if err := m.notifier("TCPChat - "+user+" mentioned you", text); err != nil {
		m.logf("Failed to send desktop notification: %v", err)
	}
}

// mentions reports whether name appears in text as a whole word, ignoring
// case and a leading @
func mentions(text, name string) bool {
	if name == "" {
		return false
	}
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	for _, w := range words {
		if strings.EqualFold(w, name) {
			return true
		}
	}
	return false
}

func (m *Model) appendLine(line chatLine) {
	line.at = m.now()
	m.lines = append(m.lines, line)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if m.viewport.Width == 0 {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}
