package ui

import (
	"io"
	"log"
	"time"

	"github.com/aeolun/tcpchat/pkg/client"
	"github.com/aeolun/tcpchat/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
)

var testClock = time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)

// NewTestModel creates a Model on a mock connection for user "alice"
func NewTestModel() (Model, *client.MockConnection) {
	conn := client.NewMockConnection("localhost:1337")
	logger := log.New(io.Discard, "", 0)

	m := NewModel(conn, "alice", false, logger)
	m.now = func() time.Time { return testClock }
	return m, conn
}

// SetupTestModelWithDimensions creates a test model that has seen a window size
func SetupTestModelWithDimensions(width, height int) (Model, *client.MockConnection) {
	m, conn := NewTestModel()
	updated, _ := m.Update(tea.WindowSizeMsg{Width: width, Height: height})
	return updated.(Model), conn
}

// CreateChatMessage creates a MESSAGE/SEND frame from user
func CreateChatMessage(user, text string) *protocol.Message {
	return protocol.NewChatMessage(protocol.VerbSend, user, []byte(text))
}

// typeAndEnter puts text in the input and presses Enter
func typeAndEnter(m Model, text string) (Model, tea.Cmd) {
	m.input.SetValue(text)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(Model), cmd
}
