package client

import (
	"path/filepath"
	"testing"
)

func openTestState(t *testing.T) *State {
	t.Helper()
	state, err := OpenState(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Fatalf("OpenState() error = %v", err)
	}
	t.Cleanup(func() { state.Close() })
	return state
}

func TestStateConfig(t *testing.T) {
	state := openTestState(t)

	value, err := state.GetConfig("missing")
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if value != "" {
		t.Errorf("GetConfig(missing) = %q, want empty", value)
	}

	if err := state.SetConfig("theme", "dark"); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := state.SetConfig("theme", "light"); err != nil {
		t.Fatalf("SetConfig() overwrite error = %v", err)
	}
	value, _ = state.GetConfig("theme")
	if value != "light" {
		t.Errorf("GetConfig(theme) = %q, want %q", value, "light")
	}
}

func TestStateConnectionHistory(t *testing.T) {
	state := openTestState(t)

	if got := state.GetLastServer(); got != "" {
		t.Errorf("GetLastServer() on fresh state = %q, want empty", got)
	}

	if err := state.SaveSuccessfulConnection("chat.example.com:1337", "alice"); err != nil {
		t.Fatalf("SaveSuccessfulConnection() error = %v", err)
	}
	if err := state.SaveSuccessfulConnection("ws://other.example.com/ws", "al"); err != nil {
		t.Fatalf("SaveSuccessfulConnection() error = %v", err)
	}

	if got := state.GetLastServer(); got != "ws://other.example.com/ws" {
		t.Errorf("GetLastServer() = %q, want most recent server", got)
	}

	tests := []struct {
		server string
		want   string
	}{
		{"chat.example.com:1337", "alice"},
		{"ws://other.example.com/ws", "al"},
		{"never.example.com:1337", ""},
	}
	for _, tt := range tests {
		got, err := state.GetLastUsername(tt.server)
		if err != nil {
			t.Fatalf("GetLastUsername(%q) error = %v", tt.server, err)
		}
		if got != tt.want {
			t.Errorf("GetLastUsername(%q) = %q, want %q", tt.server, got, tt.want)
		}
	}
}

func TestStatePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	state, err := OpenState(path)
	if err != nil {
		t.Fatalf("OpenState() error = %v", err)
	}
	if err := state.SaveSuccessfulConnection("localhost:1337", "bob"); err != nil {
		t.Fatalf("SaveSuccessfulConnection() error = %v", err)
	}
	state.Close()

	reopened, err := OpenState(path)
	if err != nil {
		t.Fatalf("OpenState() reopen error = %v", err)
	}
	defer reopened.Close()

	if got := reopened.GetLastServer(); got != "localhost:1337" {
		t.Errorf("GetLastServer() after reopen = %q", got)
	}
	if reopened.GetStateDir() != filepath.Dir(path) {
		t.Errorf("GetStateDir() = %q, want %q", reopened.GetStateDir(), filepath.Dir(path))
	}
}
