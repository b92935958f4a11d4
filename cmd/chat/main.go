// Command chat is the terminal client for CHAT/1.0 servers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aeolun/tcpchat/pkg/client"
	"github.com/aeolun/tcpchat/pkg/client/ui"
	tea "github.com/charmbracelet/bubbletea"
)

var Version = "dev"

const defaultAddr = "localhost:1337"

func main() {
	addr := flag.String("addr", "", "Server address (host:port, or ws://host:port/ws); defaults to the last server used")
	user := flag.String("user", "", "Username (prompted for if empty)")
	token := flag.String("token", "", "Auth token (prompted for if empty)")
	notify := flag.Bool("notify", false, "Desktop notification when a message mentions you")
	debugLog := flag.String("debug-log", "", "Write protocol debug log to this file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("chat %s\n", Version)
		return
	}

	logger := log.New(io.Discard, "", 0)
	if *debugLog != "" {
		f, err := os.OpenFile(*debugLog, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			log.Fatalf("Failed to open debug log: %v", err)
		}
		defer f.Close()
		logger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
	}

	// State is a convenience; run without it if it can't be opened
	state, err := client.OpenState(statePath())
	if err != nil {
		logger.Printf("Client state unavailable: %v", err)
		state = nil
	} else {
		defer state.Close()
	}

	if *addr == "" {
		*addr = defaultAddr
		if state != nil {
			if last := state.GetLastServer(); last != "" {
				*addr = last
			}
		}
	}

	stdin := bufio.NewReader(os.Stdin)
	if *user == "" {
		suggested := ""
		if state != nil {
			suggested, _ = state.GetLastUsername(*addr)
		}
		*user = prompt(stdin, "Username", suggested)
	}
	if *token == "" {
		*token = prompt(stdin, "Token", "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, err := client.Dial(ctx, *addr)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *addr, err)
	}
	defer conn.Close()
	conn.SetLogger(logger)

	if err := conn.Auth(*user, *token); err != nil {
		log.Fatalf("Authentication failed: %v", err)
	}
	if state != nil {
		if err := state.SaveSuccessfulConnection(*addr, *user); err != nil {
			logger.Printf("Failed to save connection history: %v", err)
		}
	}
	if err := conn.Join(); err != nil {
		log.Fatalf("Failed to join: %v", err)
	}

	model := ui.NewModel(conn, *user, *notify, logger)
	final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if err != nil {
		log.Fatalf("UI error: %v", err)
	}
	if m, ok := final.(ui.Model); ok && m.Err() != nil {
		fmt.Fprintf(os.Stderr, "%v\n", m.Err())
		os.Exit(1)
	}
}

// prompt reads one line from stdin, falling back to def on an empty answer
func prompt(r *bufio.Reader, label, def string) string {
	for {
		if def != "" {
			fmt.Printf("%s [%s]: ", label, def)
		} else {
			fmt.Printf("%s: ", label)
		}

		line, err := r.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			line = def
		}
		if line != "" {
			return line
		}
		if err != nil {
			log.Fatalf("No %s given", strings.ToLower(label))
		}
	}
}

// statePath follows XDG_DATA_HOME, like other terminal tools
func statePath() string {
	xdgData := os.Getenv("XDG_DATA_HOME")
	if xdgData == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "tcpchat", "state.db")
		}
		xdgData = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(xdgData, "tcpchat", "state.db")
}
