// Command chorus is the Chorus terminal client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/aeolun/chorus/pkg/client"
	"github.com/aeolun/chorus/pkg/client/ui"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

var Version = "dev"

const defaultServerURL = "http://localhost:8080"

func main() {
	serverFlag := flag.String("server", "", "Chorus server URL (remembered for next time)")
	statePath := flag.String("state", "", "Path to the client state database")
	debug := flag.Bool("debug", false, "Write a debug log next to the state database")
	version := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *version {
		fmt.Println("chorus", Version)
		return
	}

	// Determine state path (XDG data dir)
	if *statePath == "" {
		xdgData := os.Getenv("XDG_DATA_HOME")
		if xdgData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				log.Fatalf("Failed to get home directory: %v", err)
			}
			xdgData = filepath.Join(homeDir, ".local", "share")
		}
		*statePath = filepath.Join(xdgData, "chorus", "state.db")
	}

	state, err := client.OpenState(*statePath)
	if err != nil {
		log.Fatalf("Failed to open state database: %v", err)
	}
	defer state.Close()

	serverURL := strings.TrimRight(*serverFlag, "/")
	if serverURL == "" {
		serverURL = state.GetServerURL()
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	if serverURL != state.GetServerURL() {
		if err := state.SetServerURL(serverURL); err != nil {
			log.Printf("Failed to remember server URL: %v", err)
		}
		// A session belongs to the server that issued it
		if err := state.ClearSession(); err != nil {
			log.Printf("Failed to clear session: %v", err)
		}
	}

	logger, err := newLogger(*debug, filepath.Join(state.GetStateDir(), "debug.log"))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	model := ui.NewModel(ui.Options{
		ServerURL: serverURL,
		State:     state,
		Auth:      client.NewAuthClient(serverURL, logger),
		Connect: func(ctx context.Context, sess *client.Session) (*client.Core, error) {
			return client.Connect(ctx, serverURL, sess, logger)
		},
		Logger:           logger,
		MaxMessageLength: 4000,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	final, err := p.Run()
	if m, ok := final.(ui.Model); ok {
		m.Close()
	}
	if err != nil {
		log.Fatalf("Error running program: %v", err)
	}
}

// newLogger writes to path with debug enabled. The terminal belongs to the
// UI, so nothing is logged otherwise.
func newLogger(debug bool, path string) (*zap.SugaredLogger, error) {
	if !debug {
		return zap.NewNop().Sugar(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return base.Sugar(), nil
}
