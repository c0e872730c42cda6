// Command chorus-server runs the Chorus backend: auth, REST, the realtime
// change feed and the moderation functions over one SQLite database.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aeolun/chorus/pkg/server"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "~/.chorus/server.toml", "Path to the TOML config file (created with defaults when missing)")
	port := flag.Int("port", 0, "Override the public HTTP port")
	dbPath := flag.String("db", "", "Override the SQLite database path")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *version {
		fmt.Println("chorus-server", Version)
		return
	}

	if err := server.InitLoggers(*debug); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
		os.Exit(1)
	}

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		tomlConfig.Server.HTTPPort = *port
	}
	if *dbPath != "" {
		tomlConfig.Server.DatabasePath = *dbPath
	}

	config, err := tomlConfig.ToServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	path, err := tomlConfig.GetDatabasePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid database path: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create database directory: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(path, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		srv.Stop()
		os.Exit(1)
	}
	fmt.Printf("Chorus %s listening on :%d (database %s)\n", Version, config.HTTPPort, path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		os.Exit(1)
	}
}
