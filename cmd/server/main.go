package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/JYehhh/tessenger/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	configPath := flag.String("config", "~/.tessenger/config.toml", "Path to config file")
	port := flag.Int("port", 0, "TCP port to listen on (overrides config)")
	attempts := flag.Int("attempts", 0, "Failed login attempts before lockout, 1-5 (overrides config)")
	credentials := flag.String("credentials", "", "Path to credentials file (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Tessenger Server %s\n", Version)
		os.Exit(0)
	}

	if *debug {
		log.SetLevel(log.DebugLevel)
		log.Debug("Debug logging enabled")
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file and environment.
	if *port != 0 {
		config.TCPPort = *port
	}
	if *attempts != 0 {
		config.AttemptsCap = *attempts
	}
	if *credentials != "" {
		config.CredentialsFile = *credentials
	}

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	srv, err := server.NewServer(config)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("Received %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Errorf("Shutdown error: %v", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}
