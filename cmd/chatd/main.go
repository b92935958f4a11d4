// Command chatd runs the CHAT/1.0 server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/tcpchat/pkg/server"
	"github.com/joho/godotenv"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "~/.tcpchat/server.toml", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("chatd %s\n", Version)
		return
	}

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *debug || tomlConfig.Server.Debug {
		server.EnableDebugLogging(os.Stderr)
	}

	cfg := tomlConfig.ToServerConfig()
	log.Printf("chatd %s starting", Version)
	if cfg.AuthTokenHash == "" && cfg.AuthToken == server.DefaultToken {
		log.Printf("WARNING: using the default auth token; set [auth] token or token_hash")
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
