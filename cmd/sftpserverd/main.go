package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ird0/sftpcert/internal/api"
	"github.com/ird0/sftpcert/internal/audit"
	"github.com/ird0/sftpcert/internal/cavault"
	"github.com/ird0/sftpcert/internal/config"
	"github.com/ird0/sftpcert/internal/db"
	"github.com/ird0/sftpcert/internal/sandbox"
	"github.com/ird0/sftpcert/internal/server"
	"github.com/ird0/sftpcert/internal/trust"
	"github.com/ird0/sftpcert/internal/verify"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/sftpcert/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("SFTP Certificate Server\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	log.Printf("Starting SFTP certificate server %s (commit: %s)", Version, Commit)

	log.Printf("Loading configuration from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Connecting to database: %s", cfg.Database.Path)
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	auditLog := audit.NewLogger(audit.NewStore(database))

	// Trust anchor load is fail-fast: without the CA key the daemon cannot
	// accept anyone and must not start.
	vault := cavault.New(cavault.Config{
		Address: cfg.CA.Address,
		Token:   cfg.CA.Token,
		Role:    cfg.CA.Role,
		Timeout: cfg.GetCATimeout(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	anchor, err := trust.Load(ctx, vault)
	cancel()
	if err != nil {
		log.Fatalf("Failed to load trust anchor: %v", err)
	}

	hostKey, err := server.LoadOrGenerateHostKey(cfg.Server.HostKeyPath, cfg.Server.HostKeyType)
	if err != nil {
		log.Fatalf("Failed to load host key: %v", err)
	}

	view, err := sandbox.NewView(cfg.Server.RootDir)
	if err != nil {
		log.Fatalf("Failed to open export root: %v", err)
	}
	log.Printf("Serving read-only view of %s", view.Root())

	verifier := verify.New(anchor, auditLog)

	daemon := server.New(verifier, view, server.Options{
		Addr:        cfg.Server.ListenAddr,
		HostKey:     hostKey,
		MaxSessions: cfg.Server.MaxSessions,
		IdleTimeout: cfg.GetIdleTimeout(),
	})
	if err := daemon.Start(); err != nil {
		log.Fatalf("Failed to start SFTP server: %v", err)
	}

	if cfg.Admin.ListenAddr != "" {
		adminServer := api.NewServer(cfg.Admin.ListenAddr, cfg.Admin.Token, audit.NewStore(database), cfg.Admin.Debug)
		go func() {
			log.Printf("Starting admin HTTP server on %s", cfg.Admin.ListenAddr)
			if err := adminServer.Run(); err != nil {
				log.Fatalf("Failed to start admin server: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("SFTP certificate server is running")

	<-quit
	log.Printf("Shutting down server...")

	daemon.Close()
	database.Close()

	log.Printf("Server stopped")
}
