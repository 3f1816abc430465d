package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ird0/sftpcert/internal/audit"
	"github.com/ird0/sftpcert/internal/cavault"
	"github.com/ird0/sftpcert/internal/certmgr"
	"github.com/ird0/sftpcert/internal/config"
	"github.com/ird0/sftpcert/internal/transport"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: sftpfetch [flags] <command> <path>

Commands:
  list <dir>    List a remote directory
  stat <path>   Show metadata for a remote path
  get <path>    Download a remote file

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "/etc/sftpcert/config.yaml", "Path to configuration file")
	output := flag.String("o", "", "Local file for 'get' (default: stdout)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("SFTP Fetch Client\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	if flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}
	command, path := flag.Arg(0), flag.Arg(1)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	vault := cavault.New(cavault.Config{
		Address:    cfg.CA.Address,
		Token:      cfg.CA.Token,
		Role:       cfg.CA.Role,
		TOTPSecret: cfg.CA.TOTPSecret,
		Timeout:    cfg.GetCATimeout(),
	})

	manager := certmgr.New(vault, certmgr.Options{
		Principal:        cfg.Client.Username,
		TTL:              cfg.GetCertificateTTL(),
		RenewalThreshold: cfg.GetRenewalThreshold(),
		CheckInterval:    cfg.GetCheckInterval(),
		Audit:            audit.NewLogger(nil),
	})
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background renewal tick, the safety net behind on-demand renewal.
	manager.Start(ctx)

	factory := transport.NewFactory(manager, transport.Options{
		Username: cfg.Client.Username,
		Timeout:  cfg.GetConnectTimeout(),
	})

	if err := run(ctx, factory, manager, cfg, command, path, *output); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, factory *transport.Factory, manager *certmgr.Manager, cfg *config.Config, command, path, output string) error {
	session, err := openWithRetry(ctx, factory, manager, cfg.Client.ServerHost, cfg.Client.ServerPort)
	if err != nil {
		return err
	}
	defer session.Close()

	switch command {
	case "list":
		infos, err := session.List(path)
		if err != nil {
			return err
		}
		for _, info := range infos {
			kind := "-"
			if info.IsDir() {
				kind = "d"
			}
			fmt.Printf("%s %12d  %s  %s\n", kind, info.Size(), info.ModTime().Format("2006-01-02 15:04"), info.Name())
		}
		return nil

	case "stat":
		info, err := session.Stat(path)
		if err != nil {
			return err
		}
		fmt.Printf("Name:     %s\n", info.Name())
		fmt.Printf("Size:     %d\n", info.Size())
		fmt.Printf("Mode:     %s\n", info.Mode())
		fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		return nil

	case "get":
		w := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}
		n, err := session.Download(path, w)
		if err != nil {
			return err
		}
		if output != "" {
			log.Printf("Downloaded %s to %s (%d bytes)", path, output, n)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// openWithRetry opens a session, and on a rejected credential forces one
// certificate renewal and tries again. Connection failures are not retried;
// a fresh certificate cannot fix an unreachable server.
func openWithRetry(ctx context.Context, factory *transport.Factory, manager *certmgr.Manager, host string, port int) (*transport.Session, error) {
	session, err := factory.Open(ctx, host, port)
	if err == nil {
		return session, nil
	}

	var authErr *transport.AuthError
	if !errors.As(err, &authErr) {
		return nil, err
	}

	log.Printf("Credential rejected, renewing certificate and retrying: %v", err)
	if renewErr := manager.Renew(ctx); renewErr != nil {
		return nil, fmt.Errorf("renewal after rejected credential failed: %w", renewErr)
	}
	return factory.Open(ctx, host, port)
}
