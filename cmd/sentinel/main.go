package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/khoa-s-development/SentinelProxy-sub002/config"
	"github.com/khoa-s-development/SentinelProxy-sub002/logger"
	"github.com/khoa-s-development/SentinelProxy-sub002/server"
	"github.com/khoa-s-development/SentinelProxy-sub002/server/adminapi"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sentinel %s (%s)\n", version, commit)
		return
	}

	cfg := config.NewDefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if err := run(cfg); err != nil {
		logger.Fatal("sentinel exited with error", "error", err)
	}
}

func run(cfg config.Config) error {
	manager, err := server.NewSecurityManager(cfg.Security)
	if err != nil {
		return fmt.Errorf("failed to build security manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager.Start()
	logger.Info("sentinel started", "version", version)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.AdminAPI.Enabled {
		g.Go(func() error {
			errChan := make(chan error, 1)
			go adminapi.Start(gctx, manager, cfg.AdminAPI, errChan)
			select {
			case err := <-errChan:
				return err
			case <-gctx.Done():
				return nil
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return manager.Stop(shutdownCtx)
	})

	return g.Wait()
}
