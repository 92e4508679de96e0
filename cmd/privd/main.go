package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tbruckner/privd/internal/config"
	"github.com/tbruckner/privd/internal/db"
	"github.com/tbruckner/privd/internal/httpapi"
	"github.com/tbruckner/privd/internal/privd/audit"
	"github.com/tbruckner/privd/internal/privd/policy"
	"github.com/tbruckner/privd/internal/privd/service"
	"github.com/tbruckner/privd/internal/privd/store/sqlite"
	"github.com/tbruckner/privd/internal/privd/sysgroup"
	"github.com/tbruckner/privd/internal/privd/types"
)

func main() {
	cfg := config.FromEnv()

	pflag.StringVar(&cfg.SocketPath, "socket", cfg.SocketPath, "unix socket path for the agent channel")
	pflag.StringVar(&cfg.HTTPAddr, "listen", cfg.HTTPAddr, "TCP listen address (used when no socket is set)")
	pflag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the SQLite database")
	pflag.StringVar(&cfg.PolicyPath, "policy", cfg.PolicyPath, "path to the managed policy YAML")
	pflag.Parse()

	logger := log.New(os.Stdout, "privd ", log.LstdFlags|log.LUTC)

	pol, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		logger.Fatalf("policy load: %v", err)
	}
	snapshot := policy.NewSnapshot(pol)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		logger.Fatalf("db open: %v", err)
	}
	defer conn.Close()

	writer := db.NewWorker(conn)
	defer writer.Close()

	grantStore := sqlite.NewGrantStore(conn, writer)
	markerStore := sqlite.NewMarkerStore(conn, writer)
	fallbackStore := sqlite.NewFallbackStore(conn, writer)

	dispatcher := audit.NewDispatcher(logger, fallbackStore, audit.DispatcherConfig{}, audit.SinksFromPolicy(pol)...)
	defer dispatcher.Close()

	grants := service.NewGrantService(service.Dependencies{
		Logger:     logger,
		Snapshot:   snapshot,
		Grants:     grantStore,
		Markers:    markerStore,
		Membership: &sysgroup.ExecMembership{},
		Audit:      dispatcher,
		Notifier:   &service.LogNotifier{Logger: logger},
		ReconfigureSinks: func(cfg types.PolicyConfig) {
			dispatcher.Reconfigure(audit.SinksFromPolicy(cfg)...)
		},
	})

	// Persisted grants survive restarts: re-arm timers at the stored
	// expiry, finish interrupted revocations, reset corrupt rows.
	if err := grants.Resume(ctx); err != nil {
		logger.Fatalf("resume persisted grants: %v", err)
	}
	grants.Start(ctx)
	defer grants.Stop()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:     logger,
		Addr:       cfg.HTTPAddr,
		SocketPath: cfg.SocketPath,
		Grants:     grants,
	})

	go func() {
		if cfg.SocketPath != "" {
			logger.Printf("listening on unix socket %s", cfg.SocketPath)
		} else {
			logger.Printf("listening on %s", cfg.HTTPAddr)
		}
		if err := srv.Start(); err != nil {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
