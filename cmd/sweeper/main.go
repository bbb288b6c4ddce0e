package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"agrocoop.org/internal/access"
	"agrocoop.org/internal/audit"
	"agrocoop.org/internal/config"
	"agrocoop.org/internal/obs"
	"agrocoop.org/internal/rbac"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, "")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("missing DSN: set AGROCOOP_PG_DSN")
	}

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	defer db.Close()

	recorder := audit.NewPGRecorder(db, time.Now)

	manager, err := rbac.NewManager(rbac.NewPGStore(db), rbac.NewGraph(), rbac.WithRecorder(recorder))
	if err != nil {
		log.Fatalf("rbac manager: %v", err)
	}

	guard, err := access.NewGuard(access.NewPGStore(db), access.NewPGTokenStore(db), access.WithRecorder(recorder))
	if err != nil {
		log.Fatalf("access guard: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	log.Printf("Starting agrocoop-sweeper %s, interval %s, metrics on %s",
		version, cfg.SweepInterval, cfg.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go run(ctx, manager, guard, cfg)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

func run(ctx context.Context, manager *rbac.Manager, guard *access.Guard, cfg config.Config) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		sweep(ctx, manager, guard, cfg.SessionRetention)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, manager *rbac.Manager, guard *access.Guard, retention time.Duration) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	expired, err := manager.SweepExpired(sweepCtx)
	if err != nil {
		log.Printf("sweep assignments: %v", err)
	} else if expired > 0 {
		log.Printf("expired %d assignments", expired)
	}

	reaped, err := guard.ReapSessions(sweepCtx, retention)
	if err != nil {
		log.Printf("reap sessions: %v", err)
	} else if reaped > 0 {
		log.Printf("reaped %d sessions", reaped)
	}
}
