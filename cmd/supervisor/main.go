// cmd/supervisor/main.go
//
// QRelay – watchdog entry point.
//
// Wraps the web binary: spawn, probe /health, restart with bounded
// exponential backoff on exit or probe silence.  Serves its own liveness
// endpoint on a separate port so the hosting platform can monitor the pair
// independently.  Store durability lives in the worker's registry file or
// database, so restarts here never lose acknowledged writes.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/qrelay/internal/config"
	"github.com/yanizio/qrelay/internal/logger"
	"github.com/yanizio/qrelay/internal/server"
	"github.com/yanizio/qrelay/internal/supervisor"
)

func loadEnv() {
	if _, err := os.Stat("conf/.env"); err == nil {
		_ = godotenv.Load("conf/.env")
		return
	}
	_ = godotenv.Load()
}

func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func init() { loadEnv() }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if len(cfg.Supervisor.Command) == 0 {
		log.Fatal("supervisor.command is not set")
	}

	logOut, err := logger.New(cfg.Paths.Root, "supervisor", runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer logOut.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(supervisor.Options{
		Command:        cfg.Supervisor.Command,
		HealthURL:      cfg.Supervisor.HealthURL,
		ProbeInterval:  cfg.Supervisor.ProbeInterval,
		ProbeTimeout:   cfg.Supervisor.ProbeTimeout,
		ProbeFailures:  cfg.Supervisor.ProbeFailures,
		BackoffInitial: cfg.Supervisor.BackoffInitial,
		BackoffMax:     cfg.Supervisor.BackoffMax,
		HealthyReset:   cfg.Supervisor.HealthyReset,
	}, logOut)

	srv := server.New(cfg.Supervisor.ListenAddr, sup.Handler())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sup.Run(gctx)
	})

	g.Go(func() error {
		logOut.Infow("supervisor listening", "addr", cfg.Supervisor.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shctx)
	})

	if err := g.Wait(); err != nil {
		logOut.Errorw("supervisor failed", "err", err)
		_ = logOut.Sync()
		os.Exit(1)
	}
	logOut.Infow("supervisor shutdown complete")
}
