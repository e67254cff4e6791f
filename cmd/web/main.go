// cmd/web/main.go
//
// QRelay – registry service entry point.
//
// Startup sequence
// ----------------
//
//  1. Load env vars (conf/.env fallback to .env).
//
//  2. Load and validate configuration (YAML + QRELAY_ env overlay).
//
//  3. Start daily rotating logger (tees to console when running in a TTY).
//
//  4. Open the registry store: PostgreSQL when a DSN is configured,
//     otherwise the JSON file store.
//
//  5. Wire telemetry recorder, resolver, and administration service.
//
//  6. Serve the chi router (scan resolution, management API, console,
//     /health, /metrics) with hardened timeouts.
//
// Shutdown: SIGINT/SIGTERM cancels the run group; the HTTP server drains,
// then the telemetry recorder flushes its final deltas before the store
// closes.
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

	"github.com/yanizio/qrelay/internal/admin"
	"github.com/yanizio/qrelay/internal/config"
	"github.com/yanizio/qrelay/internal/database"
	"github.com/yanizio/qrelay/internal/logger"
	"github.com/yanizio/qrelay/internal/registry"
	"github.com/yanizio/qrelay/internal/registry/filestore"
	"github.com/yanizio/qrelay/internal/registry/sqlstore"
	"github.com/yanizio/qrelay/internal/resolve"
	"github.com/yanizio/qrelay/internal/scaninfo"
	"github.com/yanizio/qrelay/internal/server"
	"github.com/yanizio/qrelay/internal/telemetry"
	"github.com/yanizio/qrelay/internal/web"
)

// loadEnv prefers conf/.env; on dev it falls back to .env in the cwd.
func loadEnv() {
	if _, err := os.Stat("conf/.env"); err == nil {
		_ = godotenv.Load("conf/.env")
		return
	}
	_ = godotenv.Load()
}

// runningInTTY returns true when stdout is a character device.
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

	logOut, err := logger.New(cfg.Paths.Root, "web", runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer logOut.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Registry store ──────────────────────────────────────────────
	//
	var (
		store   registry.Store
		storage string
	)
	if cfg.Store.DSN != "" {
		db, err := database.Open(ctx, cfg.Store.DSN)
		if err != nil {
			logOut.Fatalw("connect store database", "err", err)
		}
		sq := sqlstore.New(db, logOut)
		if err := sq.Bootstrap(ctx); err != nil {
			logOut.Fatalw("bootstrap store schema", "err", err)
		}
		store, storage = sq, "postgres"
	} else {
		fs, err := filestore.Open(cfg.Store.Path, logOut)
		if err != nil {
			logOut.Fatalw("open registry file", "path", cfg.Store.Path, "err", err)
		}
		store, storage = fs, "file"
	}
	defer store.Close()

	//
	// ── 2.  Services ────────────────────────────────────────────────────
	//
	clients := scaninfo.NewParser(cfg.GeoIP.Path, logOut)
	defer clients.Close()

	recorder := telemetry.NewRecorder(store, cfg.Telemetry.FlushInterval, cfg.Telemetry.ScanLogSize, logOut)
	resolver := resolve.New(store, recorder, cfg.HTTP.ResolveTimeout)
	adminSvc := admin.New(store, logOut)

	handlers := web.New(adminSvc, resolver, store, clients, storage)
	srv := server.New(cfg.HTTP.ListenAddr, handlers.Router())

	//
	// ── 3.  Run group: HTTP server + telemetry flusher ──────────────────
	//
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logOut.Infow("listening", "addr", cfg.HTTP.ListenAddr, "storage", storage)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return recorder.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shctx)
	})

	if err := g.Wait(); err != nil {
		// Fatalw would skip the deferred closers; release the store and the
		// GeoIP reader before exiting.
		logOut.Errorw("service failed", "err", err)
		clients.Close()
		_ = store.Close()
		_ = logOut.Sync()
		os.Exit(1)
	}
	logOut.Infow("shutdown complete")
}
