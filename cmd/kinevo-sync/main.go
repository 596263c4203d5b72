package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/bridge"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/config"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/server"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/session"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/storage"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
	"tailscale.com/tsnet"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	log.Info("kinevo-sync starting", "version", Version)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	loc, err := cfg.Sync.Location()
	if err != nil {
		log.Error("invalid timezone", "error", err)
		os.Exit(1)
	}

	// Run migrations
	dsn := cfg.Database.DSN()
	if err := storage.RunMigrations(dsn, "migrations"); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	if *migrateOnly {
		log.Info("migrate-only: exiting")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect database
	db, err := storage.New(ctx, dsn)
	if err != nil {
		log.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connected")

	debugLog, err := bridge.OpenDebugLog(cfg.Bridge.DebugLogPath, cfg.Bridge.DebugLogLimit)
	if err != nil {
		log.Error("failed to open bridge debug log", "path", cfg.Bridge.DebugLogPath, "error", err)
		os.Exit(1)
	}
	defer debugLog.Close()

	// The companion sees the current workout as soon as it (re)connects.
	var svc *session.Service
	hub := bridge.New(debugLog, bridge.Options{
		WriteTimeout: cfg.Bridge.WriteTimeout,
		OnReachabilityChange: func(reachable bool) {
			log.Info("companion reachability changed", "reachable", reachable)
			if reachable && svc != nil {
				go svc.RefreshWatch(ctx)
			}
		},
	}, log)
	defer hub.Close()

	svc = session.New(session.Config{
		UserID:         cfg.Sync.UserID,
		Location:       loc,
		DedupWindow:    cfg.Sync.DedupWindow,
		PersistTimeout: cfg.Sync.PersistTimeout,
	}, db, hub, log)
	if err := svc.Start(ctx); err != nil {
		log.Error("failed to start watch sync", "error", err)
		os.Exit(1)
	}
	defer svc.Stop()

	srv := server.New(server.Deps{
		Watch:   svc,
		Bridge:  hub,
		History: db,
		DB:      db,
		Link:    http.HandlerFunc(hub.ServeWS),
		UserID:  cfg.Sync.UserID,
	}, cfg.Auth.APIKey, log)

	// Start server: tsnet or plain HTTP
	var listener, bridgeLn net.Listener
	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		if cfg.Bridge.Listen != "" {
			bridgeLn, err = tsServer.Listen("tcp", cfg.Bridge.Listen)
			if err != nil {
				log.Error("tsnet bridge listen failed", "addr", cfg.Bridge.Listen, "error", err)
				os.Exit(1)
			}
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		if cfg.Bridge.Listen != "" {
			bridgeLn, err = net.Listen("tcp", cfg.Bridge.Listen)
			if err != nil {
				log.Error("bridge listen failed", "addr", cfg.Bridge.Listen, "error", err)
				os.Exit(1)
			}
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	if bridgeLn != nil {
		log.Info("companion bridge listening", "addr", bridgeLn.Addr().String())
		go func() {
			if err := hub.Serve(bridgeLn); err != nil && !errors.Is(err, watch.ErrClosed) {
				log.Error("bridge listener stopped", "error", err)
			}
		}()
	}

	if cfg.Sync.RefreshInterval > 0 {
		go refreshLoop(ctx, svc, cfg.Sync.RefreshInterval)
	}

	httpSrv := &http.Server{Handler: srv}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}

// refreshLoop re-resolves the next workout periodically so the companion
// rolls over at midnight and picks up program edits.
func refreshLoop(ctx context.Context, svc *session.Service, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			svc.RefreshWatch(ctx)
		}
	}
}
