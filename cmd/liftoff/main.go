package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"tailscale.com/tsnet"

	liftoff "github.com/Nickostick/project-lift-off"
	"github.com/Nickostick/project-lift-off/internal/config"
	"github.com/Nickostick/project-lift-off/internal/draftstore"
	"github.com/Nickostick/project-lift-off/internal/ingest/alpha"
	"github.com/Nickostick/project-lift-off/internal/leveling"
	"github.com/Nickostick/project-lift-off/internal/logging"
	"github.com/Nickostick/project-lift-off/internal/mcp"
	"github.com/Nickostick/project-lift-off/internal/memstore"
	"github.com/Nickostick/project-lift-off/internal/metrics"
	"github.com/Nickostick/project-lift-off/internal/server"
	"github.com/Nickostick/project-lift-off/internal/session"
	"github.com/Nickostick/project-lift-off/internal/storage"
	"github.com/Nickostick/project-lift-off/internal/templates"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// durableStore is everything the daemon needs from the durable store.
// *storage.DB and *memstore.Store both satisfy it.
type durableStore interface {
	session.RemoteStore
	leveling.Store
	server.Store
	alpha.Store
}

var (
	_ durableStore = (*storage.DB)(nil)
	_ durableStore = (*memstore.Store)(nil)
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	mcpMode := flag.Bool("mcp", false, "serve MCP over stdio instead of HTTP")
	flag.Parse()

	if err := run(*configPath, *migrateOnly, *mcpMode); err != nil {
		fmt.Fprintln(os.Stderr, "liftoff:", err)
		os.Exit(1)
	}
}

func run(configPath string, migrateOnly, mcpMode bool) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// stdout carries the MCP protocol in stdio mode.
	var logOut io.Writer = os.Stdout
	if mcpMode {
		logOut = os.Stderr
	}
	log, logCloser := logging.New(cfg.Log, logOut)
	defer func() { err = multierr.Append(err, logCloser.Close()) }()
	log.Info("liftoff starting", "version", Version, "db", cfg.Database.Driver, "local", cfg.Local.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()
	if migrateOnly {
		log.Info("migrate-only: exiting")
		return nil
	}

	local, err := draftstore.Open(cfg.Local.Driver, cfg.Local.Dir)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, local.Close()) }()

	catalog, err := templates.Load(cfg.Templates.Path)
	if err != nil {
		return err
	}

	m := metrics.New("liftoff")
	ctrl := session.New(store, leveling.New(store, log), local, session.Options{
		UserID:                 cfg.User.ID,
		HistoryFillConcurrency: cfg.Session.HistoryFillConcurrency,
		HistoryFillTimeout:     cfg.Session.HistoryFillTimeout,
		Metrics:                m,
		Logger:                 log,
	})
	defer func() { err = multierr.Append(err, ctrl.Close()) }()

	restored, err := ctrl.Restore(ctx)
	if err != nil {
		log.Warn("could not restore workout draft", "error", err)
	} else if restored {
		log.Info("restored workout in progress")
	}
	if err := ctrl.LoadLevel(ctx); err != nil {
		log.Warn("could not load level", "error", err)
	}

	if mcpMode {
		log.Info("serving MCP over stdio")
		return mcp.ServeStdio(mcp.New(mcp.NewLocal(cfg.User.ID, ctrl, store, catalog), Version, log))
	}

	deps := server.Deps{
		UserID:   cfg.User.ID,
		Session:  ctrl,
		Store:    store,
		Catalog:  catalog,
		Importer: alpha.NewProvider(store, log, m),
		Metrics:  m,
		APIKey:   cfg.Auth.APIKey,
		Identity: server.DevIdentity(server.UserInfo{Login: cfg.User.ID, DisplayName: cfg.User.DisplayName}),
		Logger:   log,
	}

	// Start server: tsnet or plain HTTP
	var listener net.Listener
	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			return fmt.Errorf("tsnet start: %w", err)
		}
		defer func() { err = multierr.Append(err, tsServer.Close()) }()

		lc, err := tsServer.LocalClient()
		if err != nil {
			return fmt.Errorf("tsnet local client: %w", err)
		}
		deps.Identity = server.TailscaleIdentity(lc, cfg.Tailscale.AllowedLogins, log)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			return fmt.Errorf("tsnet listen: %w", err)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	httpSrv := &http.Server{Handler: server.New(deps), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Open SSE streams end when the controller closes its broadcasters.
	ctrlErr := ctrl.Close()
	if err := multierr.Combine(ctrlErr, httpSrv.Shutdown(shutdownCtx)); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// openStore connects the durable store selected by database.driver. For
// PostgreSQL pending migrations are applied first.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (durableStore, func(), error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("using in-memory store; workout history is lost on exit")
		return memstore.New(), func() {}, nil
	}

	dsn := cfg.Database.DSN()
	if err := storage.RunMigrations(dsn, cfg.Database.Migrations, liftoff.MigrationsFS); err != nil {
		return nil, nil, err
	}
	log.Info("migrations applied")

	db, err := storage.New(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	log.Info("database connected")
	return db, db.Close, nil
}
