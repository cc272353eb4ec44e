// Command server runs the keyspace store: the protocol server, the optional
// HTTP gateway and the Prometheus metrics endpoint.
//
// Configuration is read from a YAML file and KEYSPACE_* environment
// variables; see package config for the full list.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/keyspace/pkg/auth"
	"github.com/rhuss/keyspace/pkg/config"
	"github.com/rhuss/keyspace/pkg/debug"
	"github.com/rhuss/keyspace/pkg/extension"
	"github.com/rhuss/keyspace/pkg/gateway"
	"github.com/rhuss/keyspace/pkg/storage"
	"github.com/rhuss/keyspace/pkg/storage/leveldb"
	"github.com/rhuss/keyspace/pkg/storage/memory"
	"github.com/rhuss/keyspace/pkg/storage/postgres"
	"github.com/rhuss/keyspace/pkg/transport"
	transporthttp "github.com/rhuss/keyspace/pkg/transport/http"
	"github.com/rhuss/keyspace/pkg/transport/tcp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "keyspace-server",
		Usage:   "namespaced key-value store with expiring entries",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			return run(c.Context, cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	debug.Init(cfg.Log.Debug)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := restoreStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	access := gateway.New(manager, logger)

	sandbox := loadExtension(ctx, cfg.Extension, access, logger)
	defer sandbox.Close()

	dispatcherOpts := []transport.DispatcherOption{
		transport.WithPassword(auth.NewPassword(cfg.Server.Password)),
		transport.WithAttemptLimiter(auth.NewAttemptLimiter(cfg.Server.AuthRate, cfg.Server.AuthRate)),
		transport.WithLogger(logger),
	}
	if sandbox.Available() {
		dispatcherOpts = append(dispatcherOpts, transport.WithCommander(sandbox))
	}
	dispatcher := transport.NewDispatcher(access, dispatcherOpts...)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	manager.StartJanitor(gctx, cfg.Storage.SweepInterval)

	protoSrv := tcp.NewServer(dispatcher,
		tcp.WithIdleTimeout(cfg.Server.IdleTimeout),
		tcp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		tcp.WithLogger(logger),
	)
	g.Go(func() error { return protoSrv.Serve(gctx, ln) })

	if err := startGateway(gctx, g, cfg, loopbackAddr(ln.Addr()), logger); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Observability.Metrics, logger) })
	}

	logger.Info("keyspace started",
		"version", version,
		"addr", ln.Addr().String(),
		"storage", cfg.Storage.Type,
		"extension", sandbox.Available(),
		"gateway", cfg.Gateway.Enabled,
	)

	err = g.Wait()
	logger.Info("keyspace stopped")
	return err
}

// restoreStore opens the configured persister and restores the store from
// it.
func restoreStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*storage.Manager, error) {
	persister, err := openPersister(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	manager, err := storage.Open(ctx, persister, storage.WithLogger(logger))
	if err != nil {
		_ = persister.Close()
		return nil, fmt.Errorf("restoring store: %w", err)
	}

	st, err := manager.Stats(ctx)
	if err != nil {
		_ = manager.Close()
		return nil, err
	}
	logger.Info("store restored", "namespaces", st.Namespaces, "entries", st.Entries)
	if debug.Enabled(debug.Storage) {
		names, err := manager.Namespaces(ctx)
		if err == nil {
			debug.Log(debug.Storage, "restored namespaces", "names", names)
		}
	}
	return manager, nil
}

// loadExtension prepares the extension sandbox and runs its on_load hook.
// A script that fails to load disables scripting only; the store keeps
// serving.
func loadExtension(ctx context.Context, cfg config.ExtensionConfig, access *gateway.Access, logger *slog.Logger) *extension.Sandbox {
	sandbox := extension.New(extension.Config{
		Root:     cfg.Root,
		Entry:    cfg.Entry,
		Settings: cfg.Config,
	}, access, logger)
	if err := sandbox.OnLoad(ctx); err != nil {
		logger.Warn("extension failed to load, continuing without it", "error", err)
	}
	return sandbox
}

// openPersister builds the configured persister. The memory type keeps
// nothing across restarts.
func openPersister(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Persister, error) {
	switch cfg.Type {
	case "leveldb":
		store, err := leveldb.New(leveldb.Config{Path: cfg.LevelDB.Path, Sync: cfg.LevelDB.Sync})
		if err != nil {
			return nil, err
		}
		logger.Info("storage enabled", "type", "leveldb", "path", cfg.LevelDB.Path)
		return store, nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		logger.Info("storage enabled", "type", "postgres")
		return store, nil
	default:
		logger.Info("storage is volatile", "type", "memory")
		return memory.New(), nil
	}
}

// startGateway connects the HTTP gateway to the protocol server at
// protoAddr and serves it in g.
func startGateway(ctx context.Context, g *errgroup.Group, cfg *config.Config, protoAddr string, logger *slog.Logger) error {
	if !cfg.Gateway.Enabled {
		return nil
	}

	pool := transporthttp.NewPool(protoAddr, cfg.Server.Password, cfg.Gateway.PoolSize)
	gw, err := transporthttp.NewGateway(ctx, pool, cfg.Server.Password, transporthttp.Config{
		Addr:            cfg.Gateway.Addr,
		RequestTimeout:  cfg.Gateway.RequestTimeout,
		MaxBodySize:     cfg.Gateway.MaxBodySize,
		TokenTTL:        cfg.Gateway.TokenTTL,
		AllowedOrigins:  cfg.Gateway.CORS.AllowedOrigins,
		AuthRate:        cfg.Server.AuthRate,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Version:         version,
	}, logger)
	if err != nil {
		_ = pool.Close()
		return fmt.Errorf("starting gateway: %w", err)
	}

	srv := transporthttp.NewServer(gw)
	g.Go(func() error {
		defer pool.Close()
		return srv.ListenAndServe(ctx)
	})
	return nil
}

// loopbackAddr turns a wildcard listen address into one the gateway can
// dial.
func loopbackAddr(addr net.Addr) string {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}
	if tcpAddr.IP == nil || tcpAddr.IP.IsUnspecified() {
		return net.JoinHostPort("127.0.0.1", fmt.Sprint(tcpAddr.Port))
	}
	return tcpAddr.String()
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server starting", "addr", cfg.Addr, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
