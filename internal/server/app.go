// Package server initializes and runs the gatekeeper server: it opens the
// credential database, runs migrations, wires the protocol codec and the
// dispatch chain, and starts the TCP endpoint with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/protocol"
	"github.com/dmitrijs2005/gatekeeper/internal/server/accounts"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/conn"
	"github.com/dmitrijs2005/gatekeeper/internal/server/dispatch"
	"github.com/dmitrijs2005/gatekeeper/internal/server/handshake"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/tcp"
	"golang.org/x/time/rate"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *tcp.Server
}

func NewApp(cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	ctx := context.Background()

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	// The database container may still be coming up; give it a few tries.
	if err := common.Retry(ctx, func(ctx context.Context) error {
		return db.PingContext(ctx)
	}); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	sessions := conn.NewRegistry()
	svc := accounts.NewService(db, rm, sessions, logger, cfg.LockoutThreshold, cfg.LockoutWindow)

	registry := dispatch.NewRegistry()
	registry.Register(protocol.OpHandshake, dispatch.Registration{
		Handler:       handshake.NewHandler(logger).Handle,
		MinPermission: conn.PermissionNone,
	})
	accounts.NewHandlers(svc).Mount(registry)

	codec := protocol.NewCodec(protocol.NewPoolManager(cfg.PoolCapacity))

	dispatcher := dispatch.NewDispatcher(registry, logger, dispatch.Options{
		HandlerTimeout: cfg.HandlerTimeout,
		MaxConcurrent:  cfg.MaxConcurrent,
		GlobalRate:     rate.Limit(cfg.GlobalPerSecond),
		GlobalBurst:    cfg.GlobalBurst,
		ReleasePacket:  codec.Release,
	})

	srv := tcp.NewServer(tcp.Options{
		Address:       cfg.EndpointAddr,
		ThrottleRate:  rate.Limit(cfg.ThrottlePerSecond),
		ThrottleBurst: cfg.ThrottleBurst,
	}, logger, codec, dispatcher, sessions)

	return &App{config: cfg, logger: logger, db: db, server: srv}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startTCPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startTCPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "err", err)
	}
}
