package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/ghorza/ghorza/internal/accounts"
	"github.com/ghorza/ghorza/internal/archive"
	"github.com/ghorza/ghorza/internal/catalog"
	"github.com/ghorza/ghorza/internal/config"
	"github.com/ghorza/ghorza/internal/db"
	"github.com/ghorza/ghorza/internal/delivery"
	"github.com/ghorza/ghorza/internal/linking"
	"github.com/ghorza/ghorza/internal/logger"
	"github.com/ghorza/ghorza/internal/notify"
	"github.com/ghorza/ghorza/internal/router"
	"github.com/ghorza/ghorza/internal/server"
	"github.com/ghorza/ghorza/internal/telegram"
	"github.com/ghorza/ghorza/internal/webhook"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			provideQuerier,
			provideAccountsStore,
			provideCatalogStore,
			provideTelegramClient,
			provideDispatcher,
			provideArchiveBuilder,
			provideSweeper,
			provideLinker,
			provideRouter,
			provideOrchestrator,
			provideServerHandler(provideWebhookHandler),
			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres.MigrateURL()); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	pool, err := db.Open(context.Background(), cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideQuerier(pool *pgxpool.Pool) db.Querier { return pool }

func provideAccountsStore(log *slog.Logger, q db.Querier) *accounts.Store {
	return accounts.NewStore(log, q)
}

func provideCatalogStore(log *slog.Logger, q db.Querier) *catalog.Store {
	return catalog.NewStore(log, q)
}

func provideTelegramClient(log *slog.Logger, cfg config.Config) (*telegram.Client, error) {
	client, err := telegram.NewClient(log, cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram client: %w", err)
	}
	return client, nil
}

func provideDispatcher(log *slog.Logger, client *telegram.Client) *notify.Dispatcher {
	return notify.NewDispatcher(log, client)
}

func provideArchiveBuilder(log *slog.Logger, cfg config.Config) *archive.Builder {
	return archive.NewBuilder(log, cfg.Delivery.TempDir, archive.MaxArchiveBytes)
}

func provideSweeper(log *slog.Logger, cfg config.Config) *archive.Sweeper {
	dir := strings.TrimSpace(cfg.Delivery.TempDir)
	if dir == "" {
		dir = os.TempDir()
	}
	retention := time.Duration(cfg.Delivery.ArchiveRetentionMinutes) * time.Minute
	return archive.NewSweeper(log, dir, retention)
}

func provideLinker(log *slog.Logger, customers *accounts.Store, dispatcher *notify.Dispatcher) *linking.Service {
	return linking.NewService(log, customers, dispatcher)
}

func provideRouter(log *slog.Logger, customers *accounts.Store, linker *linking.Service, dispatcher *notify.Dispatcher) *router.Router {
	return router.NewRouter(log, customers, linker, dispatcher)
}

func provideOrchestrator(log *slog.Logger, builder *archive.Builder, dispatcher *notify.Dispatcher, failures *catalog.Store) *delivery.Orchestrator {
	return delivery.NewOrchestrator(log, builder, dispatcher, failures)
}

func provideWebhookHandler(log *slog.Logger, rt *router.Router, orders *catalog.Store, customers *accounts.Store, orchestrator *delivery.Orchestrator, client *telegram.Client) *webhook.Handler {
	return webhook.NewHandler(log, rt, orders, customers, orchestrator, client)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Handlers)
}

func startSweeper(lc fx.Lifecycle, sweeper *archive.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sweeper.Start() },
		OnStop:  func(ctx context.Context) error { sweeper.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config, client *telegram.Client) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			self := client.GetSelfInfo()
			log.Info("bot authenticated",
				slog.Int64("bot_id", self.ID),
				slog.String("bot_username", self.Username))
			if url := strings.TrimSpace(cfg.Telegram.WebhookURL); url != "" {
				// Startup proceeds without a registered webhook; the
				// order trigger endpoint does not depend on it.
				if err := client.SetWebhook(ctx, url); err != nil {
					log.Warn("webhook registration failed", slog.String("url", url), slog.Any("error", err))
				} else {
					log.Info("webhook registered", slog.String("url", url))
				}
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
