// @title			chatpresence API
// @version		1.0
// @description	Presence, room messaging and broadcast-room mic coordination.
// @BasePath		/api
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"chatpresence/internal/config"
	"chatpresence/internal/database/db_client"
	"chatpresence/internal/dispatcher"
	"chatpresence/internal/http/chathandler"
	"chatpresence/internal/http/http_server"
	"chatpresence/internal/msgcache"
	"chatpresence/internal/outbox"
	"chatpresence/internal/redis/redis_client"
	"chatpresence/internal/redis/redis_functions"
	"chatpresence/internal/redis/relay"
	"chatpresence/internal/redis/watcher/roomwatcher"
	"chatpresence/internal/storage"
	"chatpresence/internal/storage/pgstore"
	"chatpresence/internal/storage/presencemirror"
	"chatpresence/internal/syncseen"
	"chatpresence/internal/ws"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//go:generate go tool swag init -g main.go -o api_specs --outputTypes json,yaml

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	clock := clockwork.NewRealClock()

	// 3. Postgres db client
	pgDb, err := db_client.Open(ctx, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()
	if err := pgstore.Migrate(ctx, pgDb); err != nil {
		Log.Fatal("pg-migrate", zap.Error(err))
	}
	var store storage.Storage = pgstore.New(pgDb)

	// 4. Redis: presence mirror and cross-instance relay
	var (
		redisClient *redis.Client
		mirror      *presencemirror.Mirror
		publisher   *relay.Publisher
	)
	if cfg.RedisEnabled {
		redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort), "chatpresence-"+cfg.InstanceID)
		if err != nil {
			Log.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()

		// Load the Redis Functions lua
		if err := redis_functions.LoadAll(ctx, redisClient); err != nil {
			Log.Fatal("load-redis-funcs", zap.Error(err))
		}
		mirror = presencemirror.New(store, redisClient, cfg.InstanceID, clock)
		store = mirror
		publisher = relay.NewPublisher(redisClient, cfg.InstanceID, cfg.OutboxQueueSize)
	}

	// 5. Core
	box := outbox.New(store, outbox.Options{
		QueueSize:      cfg.OutboxQueueSize,
		Workers:        cfg.OutboxWorkers,
		MaxRetries:     cfg.OutboxMaxRetries,
		InitialBackoff: cfg.OutboxRetryBackoff,
		Timeout:        cfg.PersistTimeout,
	})
	hub := ws.NewHub()
	deps := dispatcher.Deps{Clock: clock, Store: store, Outbox: box, Live: hub}
	if publisher != nil {
		deps.Relay = publisher
	}
	core := dispatcher.New(dispatcher.Options{
		DefaultRoom:       cfg.DefaultRoom,
		MaxMessageLength:  cfg.MaxMessageLength,
		DebounceWindow:    cfg.DebounceWindow,
		ReconcileInterval: cfg.ReconcileInterval,
		SweepInterval:     cfg.SweepInterval,
		LookupTimeout:     cfg.PersistTimeout,
		Cache: msgcache.Options{
			RoomSize:    cfg.RoomCacheSize,
			PrivateSize: cfg.PrivateCacheSize,
			TTL:         cfg.CacheTTL,
		},
	}, deps)

	// 6. HTTP + WS server
	var dir chathandler.Directory
	if mirror != nil {
		dir = mirror
	}
	wsSrv := ws.NewWsServer(hub, core, store)
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, chathandler.New(core, dir))

	// 7. Background workers
	// The core stops after the last-seen syncer so its final sync can still
	// read the registry.
	g, gctx := errgroup.WithContext(ctx)
	coreCtx, stopCore := context.WithCancel(context.Background())
	defer stopCore()
	g.Go(func() error { return core.Run(coreCtx) })
	g.Go(func() error { box.Run(gctx); return nil })
	g.Go(func() error {
		defer stopCore()
		syncseen.New(core, store, clock, cfg.LastSeenSync).Run(gctx)
		return nil
	})
	if publisher != nil {
		g.Go(func() error { publisher.Run(gctx); return nil })
		g.Go(func() error {
			roomwatcher.Run(gctx, redisClient, cfg.InstanceID, core)
			return nil
		})
	}
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		hub.CloseAll("server shutting down")
		return httpServer.Dispose()
	})

	if err := g.Wait(); err != nil {
		Log.Error("shutdown", zap.Error(err))
	}
	Log.Info("bye", zap.String("instance_id", cfg.InstanceID))
}
