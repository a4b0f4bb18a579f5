package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat/internal/auth"
	"github.com/pelusa-v/pelusa-chat/internal/chat"
	"github.com/pelusa-v/pelusa-chat/internal/config"
	"github.com/pelusa-v/pelusa-chat/internal/handlers"
	"github.com/pelusa-v/pelusa-chat/internal/logger"
	"github.com/pelusa-v/pelusa-chat/internal/metrics"
	"github.com/pelusa-v/pelusa-chat/internal/presence"
	"github.com/pelusa-v/pelusa-chat/internal/retention"
	"github.com/pelusa-v/pelusa-chat/internal/store"
)

func main() {
	configDir := flag.String("config", "config", "directory holding config.yaml")
	flag.Parse()

	_ = godotenv.Load(".env")
	cfg, err := config.Load(*configDir)
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := store.OpenMySQL(cfg.MySQL)
	if err != nil {
		log.Fatal("mysql_open_failed", zap.Error(err))
	}
	st := store.New(db)

	var ps presence.Store = presence.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		client, err := presence.DialRedis(cfg.Redis)
		if err != nil {
			log.Fatal("redis_dial_failed", zap.Error(err))
		}
		defer client.Close()
		ps = presence.NewRedisStore(client)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Retention.Enabled {
		sweeper, err := retention.New(st, cfg.Retention, log)
		if err != nil {
			log.Fatal("retention_config_invalid", zap.Error(err))
		}
		go sweeper.Run(ctx)
	}

	m := metrics.New()
	mgr := chat.NewManager(log, m)
	go mgr.Run(ctx)

	calls := chat.NewCallRelay(mgr, st, st, ps, log, m)
	h := handlers.New(handlers.Deps{
		Store:      st,
		Auth:       auth.NewResolver(cfg.JWT, st),
		Manager:    mgr,
		Router:     chat.NewRouter(mgr, st, ps, calls, log, m).WithRateLimit(cfg.Hub.EventRate, cfg.Hub.EventBurst),
		Calls:      calls,
		Presence:   ps,
		Log:        log,
		SendBuffer: cfg.Hub.SendBuffer,
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", m.Handler())
	h.Routes(app)

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	log.Info("server_listening", zap.String("addr", cfg.Server.Addr()))
	if err := app.Listen(cfg.Server.Addr()); err != nil {
		log.Fatal("server_failed", zap.Error(err))
	}
}
