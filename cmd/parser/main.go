package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blockedby/tgparser/internal/api"
	"github.com/blockedby/tgparser/internal/auth"
	"github.com/blockedby/tgparser/internal/cache"
	"github.com/blockedby/tgparser/internal/config"
	"github.com/blockedby/tgparser/internal/database"
	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/migrator"
	"github.com/blockedby/tgparser/internal/nats"
	"github.com/blockedby/tgparser/internal/parser"
	"github.com/blockedby/tgparser/internal/progress"
	"github.com/blockedby/tgparser/internal/publisher"
	"github.com/blockedby/tgparser/internal/repository"
	"github.com/blockedby/tgparser/internal/telegram"
	"github.com/blockedby/tgparser/internal/web"
	"github.com/blockedby/tgparser/migrations"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Info().Msg("starting telegram parser service")

	// 3. Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("service failed")
	}
	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	// 4. Database and schema
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if db.IsPostgres() {
		if cfg.MigrateOnStart {
			m, err := migrator.NewWithFS(migrations.FS)
			if err != nil {
				return err
			}
			if err := m.Up(ctx, cfg.DatabaseURL); err != nil {
				return err
			}
		}
	} else if err := repository.AutoMigrate(db.GORM); err != nil {
		return err
	}
	store := repository.New(db.GORM)

	checks := map[string]web.HealthCheck{"database": db.Ping}

	// 5. Cache
	var apiCache cache.Cache = cache.NewMemory(cfg.CacheTTL)
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using in-process cache")
		} else {
			defer func() { _ = rc.Close() }()
			apiCache = rc
			checks["redis"] = rc.Ping
		}
	}

	// 6. Event publishers
	hub := web.NewHub()
	events := publisher.Multi{publisher.NewCacheInvalidator(apiCache), hub}
	if cfg.NatsURL != "" {
		nc, err := nats.New(ctx, cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		} else {
			defer nc.Close()
			if err := nc.EnsureStream(ctx, nats.ParseStream, []string{nats.ParseSubjects}); err != nil {
				log.Warn().Err(err).Msg("ensure parse stream")
			}
			events = append(events, publisher.NewNATSPublisher(nc))
			checks["nats"] = func(context.Context) error {
				if !nc.IsConnected() {
					return errors.New("disconnected")
				}
				return nil
			}
		}
	}

	// 7. Telegram
	apiOpts := telegram.APIOptions{
		Limiter:      telegram.NewRateLimiter(cfg.TGRequestsPerS, 1),
		MaxFloodWait: cfg.TGMaxFloodWait,
		Logger:       log,
	}
	connector := parser.LinkConnector{
		Dial:    telegram.GotgprotoDialer(cfg.TGApiID, cfg.TGApiHash),
		Options: apiOpts,
	}
	creds := telegram.NewCredentialPool(cfg.TGBotTokens, store)

	// 8. Parsing
	registry, err := progress.NewRegistry(progress.Options{
		Dir:       cfg.ProgressDir,
		Singleton: cfg.ProgressSingleton,
		Grace:     cfg.ProgressGrace,
		Observer:  hub,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	orchestrator := parser.NewOrchestrator(parser.OrchestratorConfig{
		Store:      store,
		Sessions:   creds,
		Connector:  connector,
		Events:     events,
		ResetDelay: cfg.ParseResetDelay,
		Logger:     log,
	})
	manager := parser.NewManager(orchestrator, registry, log)
	lookup := parser.NewLookup(creds, connector, log)

	// 9. HTTP
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	authn := auth.Middleware(issuer, store)

	server := web.NewServer(&web.Config{
		Port:        cfg.HTTPPort,
		CORSOrigins: cfg.CORSOrigins,
		WSAuth:      authn,
		Checks:      checks,
	}, hub, log)
	server.Mount("/api/v1", api.NewRouter(api.NewHandler(store, manager, lookup, apiCache, log), authn))

	// 10. Run until a signal or a component failure
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.RunContext(gctx)
	})
	g.Go(func() error {
		log.Info().Int("port", cfg.HTTPPort).Msg("starting web server")
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down services...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := manager.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("parse jobs did not stop in time")
		}
		return server.Stop(shutdownCtx)
	})

	return g.Wait()
}
