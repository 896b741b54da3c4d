package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/afom12/Taskflow/api"
	"github.com/afom12/Taskflow/internal/config"
	"github.com/afom12/Taskflow/internal/metrics"
	"github.com/afom12/Taskflow/mutation"
	"github.com/afom12/Taskflow/notify"
	"github.com/afom12/Taskflow/room"
	"github.com/afom12/Taskflow/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rooms := room.NewManager(store, logger)
	realtime := metrics.NewRealtime(reg, rooms)

	var (
		directory   storage.Directory
		broadcaster room.Broadcaster
		deduper     api.Deduper
	)
	if opts := cfg.RedisOptions(); opts != nil {
		rc := redis.NewClient(opts)
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Fatalf("redis: %v", err)
		}
		directory = storage.NewRedisDirectory(rc)
		broadcaster = room.NewRedisBroadcaster(rc, cfg.BoardUpdatesChannel, realtime)
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		go room.SubscribeUpdates(ctx, logger, rc, cfg.BoardUpdatesChannel, rooms)
	} else {
		logger.Info("REDIS_CONNECTION_STRING not set, broadcasting within this instance only")
		directory = storage.NewMemoryDirectory()
		broadcaster = room.NewLocalBroadcaster(rooms, logger, realtime)
	}

	mutOpts := []mutation.Option{
		mutation.WithMetrics(realtime),
		mutation.WithMaxAttempts(cfg.MutationMaxAttempts),
	}
	if cfg.BoardEventsQueue != "" {
		queue, err := storage.NewEventQueue(cfg.StorageConnectionString, cfg.BoardEventsQueue)
		if err != nil {
			logger.Fatalf("event queue: %v", err)
		}
		if err := queue.EnsureQueue(ctx); err != nil {
			logger.Fatalf("event queue: %v", err)
		}
		events := notify.NewDispatcher(queue, logger, notify.Options{
			Workers:        cfg.EnqueueWorkers,
			Buffer:         cfg.EnqueueBuffer,
			EnqueueTimeout: cfg.EnqueueTimeout,
			HandoffTimeout: cfg.EnqueueHandoffTimeout,
			Dropped:        realtime.EventDropped,
		})
		defer events.Close()
		mutOpts = append(mutOpts, mutation.WithEvents(events))
	}
	mutator := mutation.NewHandler(store, directory, broadcaster, logger, mutOpts...)

	auth, err := newAuth(cfg)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "taskflow",
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/ws" || c.Path() == "/metrics"
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))

	api.Register(e, api.Services{
		Store:     store,
		Auth:      auth,
		Rooms:     rooms,
		Mutator:   mutator,
		Directory: directory,
		Deduper:   deduper,
		Logger:    logger,
		Metrics:   realtime,
		WS: api.WSConfig{
			SendBuffer:      cfg.WSSendBuffer,
			MaxMessageBytes: cfg.WSMaxMessageBytes,
			RateLimit:       cfg.WSRateLimit,
			RateBurst:       cfg.WSRateBurst,
			WriteTimeout:    cfg.WSWriteTimeout,
			PingInterval:    cfg.WSPingInterval,
			MutationTimeout: cfg.MutationTimeout,
			OriginPatterns:  originPatterns(cfg.CORSOrigins),
		},
	})

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
}

func newLogger(cfg *config.Config) *log.Logger {
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}

// openStore opens the configured board store. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (storage.BoardStore, func(), error) {
	noop := func() {}
	switch cfg.BoardStore {
	case config.StoreTables:
		s, err := storage.NewTableStore(cfg.StorageConnectionString, cfg.BoardsTable)
		if err != nil {
			return nil, noop, err
		}
		if err := s.EnsureTable(ctx); err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case config.StorePostgres:
		db, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		s := storage.NewPostgresStore(db)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return s, closer(db), nil
	case config.StoreBadger:
		s, err := storage.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, noop, err
		}
		return s, closer(s), nil
	default:
		return storage.NewMemoryStore(), noop, nil
	}
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("close store")
		}
	}
}

func newAuth(cfg *config.Config) (*api.Auth, error) {
	if cfg.LocalJWT() {
		return api.NewLocalAuth(cfg.JWTSecret(), cfg.Auth0Audience, issuerFor(cfg)), nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, cfg.Auth0Audience, cfg.Issuer(), cfg.JWKSCacheTTL), nil
}

func issuerFor(cfg *config.Config) string {
	if cfg.Auth0Domain == "" {
		return ""
	}
	return cfg.Issuer()
}

// originPatterns turns CORS origins into websocket origin host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
