package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"globetales-service/internal/auth"
	"globetales-service/internal/config"
	"globetales-service/internal/db"
	"globetales-service/internal/grpcserver"
	"globetales-service/internal/handlers"
	"globetales-service/internal/kafka"
	"globetales-service/internal/logging"
	"globetales-service/internal/messaging"
	"globetales-service/internal/middleware"
	"globetales-service/internal/observability"
	"globetales-service/internal/rabbitmq"
	"globetales-service/internal/ratelimit"
	"globetales-service/internal/repositories"
	"globetales-service/internal/telemetry"
	"globetales-service/internal/ws"
)

// closer is a shutdown step, run in reverse registration order.
type closer struct {
	name string
	fn   func(context.Context) error
}

type store struct {
	messages repositories.MessageRepository
	users    repositories.UserRepository
	ping     func(context.Context) error
}

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json, toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// logger is not built yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []closer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(shutdownCtx); err != nil {
				logger.Warn("shutdown step failed", zap.String("step", closers[i].name), zap.Error(err))
			}
		}
	}()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closer{"tracing", shutdownTracing})

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closer{"store", closeStore})

	limiter, closeLimiter := newLimiter(ctx, cfg, logger)
	closers = append(closers, closer{"ratelimit", closeLimiter})

	publisher := newPublisher(cfg, logger)
	closers = append(closers, closer{"publisher", func(context.Context) error { return publisher.Close() }})
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	hub := ws.NewHub(publisher, logger)
	service := messaging.NewService(st.messages, st.users, hub, publisher, logger, messaging.Config{
		MaxLength: cfg.MaxMessageLength,
		PageMax:   cfg.PageMax,
	})
	directory := messaging.NewDirectory(st.users)
	emitter := telemetry.NewAuditEmitter(publisher, logger, cfg.ServiceName, cfg.Env)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(cfg, logger, routerDeps{
		verifier:  verifier,
		limiter:   limiter,
		messages:  handlers.NewMessageHandler(service, emitter, logger),
		users:     handlers.NewUserHandler(directory, logger),
		websocket: ws.NewHandler(hub, verifier, cfg.JWTCookieName, cfg.AllowedOrigins()),
		emitter:   emitter,
		hub:       hub,
		ping:      st.ping,

		publisherMode: rabbitmq.PublisherMode(publisher),
	})

	grpcSrv := grpcserver.New(grpcserver.Probe(st.ping), logger)
	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}
	go grpcSrv.Watch(ctx, 15*time.Second)
	closers = append(closers, closer{"grpc", func(ctx context.Context) error {
		grpcSrv.Stop(ctx)
		return nil
	}})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	closers = append(closers, closer{"http", httpSrv.Shutdown})

	errCh := make(chan error, 2)
	go func() {
		if err := grpcSrv.Serve(grpcLis); err != nil {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return nil
	case err := <-errCh:
		return err
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store, func(context.Context) error, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return store{}, nil, err
		}
		database := client.Database(cfg.MongoDB)
		messages := repositories.NewMongoMessageRepo(database)
		if err := messages.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return store{}, nil, err
		}
		logger.Info("mongo store ready", zap.String("database", cfg.MongoDB))
		return store{
			messages: messages,
			users:    repositories.NewMongoUserRepo(database),
			ping:     func(ctx context.Context) error { return client.Ping(ctx, nil) },
		}, client.Disconnect, nil

	case config.StoreDriverMemory:
		mem := repositories.NewMemoryStore()
		if cfg.UsersFile != "" {
			if err := mem.LoadUsersFile(cfg.UsersFile); err != nil {
				return store{}, nil, err
			}
		}
		logger.Warn("using in-memory store, data is lost on restart")
		return store{
			messages: mem,
			users:    mem,
			ping:     func(context.Context) error { return nil },
		}, func(context.Context) error { return nil }, nil

	default:
		database, err := db.Connect(ctx, cfg.DBDSN, logger)
		if err != nil {
			return store{}, nil, err
		}
		logger.Info("postgres store ready")
		return store{
			messages: repositories.NewMessageRepo(database),
			users:    repositories.NewUserRepo(database),
			ping:     database.PingContext,
		}, func(context.Context) error { return database.Close() }, nil
	}
}

func newLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, func(context.Context) error) {
	noop := func(context.Context) error { return nil }
	if cfg.SendPerMinute == 0 {
		return ratelimit.Unlimited{}, noop
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		logger.Info("redis rate limiter", zap.String("addr", cfg.RedisAddr), zap.Int("per_minute", cfg.SendPerMinute))
		return ratelimit.NewRedisLimiter(client, "ratelimit:send:", cfg.SendPerMinute, time.Minute),
			func(context.Context) error { return client.Close() }
	}
	local := ratelimit.NewLocalLimiter(cfg.SendPerMinute)
	go local.Run(ctx, time.Minute)
	return local, noop
}

func newPublisher(cfg *config.Config, logger *zap.Logger) rabbitmq.Publisher {
	switch cfg.EventsDriver {
	case config.EventsDriverAMQP:
		return rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	case config.EventsDriverKafka:
		p, err := kafka.NewPublisher(cfg.Brokers(), cfg.KafkaTopic, logger)
		if err != nil {
			return rabbitmq.NewNoopPublisher(logger, err.Error())
		}
		return p
	default:
		return rabbitmq.NewNoopPublisher(logger, "events disabled")
	}
}

type routerDeps struct {
	verifier  *auth.Verifier
	limiter   ratelimit.Limiter
	messages  *handlers.MessageHandler
	users     *handlers.UserHandler
	websocket *ws.Handler
	emitter   *telemetry.AuditEmitter
	hub       *ws.Hub
	ping      func(context.Context) error

	publisherMode string
}

func newRouter(cfg *config.Config, logger *zap.Logger, d routerDeps) *gin.Engine {
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(d.verifier, cfg.JWTCookieName)

	messages := router.Group("/messages", authMiddleware)
	messages.POST("/send", middleware.RateLimit(d.limiter, logger), d.messages.Send)
	messages.GET("/conversations", d.messages.ListConversations)
	messages.GET("/:userId", d.messages.GetMessages)
	messages.PUT("/read/:userId", d.messages.MarkRead)

	router.GET("/users/search", authMiddleware, d.users.Search)
	router.GET("/users/profile/:userId", d.users.Profile)

	router.GET("/ws", d.websocket.Handle)

	router.GET("/healthz", handlers.Health(map[string]handlers.Check{"store": d.ping}, logger))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, handlers.DebugOptions{
		Emitter:       d.emitter,
		Connections:   d.hub,
		PublisherMode: d.publisherMode,
	}, cfg.DebugRoutes)

	return router
}
