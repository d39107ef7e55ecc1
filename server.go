package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"socialfeed/api/handlers"
	"socialfeed/api/middleware"
	"socialfeed/api/routes"
	"socialfeed/config"
	"socialfeed/db"
	"socialfeed/logging"
	"socialfeed/services"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const serviceName = "socialfeed"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "etc/app.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	logging.Init(logging.Config{Level: cfg.Logs.Level, Pretty: cfg.Logs.Pretty, ServiceName: serviceName})
	logger := logging.L()

	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func run(cfg *config.Config) error {
	logger := logging.L()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	manager, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer manager.Close()
	if err := manager.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr(), err)
	}

	rnd := services.NewEntropyRand()
	var queue services.TaskQueue
	if cfg.Workers.Queue == "redis" {
		queue = services.NewRedisTaskQueue(redisClient, cfg.Workers.QueueName)
	} else {
		queue = services.NewMemoryTaskQueue(cfg.Workers.Buffer)
	}

	// Без брокера события доставляются в уведомления в процессе.
	var publisher services.EventPublisher
	rabbit, err := services.NewRabbitMQ(cfg.RabbitMQ)
	if err != nil {
		logger.Warn().Err(err).Msg("RabbitMQ unavailable, delivering events in-process")
	} else {
		defer rabbit.Close()
		publisher = rabbit
	}

	app := services.NewApp(services.AppDeps{
		DB:         manager,
		Timeline:   services.NewRedisTimelineStore(redisClient, rnd),
		Queue:      queue,
		Publisher:  publisher,
		Feed:       cfg.Feed,
		Workers:    cfg.Workers,
		Registerer: prometheus.DefaultRegisterer,
		Rand:       rnd,
	})

	tokens := middleware.NewTokenManager(cfg.Auth.JWTSecret, 0)
	h := &handlers.Handler{
		Users:    app.Users,
		Posts:    app.Posts,
		Feed:     app.Feed,
		Follows:  app.Follows,
		Likes:    app.Likes,
		Comments: app.Comments,
		Notify:   app.Notify,
		Fanout:   app.Fanout,
		Queue:    app.Dispatcher,
		WS:       app.WS,
		Tokens:   tokens,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(logger))
	router.Use(middleware.NewHTTPMetrics(prometheus.DefaultRegisterer).Middleware(serviceName))
	routes.PublicApi(router, h, &middleware.Authenticator{Tokens: tokens, AllowHeaderAuth: cfg.Auth.AllowHeaderAuth})
	routes.Service(router, h, prometheus.DefaultGatherer)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Backend.Host, cfg.Backend.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return app.Dispatcher.Run(gctx)
	})
	if rabbit != nil {
		g.Go(func() error {
			return rabbit.Consume(gctx, app.Notify)
		})
	}
	return g.Wait()
}
