package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BookEmpire-server/config"
	"BookEmpire-server/export"
	"BookEmpire-server/logger"
	"BookEmpire-server/middleware"
	"BookEmpire-server/models"
	"BookEmpire-server/routers"
	"BookEmpire-server/routers/api"
	"BookEmpire-server/service"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const startLimiterKey = "bookempire:pipeline:starts"

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := models.Open(cfg.MySQL.DSN, cfg.MySQL.MaxOpenConns, cfg.MySQL.MaxIdleConns)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	if err := models.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	log.Info().Msg("database initialized")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	queue := service.NewQueue(redisOpt, service.QueueOptions{
		MaxRetry: cfg.Worker.MaxRetry,
		Timeout:  cfg.Worker.Timeout,
	}, log)
	defer queue.Close()

	store, err := service.NewStorage(service.StorageConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		Region:    cfg.MinIO.Region,
		UseSSL:    cfg.MinIO.UseSSL,
		PublicURL: cfg.MinIO.PublicURL,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init object storage")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		worker    *asynq.Server
		scheduler *asynq.Scheduler
	)
	if cfg.Worker.Enabled {
		writer := service.NewOpenAIWriter(service.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
		painter, err := service.NewReplicateClient(service.ReplicateConfig{
			APIToken:     cfg.Replicate.APIToken,
			BaseURL:      cfg.Replicate.BaseURL,
			Version:      cfg.Replicate.Version,
			PollInterval: cfg.Replicate.PollInterval,
			Timeout:      cfg.Replicate.Timeout,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("init replicate client")
		}
		pipeline := service.NewPipeline(db, writer, painter, store, log)
		gate := service.NewStartLimiter(rdb, startLimiterKey, cfg.Worker.RateLimit, cfg.Worker.RateWindow)
		processor := service.NewProcessor(db, pipeline, gate, log)

		worker = service.NewServer(redisOpt, service.ServerConfig{
			Concurrency:    cfg.Worker.Concurrency,
			RetryBaseDelay: cfg.Worker.RetryBaseDelay,
		}, log)
		if err := worker.Start(processor.Mux()); err != nil {
			log.Fatal().Err(err).Msg("start worker")
		}
		log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker started")

		scheduler, err = service.NewScheduler(redisOpt, log)
		if err != nil {
			log.Fatal().Err(err).Msg("init scheduler")
		}
		if err := scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("start scheduler")
		}
	}

	billing := service.NewBilling(db, service.NewStripeProvider(cfg.Stripe.SecretKey), service.BillingConfig{
		WebhookSecret: cfg.Stripe.WebhookSecret,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
	}, log)

	handler := api.NewHandler(api.Deps{
		DB:       db,
		Queue:    queue,
		Billing:  billing,
		Store:    store,
		Renderer: export.Renderer{EPUB: export.EPUBOptions{EmbedCover: true, Log: log}},
		Log:      log,
	})

	limiter := middleware.NewRateLimiter(cfg.Auth.GenerateRPS, cfg.Auth.GenerateBurst)
	go limiter.Cleanup(10*time.Minute, ctx.Done())

	router := routers.NewRouter(handler, routers.Options{
		DB: db,
		Auth: middleware.AuthConfig{
			Secret:     cfg.Auth.JWTSecret,
			CookieName: cfg.Auth.CookieName,
		},
		RateLimiter: limiter,
		Log:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if scheduler != nil {
		scheduler.Shutdown()
	}
	if worker != nil {
		worker.Shutdown()
	}
	log.Info().Msg("server stopped")
}
