package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"BookEmpire-server/metrics"
	"BookEmpire-server/models"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// StartGate decides whether a job may start now.
type StartGate interface {
	Allow(ctx context.Context) (bool, time.Duration, error)
}

type ServerConfig struct {
	Concurrency    int
	RetryBaseDelay time.Duration
}

// Processor consumes queued jobs.
type Processor struct {
	db       *gorm.DB
	pipeline *Pipeline
	gate     StartGate
	log      zerolog.Logger
}

func NewProcessor(db *gorm.DB, pipeline *Pipeline, gate StartGate, log zerolog.Logger) *Processor {
	return &Processor{
		db:       db,
		pipeline: pipeline,
		gate:     gate,
		log:      log.With().Str("component", "processor").Logger(),
	}
}

// NewServer builds the asynq worker server. Rate-limit deferrals are retried
// after the limiter's wait and do not use up an attempt.
func NewServer(redisOpt asynq.RedisConnOpt, cfg ServerConfig, log zerolog.Logger) *asynq.Server {
	l := log.With().Str("component", "asynq").Logger()
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      QueueWeights,
		RetryDelayFunc: func(n int, err error, t *asynq.Task) time.Duration {
			var rl *RateLimitError
			if errors.As(err, &rl) {
				return rl.RetryIn
			}
			return RetryDelay(cfg.RetryBaseDelay, n)
		},
		IsFailure: func(err error) bool {
			return !IsRateLimitError(err)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			if IsRateLimitError(err) {
				return
			}
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			l.Error().Err(err).
				Str("type", t.Type()).
				Int("retried", retried).
				Int("max_retry", maxRetry).
				Msg("task failed")
		}),
		Logger: asynqLogger{l},
	})
}

// RetryDelay is base·2ⁿ for the n-th retry (n starts at 0).
func RetryDelay(base time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 10 {
		n = 10
	}
	return base << uint(n)
}

func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateBook, p.HandleGenerateBook)
	mux.HandleFunc(TypeResetFreeQuota, p.HandleResetFreeQuota)
	return mux
}

func (p *Processor) HandleGenerateBook(ctx context.Context, t *asynq.Task) error {
	var payload BookPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if payload.BookProjectID == "" {
		return fmt.Errorf("payload missing book_project_id: %w", asynq.SkipRetry)
	}

	log := p.log.With().Str("book_project_id", payload.BookProjectID).Logger()
	if taskID, ok := asynq.GetTaskID(ctx); ok {
		log = log.With().Str("job_id", taskID).Logger()
	}

	if p.gate != nil {
		ok, wait, err := p.gate.Allow(ctx)
		if err != nil {
			return err
		}
		if !ok {
			metrics.JobsRateLimitedTotal.Inc()
			log.Info().Dur("retry_in", wait).Msg("start rate limit reached, deferring")
			return &RateLimitError{RetryIn: wait}
		}
	}

	metrics.JobsInProgress.Inc()
	defer metrics.JobsInProgress.Dec()

	err := p.pipeline.Run(ctx, payload)
	switch {
	case errors.Is(err, ErrBookNotFound):
		metrics.JobsCompletedTotal.WithLabelValues("skipped").Inc()
		log.Warn().Msg("book project no longer exists, dropping job")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case err != nil:
		metrics.JobsCompletedTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.JobsCompletedTotal.WithLabelValues("completed").Inc()
	return nil
}

func (p *Processor) HandleResetFreeQuota(ctx context.Context, t *asynq.Task) error {
	n, err := models.ResetFreeTierQuotas(p.db.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("reset free quotas: %w", err)
	}
	p.log.Info().Int64("users", n).Msg("free tier quotas reset")
	return nil
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
