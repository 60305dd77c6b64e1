package service

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// FreeQuotaResetSpec fires at 00:00 UTC on the first day of each month.
const FreeQuotaResetSpec = "0 0 1 * *"

// NewScheduler registers the periodic tasks. Paid tiers are reset by
// invoice webhooks, so only the free tier needs a cron.
func NewScheduler(redisOpt asynq.RedisConnOpt, log zerolog.Logger) (*asynq.Scheduler, error) {
	l := log.With().Str("component", "scheduler").Logger()
	s := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   asynqLogger{l},
	})
	entryID, err := s.Register(FreeQuotaResetSpec, asynq.NewTask(TypeResetFreeQuota, nil),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", TypeResetFreeQuota, err)
	}
	l.Info().Str("entry_id", entryID).Str("cron", FreeQuotaResetSpec).Msg("periodic task registered")
	return s, nil
}
