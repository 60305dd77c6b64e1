package service

import (
	"encoding/json"
	"fmt"
	"time"

	"BookEmpire-server/models"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	TypeGenerateBook   = "book:generate"
	TypeResetFreeQuota = "quota:reset_free"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// QueueWeights gives paying tiers priority when workers pick jobs.
var QueueWeights = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// QueueForTier maps a subscription tier to its queue.
func QueueForTier(tier string) string {
	switch tier {
	case models.TierEnterprise:
		return QueueCritical
	case models.TierProfessional:
		return QueueDefault
	default:
		return QueueLow
	}
}

type GenerationConfig struct {
	TargetWordCount int    `json:"target_word_count"`
	Genre           string `json:"genre,omitempty"`
	Language        string `json:"language"`
}

type BookPayload struct {
	BookProjectID string           `json:"book_project_id"`
	UserID        string           `json:"user_id"`
	Config        GenerationConfig `json:"config"`
}

// Enqueuer hands accepted projects to the background pipeline.
type Enqueuer interface {
	EnqueueBookGeneration(p BookPayload, tier string) error
}

type QueueOptions struct {
	MaxRetry int
	Timeout  time.Duration
}

type Queue struct {
	client *asynq.Client
	opts   QueueOptions
	log    zerolog.Logger
}

func NewQueue(redisOpt asynq.RedisConnOpt, opts QueueOptions, log zerolog.Logger) *Queue {
	return &Queue{
		client: asynq.NewClient(redisOpt),
		opts:   opts,
		log:    log.With().Str("component", "queue").Logger(),
	}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueBookGeneration schedules the pipeline for one project. The project id
// doubles as the task id so a project can only be queued once.
func (q *Queue) EnqueueBookGeneration(p BookPayload, tier string) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeGenerateBook, payload,
		asynq.TaskID(p.BookProjectID),
		asynq.Queue(QueueForTier(tier)),
		asynq.MaxRetry(q.opts.MaxRetry),
		asynq.Timeout(q.opts.Timeout),
		asynq.Retention(24*time.Hour),
	)

	info, err := q.client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	q.log.Info().
		Str("book_project_id", p.BookProjectID).
		Str("job_id", info.ID).
		Str("queue", info.Queue).
		Msg("book generation enqueued")
	return nil
}
