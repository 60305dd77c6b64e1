package service

import (
	"encoding/json"
	"testing"
	"time"

	"BookEmpire-server/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueForTier(t *testing.T) {
	assert.Equal(t, QueueCritical, QueueForTier(models.TierEnterprise))
	assert.Equal(t, QueueDefault, QueueForTier(models.TierProfessional))
	assert.Equal(t, QueueLow, QueueForTier(models.TierFree))
	assert.Equal(t, QueueLow, QueueForTier("unknown"))
}

func TestEnqueueBookGeneration(t *testing.T) {
	mr := miniredis.RunT(t)
	q := NewQueue(asynq.RedisClientOpt{Addr: mr.Addr()}, QueueOptions{MaxRetry: 2, Timeout: time.Hour}, zerolog.Nop())
	t.Cleanup(func() { q.Close() })

	payload := BookPayload{
		BookProjectID: "book-1",
		UserID:        "user-1",
		Config:        GenerationConfig{TargetWordCount: 30000, Genre: "business", Language: "en"},
	}
	require.NoError(t, q.EnqueueBookGeneration(payload, models.TierProfessional))

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{"book-1"}, pending)

	// The project id is the task id, so a second enqueue is rejected.
	err = q.EnqueueBookGeneration(payload, models.TierProfessional)
	assert.ErrorIs(t, err, asynq.ErrTaskIDConflict)
}

func TestBookPayloadJSON(t *testing.T) {
	b, err := json.Marshal(BookPayload{
		BookProjectID: "p",
		UserID:        "u",
		Config:        GenerationConfig{TargetWordCount: 50000, Language: "en"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"book_project_id":"p","user_id":"u","config":{"target_word_count":50000,"language":"en"}}`, string(b))
}
