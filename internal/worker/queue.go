package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quizmaster-backend/internal/models"
)

const QuizQueue = "queue:quiz-generation"

// Task is the queued payload for one generation job. The API key only ever
// lives here, never in the database.
type Task struct {
	JobID      uuid.UUID              `json:"job_id"`
	QuizID     uuid.UUID              `json:"quiz_id"`
	SessionID  uuid.UUID              `json:"session_id"`
	Type       string                 `json:"type"`
	APIKey     string                 `json:"api_key,omitempty"`
	Options    models.QuizOptions     `json:"options"`
	Source     models.SourceRequest   `json:"source"`
	Document   *models.SourceDocument `json:"document,omitempty"`
	RetryCount int                    `json:"retry_count"`
}

type Queue interface {
	Enqueue(ctx context.Context, t *Task) error
	// Dequeue blocks up to timeout; it returns nil, nil when nothing arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)
	Lock(ctx context.Context, jobID uuid.UUID, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, jobID uuid.UUID) error
}

type Publisher interface {
	PublishUpdate(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage)
}

func SessionChannel(sessionID uuid.UUID) string {
	return "session_updates:" + sessionID.String()
}

type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t *Task) error {
	if t.Type == "" {
		t.Type = models.JobTypeQuizGeneration
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	return q.client.LPush(ctx, jobQueueName(t.Type), data).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	result, err := q.client.BLPop(ctx, timeout, QuizQueue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}

	var t Task
	if err := json.Unmarshal([]byte(result[1]), &t); err != nil {
		return nil, fmt.Errorf("failed to parse task: %w", err)
	}
	return &t, nil
}

func (q *RedisQueue) Lock(ctx context.Context, jobID uuid.UUID, ttl time.Duration) (bool, error) {
	return q.client.SetNX(ctx, lockKey(jobID), "1", ttl).Result()
}

func (q *RedisQueue) Unlock(ctx context.Context, jobID uuid.UUID) error {
	return q.client.Del(ctx, lockKey(jobID)).Err()
}

func lockKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job_lock:%s", jobID.String())
}

// RedisPublisher sends WebSocket updates via Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishUpdate(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) {
	data, _ := json.Marshal(msg)
	p.client.Publish(ctx, SessionChannel(sessionID), string(data))
}

func jobQueueName(jobType string) string {
	switch jobType {
	case models.JobTypeQuizGeneration:
		return QuizQueue
	default:
		return "queue:" + jobType
	}
}
