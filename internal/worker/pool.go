package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizmaster-backend/internal/logger"
	"quizmaster-backend/internal/models"
	"quizmaster-backend/internal/services"
)

const (
	defaultMaxAttempts = 3
	lockTTL            = 10 * time.Minute
)

type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
}

type QuizStore interface {
	Complete(ctx context.Context, id uuid.UUID, subject string, questions []models.Question) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

type Generator interface {
	Run(ctx context.Context, apiKey string, req models.SourceRequest, doc *models.SourceDocument, opts models.QuizOptions, progress services.Progress) (*services.PipelineResult, error)
}

type pendingRetry struct {
	timer *time.Timer
	task  *Task
}

type Pool struct {
	queue       Queue
	publisher   Publisher
	jobs        JobStore
	quizzes     QuizStore
	generator   Generator
	log         *zap.Logger
	workerCount int

	pollTimeout time.Duration
	jobTimeout  time.Duration
	backoff     func(retry int) time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex
	retries map[uuid.UUID]pendingRetry
}

func NewPool(
	queue Queue,
	publisher Publisher,
	jobs JobStore,
	quizzes QuizStore,
	generator Generator,
	workerCount int,
	log *zap.Logger,
) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:       queue,
		publisher:   publisher,
		jobs:        jobs,
		quizzes:     quizzes,
		generator:   generator,
		log:         logger.OrNop(log).Named("worker"),
		workerCount: workerCount,
		pollTimeout: 30 * time.Second,
		jobTimeout:  5 * time.Minute,
		backoff: func(retry int) time.Duration {
			return time.Duration(1<<uint(retry)) * time.Second
		},
		ctx:     ctx,
		cancel:  cancel,
		retries: make(map[uuid.UUID]pendingRetry),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info("started worker goroutines", zap.Int("count", p.workerCount))
}

// Stop waits for in-flight jobs, then pushes any retries still waiting on
// their backoff back onto the queue so they are not lost.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()

		p.mu.Lock()
		pending := p.retries
		p.retries = make(map[uuid.UUID]pendingRetry)
		p.mu.Unlock()

		for _, r := range pending {
			r.timer.Stop()
			p.requeue(r.task)
		}
	})
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.log.Debug("worker shutting down", zap.Int("worker", id))
			return
		default:
		}

		task, err := p.queue.Dequeue(p.ctx, p.pollTimeout)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.log.Warn("dequeue failed", zap.Int("worker", id), zap.Error(err))
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if task == nil {
			continue
		}

		p.process(id, task)
	}
}

func (p *Pool) process(workerID int, task *Task) {
	ctx := context.Background()
	log := p.log.With(zap.Int("worker", workerID), zap.Stringer("job_id", task.JobID))

	locked, err := p.queue.Lock(ctx, task.JobID, lockTTL)
	if err != nil || !locked {
		// Another worker has this job.
		return
	}
	defer p.queue.Unlock(ctx, task.JobID)

	job, err := p.jobs.GetByID(ctx, task.JobID)
	if err != nil {
		log.Warn("job record unavailable, dropping task", zap.Error(err))
		return
	}
	if job.Terminal() {
		log.Info("skipping job", zap.String("status", string(job.Status)))
		return
	}

	log.Info("processing job", zap.Int("attempt", task.RetryCount+1))
	p.jobs.UpdateStatus(ctx, task.JobID, models.JobProcessing)

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	result, err := p.generator.Run(jobCtx, task.APIKey, task.Source, task.Document, task.Options, func(step int, name string) {
		p.publish(ctx, task.SessionID, models.WSMessage{
			Type: "status_update",
			Payload: models.StatusUpdate{
				JobID:    task.JobID,
				Step:     step,
				StepName: name,
			},
		})
	})
	if err == nil && p.cancelled(ctx, task.JobID) {
		log.Info("job cancelled while running, discarding result")
		return
	}
	if err == nil {
		err = p.quizzes.Complete(ctx, task.QuizID, result.Subject, result.Questions)
	}

	if err != nil {
		p.handleFailure(ctx, job, task, err)
		return
	}
	p.handleSuccess(ctx, task)
}

func (p *Pool) handleSuccess(ctx context.Context, task *Task) {
	p.jobs.UpdateStatus(ctx, task.JobID, models.JobCompleted)

	p.publish(ctx, task.SessionID, models.WSMessage{
		Type: "completed",
		Payload: models.CompletedEvent{
			JobID:      task.JobID,
			ResultID:   task.QuizID,
			ResultType: "quiz",
		},
	})

	p.log.Info("job completed", zap.Stringer("job_id", task.JobID), zap.Stringer("quiz_id", task.QuizID))
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, task *Task, err error) {
	if p.cancelled(ctx, task.JobID) {
		return
	}

	task.RetryCount++
	errMsg, ok := services.PublicMessage(err)
	if !ok {
		errMsg = "Quiz generation failed. Please try again."
	}

	maxAttempts := job.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	if retryable(err) && task.RetryCount < maxAttempts {
		delay := p.backoff(task.RetryCount)
		p.log.Warn("job failed, retrying",
			zap.Stringer("job_id", task.JobID),
			zap.Int("attempt", task.RetryCount),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		p.jobs.UpdateStatus(ctx, task.JobID, models.JobPending)
		p.jobs.UpdateError(ctx, task.JobID, errMsg, task.RetryCount)
		p.scheduleRetry(task, delay)
		return
	}

	p.log.Error("job failed permanently", zap.Stringer("job_id", task.JobID), zap.Error(err))
	p.jobs.UpdateStatus(ctx, task.JobID, models.JobFailed)
	p.jobs.UpdateError(ctx, task.JobID, errMsg, task.RetryCount)
	p.quizzes.MarkFailed(ctx, task.QuizID, errMsg)

	p.publish(ctx, task.SessionID, models.WSMessage{
		Type: "error",
		Payload: models.ErrorEvent{
			JobID:        task.JobID,
			ErrorCode:    "JOB_FAILED",
			ErrorMessage: errMsg,
		},
	})
}

// scheduleRetry re-queues after the backoff. Whoever removes the entry from
// p.retries owns the requeue.
func (p *Pool) scheduleRetry(task *Task, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		p.requeue(task)
		return
	}

	timer := time.AfterFunc(delay, func() {
		p.mu.Lock()
		_, pending := p.retries[task.JobID]
		delete(p.retries, task.JobID)
		p.mu.Unlock()

		if pending {
			p.requeue(task)
		}
	})
	p.retries[task.JobID] = pendingRetry{timer: timer, task: task}
}

func (p *Pool) requeue(task *Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.queue.Enqueue(ctx, task); err != nil {
		p.log.Error("failed to re-queue job", zap.Stringer("job_id", task.JobID), zap.Error(err))
	}
}

func (p *Pool) cancelled(ctx context.Context, jobID uuid.UUID) bool {
	job, err := p.jobs.GetByID(ctx, jobID)
	return err == nil && job.Status == models.JobCancelled
}

func (p *Pool) publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) {
	if p.publisher == nil {
		return
	}
	p.publisher.PublishUpdate(ctx, sessionID, msg)
}

// retryable is false for failures another attempt cannot fix.
func retryable(err error) bool {
	for _, permanent := range []error{
		services.ErrAPIKeyRequired,
		services.ErrInvalidAPIKey,
		services.ErrNoSource,
		services.ErrEmptySource,
		services.ErrPDFParse,
		services.ErrUnsupportedFile,
		services.ErrInvalidYouTube,
		services.ErrTranscript,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}
