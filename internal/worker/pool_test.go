package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"quizmaster-backend/internal/models"
	"quizmaster-backend/internal/repository"
	"quizmaster-backend/internal/services"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks chan *Task
	locks map[uuid.UUID]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{tasks: make(chan *Task, 16), locks: map[uuid.UUID]bool{}}
}

func (q *fakeQueue) Enqueue(ctx context.Context, t *Task) error {
	cp := *t
	q.tasks <- &cp
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	select {
	case t := <-q.tasks:
		return t, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) Lock(ctx context.Context, jobID uuid.UUID, ttl time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.locks[jobID] {
		return false, nil
	}
	q.locks[jobID] = true
	return true, nil
}

func (q *fakeQueue) Unlock(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.locks, jobID)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []models.WSMessage
}

func (p *fakePublisher) PublishUpdate(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.Type)
	}
	return out
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

func (s *fakeJobStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *fakeJobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = status
	return nil
}

func (s *fakeJobStore) UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].ErrorMessage = &errMsg
	s.jobs[id].RetryCount = retryCount
	return nil
}

func (s *fakeJobStore) status(id uuid.UUID) models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Status
}

type fakeQuizStore struct {
	mu        sync.Mutex
	completed map[uuid.UUID][]models.Question
	failed    map[uuid.UUID]string
}

func (s *fakeQuizStore) Complete(ctx context.Context, id uuid.UUID, subject string, questions []models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[id] = questions
	return nil
}

func (s *fakeQuizStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = errMsg
	return nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (g *fakeGenerator) Run(ctx context.Context, apiKey string, req models.SourceRequest, doc *models.SourceDocument, opts models.QuizOptions, progress services.Progress) (*services.PipelineResult, error) {
	g.mu.Lock()
	g.calls++
	var err error
	if len(g.errs) > 0 {
		err = g.errs[0]
		g.errs = g.errs[1:]
	}
	g.mu.Unlock()

	if doc == nil {
		progress(services.StepSource, "Extracting source text")
	}
	progress(services.StepGenerate, "Generating questions")
	if err != nil {
		return nil, err
	}
	return &services.PipelineResult{
		Subject:   "Photosynthesis",
		Questions: []models.Question{{Question: "Q?", Answer: "True", Options: []string{"True", "False"}, Type: models.QuizTypeTF}},
	}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type poolFixture struct {
	pool      *Pool
	queue     *fakeQueue
	publisher *fakePublisher
	jobs      *fakeJobStore
	quizzes   *fakeQuizStore
	generator *fakeGenerator
}

func newPoolFixture(errs ...error) *poolFixture {
	f := &poolFixture{
		queue:     newFakeQueue(),
		publisher: &fakePublisher{},
		jobs:      &fakeJobStore{jobs: map[uuid.UUID]*models.Job{}},
		quizzes:   &fakeQuizStore{completed: map[uuid.UUID][]models.Question{}, failed: map[uuid.UUID]string{}},
		generator: &fakeGenerator{errs: errs},
	}
	f.pool = NewPool(f.queue, f.publisher, f.jobs, f.quizzes, f.generator, 2, nil)
	f.pool.pollTimeout = 10 * time.Millisecond
	f.pool.backoff = func(int) time.Duration { return time.Millisecond }
	return f
}

func (f *poolFixture) newTask(status models.JobStatus) *Task {
	t := &Task{
		JobID:     uuid.New(),
		QuizID:    uuid.New(),
		SessionID: uuid.New(),
		Type:      models.JobTypeQuizGeneration,
		APIKey:    "gsk_test",
		Source:    models.SourceRequest{Topic: "Photosynthesis"},
		Options:   models.QuizOptions{Amount: 1}.Normalize(),
	}
	f.jobs.jobs[t.JobID] = &models.Job{ID: t.JobID, SessionID: t.SessionID, Status: status, MaxRetries: 3}
	return t
}

func TestPool_ProcessesQueuedJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newPoolFixture()
	task := f.newTask(models.JobPending)
	require.NoError(t, f.queue.Enqueue(context.Background(), task))

	f.pool.Start()
	require.Eventually(t, func() bool {
		return f.jobs.status(task.JobID) == models.JobCompleted
	}, 2*time.Second, 5*time.Millisecond)
	f.pool.Stop()

	assert.Len(t, f.quizzes.completed[task.QuizID], 1)
	assert.Equal(t, []string{"status_update", "status_update", "completed"}, f.publisher.types())

	last := f.publisher.msgs[len(f.publisher.msgs)-1].Payload.(models.CompletedEvent)
	assert.Equal(t, task.QuizID, last.ResultID)
	assert.Equal(t, "quiz", last.ResultType)
}

func TestPool_RetriesTransientFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newPoolFixture(services.ErrProviderFailure)
	task := f.newTask(models.JobPending)
	require.NoError(t, f.queue.Enqueue(context.Background(), task))

	f.pool.Start()
	require.Eventually(t, func() bool {
		return f.jobs.status(task.JobID) == models.JobCompleted
	}, 2*time.Second, 5*time.Millisecond)
	f.pool.Stop()

	assert.Equal(t, 2, f.generator.callCount())
	assert.Equal(t, 1, f.jobs.jobs[task.JobID].RetryCount)
}

func TestPool_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newPoolFixture(services.ErrProviderFailure, services.ErrProviderFailure, services.ErrProviderFailure)
	task := f.newTask(models.JobPending)
	ctx := context.Background()

	f.pool.process(0, task)
	for i := 0; i < 2; i++ {
		select {
		case next := <-f.queue.tasks:
			f.pool.process(0, next)
		case <-time.After(time.Second):
			t.Fatalf("retry %d was not re-queued", i+1)
		}
	}

	job, err := f.jobs.GetByID(ctx, task.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	assert.Equal(t, 3, f.generator.callCount())
	assert.Contains(t, f.quizzes.failed[task.QuizID], "failed to respond")

	types := f.publisher.types()
	require.NotEmpty(t, types)
	assert.Equal(t, "error", types[len(types)-1])
	ev := f.publisher.msgs[len(f.publisher.msgs)-1].Payload.(models.ErrorEvent)
	assert.Equal(t, "JOB_FAILED", ev.ErrorCode)
}

func TestPool_PermanentFailureIsNotRetried(t *testing.T) {
	f := newPoolFixture(fmt.Errorf("%w (no subtitles; audio: 403 from upstream)", services.ErrTranscript))
	task := f.newTask(models.JobPending)

	f.pool.process(0, task)

	assert.Equal(t, models.JobFailed, f.jobs.status(task.JobID))
	assert.Equal(t, 1, f.generator.callCount())
	assert.Empty(t, f.queue.tasks)
	assert.Equal(t, services.ErrTranscript.Error(), f.quizzes.failed[task.QuizID])

	ev := f.publisher.msgs[len(f.publisher.msgs)-1].Payload.(models.ErrorEvent)
	assert.Equal(t, services.ErrTranscript.Error(), ev.ErrorMessage)
}

func TestPool_SkipsCancelledJob(t *testing.T) {
	f := newPoolFixture()
	task := f.newTask(models.JobCancelled)

	f.pool.process(0, task)

	assert.Equal(t, 0, f.generator.callCount())
	assert.Equal(t, models.JobCancelled, f.jobs.status(task.JobID))
	assert.Empty(t, f.publisher.types())
}

func TestPool_SkipsLockedJob(t *testing.T) {
	f := newPoolFixture()
	task := f.newTask(models.JobPending)
	locked, err := f.queue.Lock(context.Background(), task.JobID, time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	f.pool.process(0, task)

	assert.Equal(t, 0, f.generator.callCount())
	assert.Equal(t, models.JobPending, f.jobs.status(task.JobID))
}

func TestPool_StopFlushesPendingRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newPoolFixture(errors.New("temporary outage"))
	f.pool.backoff = func(int) time.Duration { return time.Hour }
	task := f.newTask(models.JobPending)

	f.pool.process(0, task)
	assert.Empty(t, f.queue.tasks)
	assert.Equal(t, models.JobPending, f.jobs.status(task.JobID))

	f.pool.Stop()

	select {
	case requeued := <-f.queue.tasks:
		assert.Equal(t, task.JobID, requeued.JobID)
		assert.Equal(t, 1, requeued.RetryCount)
		assert.Equal(t, "gsk_test", requeued.APIKey)
	default:
		t.Fatal("pending retry was not flushed on Stop")
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(services.ErrProviderFailure))
	assert.True(t, retryable(services.ErrNoQuestions))
	assert.False(t, retryable(services.ErrInvalidAPIKey))
	assert.False(t, retryable(services.ErrPDFParse))
}

func TestJobQueueName(t *testing.T) {
	assert.Equal(t, "queue:quiz-generation", jobQueueName(models.JobTypeQuizGeneration))
	assert.Equal(t, "session_updates:"+uuid.Nil.String(), SessionChannel(uuid.Nil))
}
