package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"quizmaster-backend/internal/database"
	"quizmaster-backend/internal/models"
)

type JobRepo struct {
	db *database.DB
}

func NewJobRepo(db *database.DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Create(ctx context.Context, j *models.Job) error {
	j.ID = uuid.New()
	j.Status = models.JobPending
	j.RetryCount = 0
	if j.MaxRetries == 0 {
		j.MaxRetries = 3
	}
	j.CreatedAt = time.Now().UTC()

	query := `INSERT INTO jobs (id, session_id, type, reference_id, status, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		j.ID, j.SessionID, j.Type, j.ReferenceID, string(j.Status), j.RetryCount, j.MaxRetries, j.CreatedAt,
	)
	return err
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	var (
		status    string
		errMsg    sql.NullString
		completed sql.NullTime
	)
	query := `SELECT id, session_id, type, reference_id, status, retry_count, max_retries, error_message, created_at, completed_at
		FROM jobs WHERE id = $1`

	err := r.db.QueryRowContext(ctx, r.db.Rebind(query), id).Scan(
		&j.ID, &j.SessionID, &j.Type, &j.ReferenceID, &status,
		&j.RetryCount, &j.MaxRetries, &errMsg, &j.CreatedAt, &completed,
	)
	if err != nil {
		return nil, notFound(err)
	}
	j.Status = models.JobStatus(status)
	j.ErrorMessage = stringPtr(errMsg)
	j.CompletedAt = timePtr(completed)
	return j, nil
}

func (r *JobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	if status == models.JobCompleted || status == models.JobFailed || status == models.JobCancelled {
		_, err := r.db.ExecContext(ctx, r.db.Rebind("UPDATE jobs SET status = $1, completed_at = $2 WHERE id = $3"),
			string(status), time.Now().UTC(), id)
		return err
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind("UPDATE jobs SET status = $1 WHERE id = $2"), string(status), id)
	return err
}

func (r *JobRepo) UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		"UPDATE jobs SET error_message = $1, retry_count = $2 WHERE id = $3"),
		errMsg, retryCount, id,
	)
	return err
}

// Cancel moves a job that has not finished to cancelled. It reports whether
// the job was still cancellable.
func (r *JobRepo) Cancel(ctx context.Context, id, sessionID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE jobs SET status = $1, completed_at = $2
		 WHERE id = $3 AND session_id = $4 AND status IN ('pending', 'processing')`),
		string(models.JobCancelled), time.Now().UTC(), id, sessionID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
