package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quizmaster-backend/internal/database"
	"quizmaster-backend/internal/models"
)

type QuizRepo struct {
	db *database.DB
}

func NewQuizRepo(db *database.DB) *QuizRepo {
	return &QuizRepo{db: db}
}

const quizColumns = `id, session_id, subject, source_kind, source_ref, options, status, questions, question_count, error_message, created_at`

func (r *QuizRepo) Create(ctx context.Context, q *models.Quiz) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.Status == "" {
		q.Status = models.QuizStatusPending
	}
	q.CreatedAt = time.Now().UTC()
	q.QuestionCount = len(q.Questions)

	optionsJSON, err := marshalJSON(q.Options, "{}")
	if err != nil {
		return err
	}
	questionsJSON, err := marshalJSON(q.Questions, "[]")
	if err != nil {
		return err
	}

	query := `INSERT INTO quizzes (` + quizColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.ExecContext(ctx, r.db.Rebind(query),
		q.ID, q.SessionID, q.Subject, string(q.SourceKind), q.SourceRef, optionsJSON,
		string(q.Status), questionsJSON, q.QuestionCount, q.ErrorMessage, q.CreatedAt,
	)
	return err
}

func (r *QuizRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Quiz, error) {
	query := `SELECT ` + quizColumns + ` FROM quizzes WHERE id = $1`
	q, err := scanQuiz(r.db.QueryRowContext(ctx, r.db.Rebind(query), id))
	if err != nil {
		return nil, notFound(err)
	}
	return q, nil
}

// ListBySession returns a page of quizzes, newest first, without their
// questions, plus the total count.
func (r *QuizRepo) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.Quiz, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, r.db.Rebind("SELECT COUNT(*) FROM quizzes WHERE session_id = $1"), sessionID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + quizColumns + ` FROM quizzes WHERE session_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), sessionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	quizzes := []*models.Quiz{}
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, 0, err
		}
		q.Questions = nil
		quizzes = append(quizzes, q)
	}
	return quizzes, total, rows.Err()
}

// Complete stores generated questions and marks the quiz ready.
func (r *QuizRepo) Complete(ctx context.Context, id uuid.UUID, subject string, questions []models.Question) error {
	questionsJSON, err := marshalJSON(questions, "[]")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(
		"UPDATE quizzes SET status = $1, subject = $2, questions = $3, question_count = $4, error_message = NULL WHERE id = $5"),
		string(models.QuizStatusReady), subject, questionsJSON, len(questions), id,
	)
	return err
}

func (r *QuizRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		"UPDATE quizzes SET status = $1, error_message = $2 WHERE id = $3"),
		string(models.QuizStatusFailed), errMsg, id,
	)
	return err
}

// Delete removes a quiz owned by the session. Attempts and reviews cascade.
func (r *QuizRepo) Delete(ctx context.Context, id, sessionID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM quizzes WHERE id = $1 AND session_id = $2"), id, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanQuiz(row rowScanner) (*models.Quiz, error) {
	q := &models.Quiz{}
	var (
		sourceKind, status         string
		optionsJSON, questionsJSON string
		errMsg                     sql.NullString
	)
	err := row.Scan(
		&q.ID, &q.SessionID, &q.Subject, &sourceKind, &q.SourceRef, &optionsJSON,
		&status, &questionsJSON, &q.QuestionCount, &errMsg, &q.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	q.SourceKind = models.SourceKind(sourceKind)
	q.Status = models.QuizStatus(status)
	q.ErrorMessage = stringPtr(errMsg)

	if err := json.Unmarshal([]byte(optionsJSON), &q.Options); err != nil {
		return nil, fmt.Errorf("decode quiz options: %w", err)
	}
	if err := json.Unmarshal([]byte(questionsJSON), &q.Questions); err != nil {
		return nil, fmt.Errorf("decode quiz questions: %w", err)
	}
	return q, nil
}

// Quiz Attempts

const attemptColumns = `id, quiz_id, session_id, mock_mode, answers, score, total, started_at, deadline, completed_at, time_taken_seconds`

const attemptSelectColumns = attemptColumns + `, version`

func (r *QuizRepo) CreateAttempt(ctx context.Context, a *models.QuizAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	answersJSON, err := marshalJSON(a.Answers, "[]")
	if err != nil {
		return err
	}

	query := `INSERT INTO quiz_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.ExecContext(ctx, r.db.Rebind(query),
		a.ID, a.QuizID, a.SessionID, a.MockMode, answersJSON, a.Score, a.Total,
		a.StartedAt.UTC(), nullTime(a.Deadline), nullTime(a.CompletedAt), a.TimeTakenSeconds,
	)
	return err
}

func (r *QuizRepo) GetAttemptByID(ctx context.Context, id uuid.UUID) (*models.QuizAttempt, error) {
	query := `SELECT ` + attemptSelectColumns + ` FROM quiz_attempts WHERE id = $1`
	a, err := scanAttempt(r.db.QueryRowContext(ctx, r.db.Rebind(query), id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// SaveAttempt persists answers, score and completion state. It returns
// ErrConflict when the attempt was saved by someone else after a was read.
func (r *QuizRepo) SaveAttempt(ctx context.Context, a *models.QuizAttempt) error {
	answersJSON, err := marshalJSON(a.Answers, "[]")
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE quiz_attempts SET answers = $1, score = $2, total = $3, completed_at = $4, time_taken_seconds = $5,
		 version = version + 1
		 WHERE id = $6 AND version = $7`),
		answersJSON, a.Score, a.Total, nullTime(a.CompletedAt), a.TimeTakenSeconds, a.ID, a.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	a.Version++
	return nil
}

func (r *QuizRepo) ListAttempts(ctx context.Context, quizID, sessionID uuid.UUID) ([]*models.QuizAttempt, error) {
	query := `SELECT ` + attemptSelectColumns + ` FROM quiz_attempts
		WHERE quiz_id = $1 AND session_id = $2 ORDER BY started_at DESC`

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), quizID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []*models.QuizAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func scanAttempt(row rowScanner) (*models.QuizAttempt, error) {
	a := &models.QuizAttempt{}
	var (
		answersJSON         string
		deadline, completed sql.NullTime
		timeTaken           sql.NullInt64
	)
	err := row.Scan(
		&a.ID, &a.QuizID, &a.SessionID, &a.MockMode, &answersJSON, &a.Score, &a.Total,
		&a.StartedAt, &deadline, &completed, &timeTaken, &a.Version,
	)
	if err != nil {
		return nil, err
	}
	a.Deadline = timePtr(deadline)
	a.CompletedAt = timePtr(completed)
	a.TimeTakenSeconds = intPtr(timeTaken)

	if err := json.Unmarshal([]byte(answersJSON), &a.Answers); err != nil {
		return nil, fmt.Errorf("decode attempt answers: %w", err)
	}
	if a.Answers == nil {
		a.Answers = []models.AttemptAnswer{}
	}
	return a, nil
}
