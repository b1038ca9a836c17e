package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"quizmaster-backend/internal/database"
	"quizmaster-backend/internal/models"
)

type FlashcardRepo struct {
	db *database.DB
}

func NewFlashcardRepo(db *database.DB) *FlashcardRepo {
	return &FlashcardRepo{db: db}
}

// ReviewsForQuiz returns the session's review state keyed by question index.
func (r *FlashcardRepo) ReviewsForQuiz(ctx context.Context, quizID, sessionID uuid.UUID) (map[int]*models.CardReview, error) {
	query := `SELECT quiz_id, question_index, session_id, due, stability, difficulty,
		elapsed_days, scheduled_days, reps, lapses, state, last_review
		FROM flashcard_reviews WHERE quiz_id = $1 AND session_id = $2`

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), quizID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := make(map[int]*models.CardReview)
	for rows.Next() {
		rv := &models.CardReview{}
		var lastReview sql.NullTime
		if err := rows.Scan(
			&rv.QuizID, &rv.QuestionIndex, &rv.SessionID, &rv.Due, &rv.Stability, &rv.Difficulty,
			&rv.ElapsedDays, &rv.ScheduledDays, &rv.Reps, &rv.Lapses, &rv.State, &lastReview,
		); err != nil {
			return nil, err
		}
		rv.LastReview = timePtr(lastReview)
		reviews[rv.QuestionIndex] = rv
	}
	return reviews, rows.Err()
}

// Upsert stores the latest scheduling state of one card.
func (r *FlashcardRepo) Upsert(ctx context.Context, rv *models.CardReview) error {
	query := `INSERT INTO flashcard_reviews (quiz_id, question_index, session_id, due, stability, difficulty,
			elapsed_days, scheduled_days, reps, lapses, state, last_review)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (quiz_id, question_index, session_id) DO UPDATE SET
			due = excluded.due,
			stability = excluded.stability,
			difficulty = excluded.difficulty,
			elapsed_days = excluded.elapsed_days,
			scheduled_days = excluded.scheduled_days,
			reps = excluded.reps,
			lapses = excluded.lapses,
			state = excluded.state,
			last_review = excluded.last_review`

	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		rv.QuizID, rv.QuestionIndex, rv.SessionID, rv.Due.UTC(), rv.Stability, rv.Difficulty,
		int64(rv.ElapsedDays), int64(rv.ScheduledDays), int64(rv.Reps), int64(rv.Lapses), rv.State, nullTime(rv.LastReview),
	)
	return err
}
