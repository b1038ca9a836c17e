package services

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"quizmaster-backend/internal/models"
)

// A Caser keeps state, so each call gets its own.
func foldCase(s string) string {
	return cases.Fold().String(s)
}

// CheckAnswer compares ignoring case and surrounding whitespace.
func CheckAnswer(given, correct string) bool {
	return foldCase(strings.TrimSpace(given)) == foldCase(strings.TrimSpace(correct))
}

// FormatDuration renders elapsed time as "Xm Ys".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

func NewAttempt(quiz *models.Quiz, sessionID uuid.UUID, mockMode bool, now time.Time) *models.QuizAttempt {
	a := &models.QuizAttempt{
		ID:        uuid.New(),
		QuizID:    quiz.ID,
		SessionID: sessionID,
		MockMode:  mockMode,
		Answers:   []models.AttemptAnswer{},
		Total:     len(quiz.Questions),
		StartedAt: now,
	}
	if mockMode {
		limit := models.QuizOptions{MockMode: true}.TimeLimit(len(quiz.Questions))
		deadline := now.Add(limit)
		a.Deadline = &deadline
	}
	return a
}

// RecordAnswer applies one answer to the attempt. Practice attempts accept a
// single answer per question and reveal the result; mock attempts accept
// changes and reveal nothing until the end. Past the deadline it returns
// ErrTimeExpired and leaves the attempt for the caller to finish.
func RecordAnswer(quiz *models.Quiz, a *models.QuizAttempt, index int, answer string, now time.Time) (*models.AnswerFeedback, error) {
	if a.Finished() {
		return nil, ErrAttemptClosed
	}
	if index < 0 || index >= len(quiz.Questions) {
		return nil, ErrInvalidQuestion
	}
	if a.Deadline != nil && now.After(*a.Deadline) {
		return nil, ErrTimeExpired
	}
	if strings.TrimSpace(answer) == "" {
		return nil, ErrEmptyAnswer
	}

	q := quiz.Questions[index]
	correct := CheckAnswer(answer, q.Answer)
	entry := models.AttemptAnswer{
		QuestionIndex: index,
		Answer:        strings.TrimSpace(answer),
		IsCorrect:     correct,
		AnsweredAt:    now,
	}

	replaced := false
	for i := range a.Answers {
		if a.Answers[i].QuestionIndex == index {
			if !a.MockMode {
				return nil, ErrAlreadyAnswered
			}
			a.Answers[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		a.Answers = append(a.Answers, entry)
		sort.Slice(a.Answers, func(i, j int) bool { return a.Answers[i].QuestionIndex < a.Answers[j].QuestionIndex })
	}
	a.Score = countCorrect(a)

	fb := &models.AnswerFeedback{
		QuestionIndex: index,
		Recorded:      true,
		Answered:      len(a.Answers),
		Total:         len(quiz.Questions),
	}
	if !a.MockMode {
		fb.IsCorrect = &correct
		fb.CorrectAnswer = q.Answer
		fb.Explanation = q.Explanation
		fb.SimpleExplanation = q.SimpleExplanation
	}
	return fb, nil
}

// FinishAttempt closes the attempt and builds its result. The score is
// recomputed from the stored answers and elapsed time is capped at the
// deadline. Finishing twice returns the same result.
func FinishAttempt(quiz *models.Quiz, a *models.QuizAttempt, now time.Time) *models.AttemptResult {
	expired := false
	if !a.Finished() {
		end := now
		if a.Deadline != nil && end.After(*a.Deadline) {
			end = *a.Deadline
			expired = true
		}
		secs := int(end.Sub(a.StartedAt) / time.Second)
		if secs < 0 {
			secs = 0
		}
		a.CompletedAt = &end
		a.TimeTakenSeconds = &secs
	} else if a.Deadline != nil && !a.CompletedAt.Before(*a.Deadline) {
		expired = true
	}

	a.Total = len(quiz.Questions)
	for i := range a.Answers {
		idx := a.Answers[i].QuestionIndex
		if idx >= 0 && idx < len(quiz.Questions) {
			a.Answers[i].IsCorrect = CheckAnswer(a.Answers[i].Answer, quiz.Questions[idx].Answer)
		}
	}
	a.Score = countCorrect(a)

	return BuildResult(quiz, a, expired)
}

func BuildResult(quiz *models.Quiz, a *models.QuizAttempt, expired bool) *models.AttemptResult {
	total := len(quiz.Questions)
	res := &models.AttemptResult{
		AttemptID:   a.ID,
		QuizID:      quiz.ID,
		Subject:     quiz.Subject,
		Score:       a.Score,
		Total:       total,
		TimeExpired: expired,
		History:     make([]models.HistoryItem, 0, total),
	}
	if a.TimeTakenSeconds != nil {
		res.TimeTakenSeconds = *a.TimeTakenSeconds
	}
	res.TimeTaken = FormatDuration(time.Duration(res.TimeTakenSeconds) * time.Second)

	if total > 0 {
		ratio := float64(a.Score) / float64(total)
		res.Percent = math.Round(ratio*1000) / 10
		res.Passed = ratio > models.PassThreshold
	}

	for i, q := range quiz.Questions {
		item := models.HistoryItem{
			Question:          q.Question,
			Type:              q.Type,
			CorrectAnswer:     q.Answer,
			Explanation:       q.Explanation,
			SimpleExplanation: q.SimpleExplanation,
		}
		if ans, ok := a.AnswerFor(i); ok {
			item.UserAnswer = ans.Answer
			item.IsCorrect = ans.IsCorrect
		}
		res.History = append(res.History, item)
	}
	return res
}

func countCorrect(a *models.QuizAttempt) int {
	n := 0
	for _, ans := range a.Answers {
		if ans.IsCorrect {
			n++
		}
	}
	return n
}
