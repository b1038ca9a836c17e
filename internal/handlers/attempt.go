package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"quizmaster-backend/internal/middleware"
	"quizmaster-backend/internal/models"
	"quizmaster-backend/internal/repository"
	"quizmaster-backend/internal/services"
)

type attemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Quiz, error)
	GetAttemptByID(ctx context.Context, id uuid.UUID) (*models.QuizAttempt, error)
	SaveAttempt(ctx context.Context, a *models.QuizAttempt) error
}

type AttemptHandler struct {
	quizRepo attemptStore
	now      func() time.Time
}

func NewAttemptHandler(quizRepo attemptStore) *AttemptHandler {
	return &AttemptHandler{quizRepo: quizRepo, now: time.Now}
}

// timeExpiredResponse carries the final result alongside the error so the
// client can go straight to the results screen.
type timeExpiredResponse struct {
	Error  models.APIError       `json:"error"`
	Result *models.AttemptResult `json:"result"`
}

func (h *AttemptHandler) load(w http.ResponseWriter, r *http.Request) (*models.QuizAttempt, *models.Quiz, bool) {
	attemptID, ok := urlID(w, r, "id", "attempt")
	if !ok {
		return nil, nil, false
	}

	attempt, err := h.quizRepo.GetAttemptByID(r.Context(), attemptID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Attempt not found", r))
		return nil, nil, false
	}

	if attempt.SessionID != middleware.GetSessionID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, nil, false
	}

	quiz, err := h.quizRepo.GetByID(r.Context(), attempt.QuizID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch quiz", r))
		return nil, nil, false
	}
	return attempt, quiz, true
}

// maxSaveAttempts bounds how often a change is reapplied after another
// request saved the same attempt first.
const maxSaveAttempts = 3

// update applies change and saves the attempt when change asks for it. On a
// save conflict it reloads the attempt and applies change again. The error
// from change is returned once its save, if any, succeeds.
func (h *AttemptHandler) update(ctx context.Context, attempt *models.QuizAttempt, change func(a *models.QuizAttempt) (bool, error)) (*models.QuizAttempt, error) {
	for try := 1; ; try++ {
		save, changeErr := change(attempt)
		if !save {
			return attempt, changeErr
		}

		err := h.quizRepo.SaveAttempt(ctx, attempt)
		if err == nil {
			return attempt, changeErr
		}
		if !errors.Is(err, repository.ErrConflict) || try == maxSaveAttempts {
			return attempt, err
		}

		if attempt, err = h.quizRepo.GetAttemptByID(ctx, attempt.ID); err != nil {
			return nil, err
		}
	}
}

func (h *AttemptHandler) Answer(w http.ResponseWriter, r *http.Request) {
	attempt, quiz, ok := h.load(w, r)
	if !ok {
		return
	}

	var req models.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	now := h.now().UTC()
	var (
		feedback *models.AnswerFeedback
		result   *models.AttemptResult
	)
	_, err := h.update(r.Context(), attempt, func(a *models.QuizAttempt) (bool, error) {
		fb, err := services.RecordAnswer(quiz, a, req.QuestionIndex, req.Answer, now)
		switch {
		case errors.Is(err, services.ErrTimeExpired):
			result = services.FinishAttempt(quiz, a, now)
			return true, err
		case err != nil:
			return false, err
		}
		feedback = fb
		return true, nil
	})
	if errors.Is(err, services.ErrTimeExpired) {
		writeJSON(w, http.StatusConflict, timeExpiredResponse{
			Error:  errorResp("TIME_EXPIRED", services.ErrTimeExpired.Error(), r).Error,
			Result: result,
		})
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, feedback)
}

// Submit finishes the attempt. Submitting twice returns the same result.
func (h *AttemptHandler) Submit(w http.ResponseWriter, r *http.Request) {
	attempt, quiz, ok := h.load(w, r)
	if !ok {
		return
	}

	now := h.now().UTC()
	var result *models.AttemptResult
	_, err := h.update(r.Context(), attempt, func(a *models.QuizAttempt) (bool, error) {
		wasFinished := a.Finished()
		result = services.FinishAttempt(quiz, a, now)
		return !wasFinished, nil
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Get returns the attempt, closing it first if its deadline has passed.
func (h *AttemptHandler) Get(w http.ResponseWriter, r *http.Request) {
	attempt, quiz, ok := h.load(w, r)
	if !ok {
		return
	}

	now := h.now().UTC()
	var result *models.AttemptResult
	attempt, err := h.update(r.Context(), attempt, func(a *models.QuizAttempt) (bool, error) {
		switch {
		case a.Finished():
			result = services.FinishAttempt(quiz, a, now)
		case a.Deadline != nil && now.After(*a.Deadline):
			result = services.FinishAttempt(quiz, a, now)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"attempt":   attempt,
		"questions": quiz.Questions,
		"subject":   quiz.Subject,
	}
	if result != nil {
		resp["result"] = result
	} else if attempt.Deadline != nil {
		resp["remaining_seconds"] = int(attempt.Deadline.Sub(now) / time.Second)
	}
	writeJSON(w, http.StatusOK, resp)
}
