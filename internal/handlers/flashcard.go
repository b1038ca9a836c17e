package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"quizmaster-backend/internal/middleware"
	"quizmaster-backend/internal/models"
	"quizmaster-backend/internal/services"
)

type reviewStore interface {
	ReviewsForQuiz(ctx context.Context, quizID, sessionID uuid.UUID) (map[int]*models.CardReview, error)
	Upsert(ctx context.Context, rv *models.CardReview) error
}

type FlashcardHandler struct {
	quizRepo  quizGetter
	flashRepo reviewStore
	scheduler *services.FlashcardScheduler
	now       func() time.Time
}

func NewFlashcardHandler(quizRepo quizGetter, flashRepo reviewStore, scheduler *services.FlashcardScheduler) *FlashcardHandler {
	return &FlashcardHandler{
		quizRepo:  quizRepo,
		flashRepo: flashRepo,
		scheduler: scheduler,
		now:       time.Now,
	}
}

func (h *FlashcardHandler) readyQuiz(w http.ResponseWriter, r *http.Request) (*models.Quiz, bool) {
	quiz, ok := loadOwnedQuiz(w, r, h.quizRepo)
	if !ok {
		return nil, false
	}
	if quiz.Status != models.QuizStatusReady {
		handleServiceError(w, r, services.ErrQuizNotReady)
		return nil, false
	}
	return quiz, true
}

// List returns the deck for a quiz; ?due=true keeps only cards due now.
// Stats always cover the whole deck.
func (h *FlashcardHandler) List(w http.ResponseWriter, r *http.Request) {
	quiz, ok := h.readyQuiz(w, r)
	if !ok {
		return
	}

	sessionID := middleware.GetSessionID(r.Context())
	reviews, err := h.flashRepo.ReviewsForQuiz(r.Context(), quiz.ID, sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch flashcards", r))
		return
	}

	now := h.now().UTC()
	cards := services.BuildDeck(quiz, reviews)
	stats := services.DeckStatistics(cards, now)
	if due, _ := strconv.ParseBool(r.URL.Query().Get("due")); due {
		cards = services.FilterDue(cards, now)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quiz_id": quiz.ID,
		"subject": quiz.Subject,
		"cards":   cards,
		"stats":   stats,
	})
}

func (h *FlashcardHandler) Rate(w http.ResponseWriter, r *http.Request) {
	quiz, ok := h.readyQuiz(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 || index >= len(quiz.Questions) {
		handleServiceError(w, r, services.ErrInvalidQuestion)
		return
	}

	var req models.CardRatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	sessionID := middleware.GetSessionID(r.Context())
	reviews, err := h.flashRepo.ReviewsForQuiz(r.Context(), quiz.ID, sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch flashcards", r))
		return
	}

	next, err := h.scheduler.Rate(quiz.ID, index, sessionID, reviews[index], req.Rating, h.now().UTC())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := h.flashRepo.Upsert(r.Context(), next); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save rating", r))
		return
	}

	if reviews == nil {
		reviews = map[int]*models.CardReview{}
	}
	reviews[index] = next
	writeJSON(w, http.StatusOK, services.BuildDeck(quiz, reviews)[index])
}
