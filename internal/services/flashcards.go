package services

import (
	"time"

	"github.com/google/uuid"
	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"quizmaster-backend/internal/models"
)

// FlashcardScheduler applies FSRS to cards derived from quiz questions.
type FlashcardScheduler struct {
	params fsrs.Parameters
}

func NewFlashcardScheduler() *FlashcardScheduler {
	return &FlashcardScheduler{params: fsrs.DefaultParam()}
}

// BuildDeck turns each question into a card: front is the question, back the answer.
func BuildDeck(quiz *models.Quiz, reviews map[int]*models.CardReview) []models.FlashcardCard {
	cards := make([]models.FlashcardCard, 0, len(quiz.Questions))
	for i, q := range quiz.Questions {
		cards = append(cards, models.FlashcardCard{
			QuizID:            quiz.ID,
			Index:             i,
			Front:             q.Question,
			Back:              q.Answer,
			Explanation:       q.Explanation,
			SimpleExplanation: q.SimpleExplanation,
			Type:              q.Type,
			Review:            reviews[i],
		})
	}
	return cards
}

// Rate schedules the card for the given rating (1=Again .. 4=Easy). A nil
// review means the card has never been studied.
func (s *FlashcardScheduler) Rate(quizID uuid.UUID, index int, sessionID uuid.UUID, prev *models.CardReview, rating int, now time.Time) (*models.CardReview, error) {
	if rating < int(fsrs.Again) || rating > int(fsrs.Easy) {
		return nil, ErrInvalidRating
	}
	r := fsrs.Rating(rating)

	card := fsrs.Card{State: fsrs.New}
	if prev != nil {
		card = toFSRSCard(prev)
	}

	scheduling := s.params.Repeat(card, now)
	info, ok := scheduling[r]
	if !ok {
		return nil, ErrInvalidRating
	}

	next := fromFSRSCard(info.Card)
	next.QuizID = quizID
	next.QuestionIndex = index
	next.SessionID = sessionID
	return next, nil
}

// IsDue reports whether a card should be shown; unseen cards are always due.
func IsDue(review *models.CardReview, now time.Time) bool {
	return review == nil || !review.Due.After(now)
}

func FilterDue(cards []models.FlashcardCard, now time.Time) []models.FlashcardCard {
	due := make([]models.FlashcardCard, 0, len(cards))
	for _, c := range cards {
		if IsDue(c.Review, now) {
			due = append(due, c)
		}
	}
	return due
}

func DeckStatistics(cards []models.FlashcardCard, now time.Time) models.DeckStats {
	stats := models.DeckStats{TotalCards: len(cards)}
	for _, c := range cards {
		switch {
		case c.Review == nil || fsrs.State(c.Review.State) == fsrs.New:
			stats.New++
		case fsrs.State(c.Review.State) == fsrs.Review:
			stats.Review++
		default:
			stats.Learning++
		}
		if IsDue(c.Review, now) {
			stats.DueNow++
		}
	}
	return stats
}

func toFSRSCard(r *models.CardReview) fsrs.Card {
	card := fsrs.Card{
		Due:           r.Due,
		Stability:     r.Stability,
		Difficulty:    r.Difficulty,
		ElapsedDays:   r.ElapsedDays,
		ScheduledDays: r.ScheduledDays,
		Reps:          r.Reps,
		Lapses:        r.Lapses,
		State:         fsrs.State(r.State),
	}
	if r.LastReview != nil {
		card.LastReview = *r.LastReview
	}
	return card
}

func fromFSRSCard(c fsrs.Card) *models.CardReview {
	r := &models.CardReview{
		Due:           c.Due,
		Stability:     c.Stability,
		Difficulty:    c.Difficulty,
		ElapsedDays:   c.ElapsedDays,
		ScheduledDays: c.ScheduledDays,
		Reps:          c.Reps,
		Lapses:        c.Lapses,
		State:         int(c.State),
	}
	if !c.LastReview.IsZero() {
		last := c.LastReview
		r.LastReview = &last
	}
	return r
}
