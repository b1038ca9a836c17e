package models

import (
	"time"

	"github.com/google/uuid"
)

type FlashcardCard struct {
	QuizID            uuid.UUID   `json:"quiz_id"`
	Index             int         `json:"index"`
	Front             string      `json:"front"`
	Back              string      `json:"back"`
	Explanation       string      `json:"explanation"`
	SimpleExplanation string      `json:"simple_explanation"`
	Type              QuizType    `json:"type"`
	Review            *CardReview `json:"review,omitempty"`
}

// CardReview is the persisted spaced-repetition state of one card.
type CardReview struct {
	QuizID        uuid.UUID  `json:"quiz_id"`
	QuestionIndex int        `json:"question_index"`
	SessionID     uuid.UUID  `json:"session_id"`
	Due           time.Time  `json:"due"`
	Stability     float64    `json:"stability"`
	Difficulty    float64    `json:"difficulty"`
	ElapsedDays   uint64     `json:"elapsed_days"`
	ScheduledDays uint64     `json:"scheduled_days"`
	Reps          uint64     `json:"reps"`
	Lapses        uint64     `json:"lapses"`
	State         int        `json:"state"` // 0=New, 1=Learning, 2=Review, 3=Relearning
	LastReview    *time.Time `json:"last_review,omitempty"`
}

type CardRatingRequest struct {
	Rating int `json:"rating"` // 1=Again, 2=Hard, 3=Good, 4=Easy
}

type DeckStats struct {
	TotalCards int `json:"total_cards"`
	New        int `json:"new"`
	Learning   int `json:"learning"`
	Review     int `json:"review"`
	DueNow     int `json:"due_now"`
}
