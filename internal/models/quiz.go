package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type QuizType string

const (
	QuizTypeMCQ QuizType = "mcq"
	QuizTypeTF  QuizType = "tf"
	QuizTypeFIB QuizType = "fib"
	QuizTypeMix QuizType = "mix"
)

// ParseQuizType accepts the requested quiz type. Empty input means mix.
func ParseQuizType(s string) (QuizType, bool) {
	switch QuizType(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return QuizTypeMix, true
	case QuizTypeMCQ:
		return QuizTypeMCQ, true
	case QuizTypeTF:
		return QuizTypeTF, true
	case QuizTypeFIB:
		return QuizTypeFIB, true
	case QuizTypeMix:
		return QuizTypeMix, true
	}
	return "", false
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

func ParseDifficulty(s string) (Difficulty, bool) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case "", DifficultyNormal, "medium":
		return DifficultyNormal, true
	case DifficultyEasy:
		return DifficultyEasy, true
	case DifficultyHard:
		return DifficultyHard, true
	}
	return "", false
}

const (
	DefaultQuestionCount = 5
	MinQuestionCount     = 1
	MaxQuestionCount     = 15
	SecondsPerQuestion   = 60
	PassThreshold        = 0.6
)

// Question is a single generated quiz item. Type is always mcq, tf or fib.
type Question struct {
	Question          string   `json:"question"`
	Options           []string `json:"options"`
	Answer            string   `json:"answer"`
	Explanation       string   `json:"explanation"`
	SimpleExplanation string   `json:"simple_explanation"`
	Type              QuizType `json:"type"`
}

type QuizOptions struct {
	Type       QuizType   `json:"quiz_type"`
	Difficulty Difficulty `json:"difficulty"`
	Amount     int        `json:"amount"`
	MockMode   bool       `json:"mock_mode"`
}

// Normalize fills defaults and clamps the amount.
func (o QuizOptions) Normalize() QuizOptions {
	if o.Type == "" {
		o.Type = QuizTypeMix
	}
	if o.Difficulty == "" {
		o.Difficulty = DifficultyNormal
	}
	switch {
	case o.Amount == 0:
		o.Amount = DefaultQuestionCount
	case o.Amount < MinQuestionCount:
		o.Amount = MinQuestionCount
	case o.Amount > MaxQuestionCount:
		o.Amount = MaxQuestionCount
	}
	return o
}

// TimeLimit is zero outside mock mode.
func (o QuizOptions) TimeLimit(questionCount int) time.Duration {
	if !o.MockMode {
		return 0
	}
	return time.Duration(questionCount*SecondsPerQuestion) * time.Second
}

type QuizStatus string

const (
	QuizStatusPending QuizStatus = "pending"
	QuizStatusReady   QuizStatus = "ready"
	QuizStatusFailed  QuizStatus = "failed"
)

type Quiz struct {
	ID            uuid.UUID   `json:"id"`
	SessionID     uuid.UUID   `json:"session_id"`
	Subject       string      `json:"subject"`
	SourceKind    SourceKind  `json:"source_kind"`
	SourceRef     string      `json:"source_ref"`
	Options       QuizOptions `json:"options"`
	Status        QuizStatus  `json:"status"`
	Questions     []Question  `json:"questions,omitempty"`
	QuestionCount int         `json:"question_count"`
	ErrorMessage  *string     `json:"error_message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

type AttemptAnswer struct {
	QuestionIndex int       `json:"question_index"`
	Answer        string    `json:"answer"`
	IsCorrect     bool      `json:"is_correct"`
	AnsweredAt    time.Time `json:"answered_at"`
}

type QuizAttempt struct {
	ID               uuid.UUID       `json:"id"`
	QuizID           uuid.UUID       `json:"quiz_id"`
	SessionID        uuid.UUID       `json:"session_id"`
	MockMode         bool            `json:"mock_mode"`
	Answers          []AttemptAnswer `json:"answers"`
	Score            int             `json:"score"`
	Total            int             `json:"total"`
	StartedAt        time.Time       `json:"started_at"`
	Deadline         *time.Time      `json:"deadline,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	TimeTakenSeconds *int            `json:"time_taken_seconds,omitempty"`

	// Version increments on every save.
	Version int `json:"-"`
}

func (a *QuizAttempt) Finished() bool {
	return a.CompletedAt != nil
}

// AnswerFor returns the recorded answer for a question index.
func (a *QuizAttempt) AnswerFor(index int) (AttemptAnswer, bool) {
	for _, ans := range a.Answers {
		if ans.QuestionIndex == index {
			return ans, true
		}
	}
	return AttemptAnswer{}, false
}

type HistoryItem struct {
	Question          string   `json:"question"`
	Type              QuizType `json:"type"`
	UserAnswer        string   `json:"user_answer"`
	CorrectAnswer     string   `json:"correct_answer"`
	Explanation       string   `json:"explanation"`
	SimpleExplanation string   `json:"simple_explanation"`
	IsCorrect         bool     `json:"is_correct"`
}

type AttemptResult struct {
	AttemptID        uuid.UUID     `json:"attempt_id"`
	QuizID           uuid.UUID     `json:"quiz_id"`
	Subject          string        `json:"subject"`
	Score            int           `json:"score"`
	Total            int           `json:"total"`
	Percent          float64       `json:"percent"`
	TimeTakenSeconds int           `json:"time_taken_seconds"`
	TimeTaken        string        `json:"time_taken"`
	Passed           bool          `json:"passed"`
	TimeExpired      bool          `json:"time_expired"`
	History          []HistoryItem `json:"history"`
}

// AnswerFeedback is returned after each answer. Correctness fields are only
// populated in practice mode.
type AnswerFeedback struct {
	QuestionIndex     int    `json:"question_index"`
	Recorded          bool   `json:"recorded"`
	IsCorrect         *bool  `json:"is_correct,omitempty"`
	CorrectAnswer     string `json:"correct_answer,omitempty"`
	Explanation       string `json:"explanation,omitempty"`
	SimpleExplanation string `json:"simple_explanation,omitempty"`
	Answered          int    `json:"answered"`
	Total             int    `json:"total"`
}

type AnswerRequest struct {
	QuestionIndex int    `json:"question_index"`
	Answer        string `json:"answer"`
}

// GenerateResult is the synchronous generation response.
type GenerateResult struct {
	QuizID           uuid.UUID  `json:"quiz_id"`
	Subject          string     `json:"subject"`
	Questions        []Question `json:"questions"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
	SessionToken     string     `json:"session_token"`
	Warnings         []string   `json:"warnings,omitempty"`
}
