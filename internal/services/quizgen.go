package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quizmaster-backend/internal/logger"
	"quizmaster-backend/internal/models"
)

const generationTemperature = 0.3

type QuizGenerator struct {
	prompts  *PromptCatalog
	maxChars int
	log      *zap.Logger
}

func NewQuizGenerator(prompts *PromptCatalog, maxChars int, log *zap.Logger) *QuizGenerator {
	if maxChars <= 0 {
		maxChars = 15000
	}
	return &QuizGenerator{prompts: prompts, maxChars: maxChars, log: logger.OrNop(log)}
}

type GenerationOutput struct {
	Questions []models.Question
	Warnings  []string
	Attempts  int
}

// Generate asks the LLM for a quiz over doc and repairs the answer. A
// completion with no usable questions is retried once with a corrective
// nudge before failing with ErrNoQuestions.
func (g *QuizGenerator) Generate(ctx context.Context, llm Completer, doc *models.SourceDocument, opts models.QuizOptions) (*GenerationOutput, error) {
	opts = opts.Normalize()
	prompt := g.prompts.BuildQuizPrompt(opts, doc, g.maxChars)

	out := &GenerationOutput{}
	var lastErr error

	for attempt := 1; attempt <= 2; attempt++ {
		out.Attempts = attempt
		req := CompletionRequest{
			System:      g.prompts.System,
			Prompt:      prompt,
			Temperature: generationTemperature,
			JSON:        true,
		}
		if attempt > 1 {
			req.Prompt = prompt + "\n" + g.prompts.RetryNudge
		}

		start := time.Now()
		raw, err := llm.Complete(ctx, req)
		if err != nil {
			// Provider errors are not worth a second call.
			return nil, err
		}

		res, err := ParseQuestions(raw, opts)
		if err != nil {
			lastErr = err
			g.log.Warn("unparseable quiz completion",
				zap.String("provider", string(llm.Name())),
				zap.Int("attempt", attempt),
				zap.Int("raw_chars", len(raw)),
				zap.Error(err),
			)
			continue
		}

		g.log.Info("quiz generated",
			zap.String("provider", string(llm.Name())),
			zap.String("source_kind", string(doc.Kind)),
			zap.Int("requested", opts.Amount),
			zap.Int("usable", len(res.Questions)),
			zap.Int("dropped", res.Dropped),
			zap.Int("attempt", attempt),
			zap.Duration("took", time.Since(start)),
		)

		if len(res.Questions) > 0 {
			out.Questions = res.Questions
			out.Warnings = res.Warnings
			return out, nil
		}
		lastErr = ErrNoQuestions
	}

	if lastErr != nil && !errors.Is(lastErr, ErrNoQuestions) {
		return nil, fmt.Errorf("%w (%v)", ErrNoQuestions, lastErr)
	}
	return nil, ErrNoQuestions
}
