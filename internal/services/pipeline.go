package services

import (
	"context"

	"go.uber.org/zap"

	"quizmaster-backend/internal/logger"
	"quizmaster-backend/internal/models"
)

// QuizPipeline runs source resolution and generation with one provider.
type QuizPipeline struct {
	llms      *LLMFactory
	sources   *SourceService
	generator *QuizGenerator
	log       *zap.Logger
}

func NewQuizPipeline(llms *LLMFactory, sources *SourceService, generator *QuizGenerator, log *zap.Logger) *QuizPipeline {
	return &QuizPipeline{llms: llms, sources: sources, generator: generator, log: logger.OrNop(log)}
}

type PipelineResult struct {
	Document  *models.SourceDocument
	Subject   string
	Questions []models.Question
	Warnings  []string
}

// CheckKey fails fast when no provider key can be resolved.
func (p *QuizPipeline) CheckKey(apiKey string) error {
	_, _, err := p.llms.ResolveKey(apiKey)
	return err
}

// Extract resolves a source without generating. Topic sources get an LLM
// brief only when a key is available.
func (p *QuizPipeline) Extract(ctx context.Context, apiKey string, req models.SourceRequest) (*models.SourceDocument, error) {
	var llm Completer
	if p.CheckKey(apiKey) == nil {
		c, err := p.llms.New(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		llm = c
	}
	return p.sources.Resolve(ctx, req, llm)
}

// Progress is told when the pipeline moves to a new step. It may be nil.
type Progress func(step int, name string)

const (
	StepSource   = 1
	StepGenerate = 2
)

// Run resolves the source unless doc is already known, then generates.
func (p *QuizPipeline) Run(ctx context.Context, apiKey string, req models.SourceRequest, doc *models.SourceDocument, opts models.QuizOptions, progress Progress) (*PipelineResult, error) {
	if progress == nil {
		progress = func(int, string) {}
	}

	llm, err := p.llms.New(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	defer llm.Close()

	if doc == nil {
		progress(StepSource, "Extracting source text")
		doc, err = p.sources.Resolve(ctx, req, llm)
		if err != nil {
			return nil, err
		}
	}

	progress(StepGenerate, "Generating questions")

	out, err := p.generator.Generate(ctx, llm, doc, opts)
	if err != nil {
		p.log.Warn("quiz generation failed",
			zap.String("provider", string(llm.Name())),
			zap.String("source_kind", string(doc.Kind)),
			zap.Error(err),
		)
		return nil, err
	}

	return &PipelineResult{
		Document:  doc,
		Subject:   doc.Subject(),
		Questions: out.Questions,
		Warnings:  out.Warnings,
	}, nil
}

// ResolveSource is exposed for callers that resolve local files before
// handing the rest of the work to a queue.
func (p *QuizPipeline) ResolveSource(ctx context.Context, req models.SourceRequest) (*models.SourceDocument, error) {
	return p.sources.Resolve(ctx, req, nil)
}
