package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"quizmaster-backend/internal/config"
	"quizmaster-backend/internal/logger"
)

type Provider string

const (
	ProviderGroq   Provider = "groq"
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float32
	JSON        bool
}

// Completer is a hosted LLM that turns a prompt into text.
type Completer interface {
	Name() Provider
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Close() error
}

// Transcriber is implemented by providers that accept audio input.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// DetectProvider maps a key to its provider by prefix.
func DetectProvider(apiKey string, fallback Provider) Provider {
	key := strings.TrimSpace(apiKey)
	switch {
	case strings.HasPrefix(key, "gsk_"):
		return ProviderGroq
	case strings.HasPrefix(key, "AIza"):
		return ProviderGemini
	case strings.HasPrefix(key, "sk-"):
		return ProviderOpenAI
	}
	return fallback
}

type LLMSettings struct {
	DefaultProvider Provider
	DefaultKeys     map[Provider]string
	Models          map[Provider]string
	Timeout         time.Duration
	ConcurrentReqs  int
}

func LLMSettingsFromConfig(cfg *config.Config) LLMSettings {
	return LLMSettings{
		DefaultProvider: Provider(cfg.DefaultProvider),
		DefaultKeys: map[Provider]string{
			ProviderGroq:   cfg.GroqAPIKey,
			ProviderOpenAI: cfg.OpenAIAPIKey,
			ProviderGemini: cfg.GeminiAPIKey,
		},
		Models: map[Provider]string{
			ProviderGroq:   cfg.GroqModel,
			ProviderOpenAI: cfg.OpenAIModel,
			ProviderGemini: cfg.GeminiModel,
		},
		Timeout:        cfg.LLMTimeout,
		ConcurrentReqs: cfg.LLMConcurrentReqs,
	}
}

// LLMFactory builds per-request providers. All providers it creates share one
// concurrency budget for outbound calls.
type LLMFactory struct {
	settings LLMSettings
	rateChan chan struct{} // Token bucket
	log      *zap.Logger

	// overridable in tests
	build func(ctx context.Context, p Provider, apiKey, model string) (Completer, error)
}

func NewLLMFactory(settings LLMSettings, log *zap.Logger) *LLMFactory {
	n := settings.ConcurrentReqs
	if n < 1 {
		n = 1
	}
	rateChan := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		rateChan <- struct{}{}
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 90 * time.Second
	}

	return &LLMFactory{
		settings: settings,
		rateChan: rateChan,
		log:      logger.OrNop(log),
		build:    buildProvider,
	}
}

// ResolveKey picks the provider for a request. A key supplied by the caller
// wins; otherwise the default provider's configured key is used.
func (f *LLMFactory) ResolveKey(apiKey string) (Provider, string, error) {
	key := strings.TrimSpace(apiKey)
	if key != "" {
		return DetectProvider(key, f.settings.DefaultProvider), key, nil
	}

	if k := f.settings.DefaultKeys[f.settings.DefaultProvider]; k != "" {
		return f.settings.DefaultProvider, k, nil
	}
	for _, p := range []Provider{ProviderGroq, ProviderOpenAI, ProviderGemini} {
		if k := f.settings.DefaultKeys[p]; k != "" {
			return p, k, nil
		}
	}
	return "", "", ErrAPIKeyRequired
}

func (f *LLMFactory) New(ctx context.Context, apiKey string) (Completer, error) {
	provider, key, err := f.ResolveKey(apiKey)
	if err != nil {
		return nil, err
	}

	inner, err := f.build(ctx, provider, key, f.settings.Models[provider])
	if err != nil {
		return nil, err
	}

	gated := &gatedCompleter{inner: inner, factory: f}
	if t, ok := inner.(Transcriber); ok {
		return &gatedTranscriber{gatedCompleter: gated, transcriber: t}, nil
	}
	return gated, nil
}

func buildProvider(ctx context.Context, p Provider, apiKey, model string) (Completer, error) {
	switch p {
	case ProviderGroq:
		return NewOpenAIProvider(ProviderGroq, apiKey, groqBaseURL, defaultString(model, "llama-3.1-8b-instant")), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(ProviderOpenAI, apiKey, "", defaultString(model, "gpt-4o-mini")), nil
	case ProviderGemini:
		return NewGeminiProvider(ctx, apiKey, defaultString(model, "gemini-2.0-flash"))
	}
	return nil, fmt.Errorf("unknown provider %q", p)
}

// acquireRate blocks until a rate slot is available
func (f *LLMFactory) acquireRate(ctx context.Context) error {
	select {
	case <-f.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for LLM rate slot")
	}
}

func (f *LLMFactory) releaseRate() {
	f.rateChan <- struct{}{}
}

type gatedCompleter struct {
	inner   Completer
	factory *LLMFactory
}

func (g *gatedCompleter) Name() Provider { return g.inner.Name() }
func (g *gatedCompleter) Close() error   { return g.inner.Close() }

func (g *gatedCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := g.factory.acquireRate(ctx); err != nil {
		return "", err
	}
	defer g.factory.releaseRate()

	ctx, cancel := context.WithTimeout(ctx, g.factory.settings.Timeout)
	defer cancel()

	start := time.Now()
	out, err := g.inner.Complete(ctx, req)
	g.factory.log.Debug("llm completion",
		zap.String("provider", string(g.inner.Name())),
		zap.Duration("took", time.Since(start)),
		zap.Int("chars", len(out)),
		zap.Error(err),
	)
	return out, err
}

type gatedTranscriber struct {
	*gatedCompleter
	transcriber Transcriber
}

func (g *gatedTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if err := g.factory.acquireRate(ctx); err != nil {
		return "", err
	}
	defer g.factory.releaseRate()

	// Uploads take longer than completions.
	ctx, cancel := context.WithTimeout(ctx, 3*g.factory.settings.Timeout)
	defer cancel()

	return g.transcriber.Transcribe(ctx, audio, mimeType)
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
