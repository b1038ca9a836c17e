package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
)

func TestDetectProvider(t *testing.T) {
	assert.Equal(t, ProviderGroq, DetectProvider("gsk_abc", ProviderOpenAI))
	assert.Equal(t, ProviderGemini, DetectProvider(" AIzaSyXYZ ", ProviderGroq))
	assert.Equal(t, ProviderOpenAI, DetectProvider("sk-proj-123", ProviderGroq))
	assert.Equal(t, ProviderGemini, DetectProvider("something-else", ProviderGemini))
}

func TestResolveKey(t *testing.T) {
	f := NewLLMFactory(LLMSettings{
		DefaultProvider: ProviderGroq,
		DefaultKeys:     map[Provider]string{ProviderOpenAI: "sk-server"},
	}, nil)

	p, key, err := f.ResolveKey(" gsk_user ")
	require.NoError(t, err)
	assert.Equal(t, ProviderGroq, p)
	assert.Equal(t, "gsk_user", key)

	// Default provider has no key, so the first configured one is used.
	p, key, err = f.ResolveKey("")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p)
	assert.Equal(t, "sk-server", key)

	empty := NewLLMFactory(LLMSettings{DefaultProvider: ProviderGroq}, nil)
	_, _, err = empty.ResolveKey("")
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

type slowCompleter struct {
	active  *int32
	maxSeen *int32
}

func (s *slowCompleter) Name() Provider { return "slow" }
func (s *slowCompleter) Close() error   { return nil }

func (s *slowCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	n := atomic.AddInt32(s.active, 1)
	defer atomic.AddInt32(s.active, -1)
	for {
		seen := atomic.LoadInt32(s.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(s.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return "ok", nil
}

func TestLLMFactory_SharedConcurrencyGate(t *testing.T) {
	defer goleak.VerifyNone(t)

	var active, maxSeen int32
	f := NewLLMFactory(LLMSettings{DefaultProvider: ProviderGroq, ConcurrentReqs: 2}, nil)
	f.build = func(ctx context.Context, p Provider, apiKey, model string) (Completer, error) {
		return &slowCompleter{active: &active, maxSeen: &maxSeen}, nil
	}

	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			llm, err := f.New(context.Background(), "gsk_key")
			if err != nil {
				return err
			}
			defer llm.Close()
			_, err = llm.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

func TestLLMFactory_GateHonoursContext(t *testing.T) {
	f := NewLLMFactory(LLMSettings{ConcurrentReqs: 1}, nil)
	require.NoError(t, f.acquireRate(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.acquireRate(ctx), context.DeadlineExceeded)
	f.releaseRate()
}

type audioCompleter struct{ slowCompleter }

func (a *audioCompleter) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return "transcribed", nil
}

func TestLLMFactory_KeepsTranscriber(t *testing.T) {
	f := NewLLMFactory(LLMSettings{ConcurrentReqs: 1}, nil)
	var mu sync.Mutex
	built := map[Provider]int{}
	f.build = func(ctx context.Context, p Provider, apiKey, model string) (Completer, error) {
		mu.Lock()
		built[p]++
		mu.Unlock()
		if p == ProviderGemini {
			return &audioCompleter{}, nil
		}
		return &slowCompleter{}, nil
	}

	gemini, err := f.New(context.Background(), "AIza-key")
	require.NoError(t, err)
	tr, ok := gemini.(Transcriber)
	require.True(t, ok)
	text, err := tr.Transcribe(context.Background(), []byte("x"), "audio/mp4")
	require.NoError(t, err)
	assert.Equal(t, "transcribed", text)

	groq, err := f.New(context.Background(), "gsk_key")
	require.NoError(t, err)
	_, ok = groq.(Transcriber)
	assert.False(t, ok)
	assert.Equal(t, map[Provider]int{ProviderGemini: 1, ProviderGroq: 1}, built)
}

func TestClassifyOpenAIError(t *testing.T) {
	rate := classifyOpenAIError(ProviderGroq, &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"})
	assert.ErrorIs(t, rate, ErrRateLimited)

	auth := classifyOpenAIError(ProviderOpenAI, &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"})
	assert.ErrorIs(t, auth, ErrInvalidAPIKey)

	other := classifyOpenAIError(ProviderOpenAI, errors.New("connection reset"))
	assert.ErrorIs(t, other, ErrProviderFailure)

	assert.ErrorIs(t, classifyOpenAIError(ProviderOpenAI, context.DeadlineExceeded), context.DeadlineExceeded)
}

func TestClassifyGeminiError(t *testing.T) {
	assert.ErrorIs(t, classifyGeminiError(&googleapi.Error{Code: http.StatusTooManyRequests}), ErrRateLimited)
	assert.ErrorIs(t, classifyGeminiError(errors.New("rpc error: RESOURCE_EXHAUSTED")), ErrRateLimited)
	assert.ErrorIs(t, classifyGeminiError(errors.New("API key not valid. Please pass a valid API key.")), ErrInvalidAPIKey)
	assert.ErrorIs(t, classifyGeminiError(errors.New("boom")), ErrProviderFailure)
}
