package services

import (
	"context"
	"sync"
)

type fakeCompleter struct {
	mu         sync.Mutex
	replies    []string
	err        error
	calls      int
	prompts    []string
	transcript string
}

func (f *fakeCompleter) Name() Provider { return "fake" }
func (f *fakeCompleter) Close() error   { return nil }

func (f *fakeCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

// fakeTranscriber also accepts audio.
type fakeTranscriber struct {
	fakeCompleter
	transcribed int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	f.transcribed++
	return f.transcript, nil
}
