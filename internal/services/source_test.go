package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizmaster-backend/internal/models"
)

type fakeVideoSource struct {
	transcript    string
	transcriptErr error
	title         string
	audioErr      error
	calls         int32
}

func (f *fakeVideoSource) GetTranscript(ctx context.Context, videoID string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	time.Sleep(10 * time.Millisecond)
	return f.transcript, f.transcriptErr
}

func (f *fakeVideoSource) GetVideoMetadata(ctx context.Context, videoID string) (*models.VideoMetadata, error) {
	if f.title == "" {
		return nil, errors.New("metadata unavailable")
	}
	return &models.VideoMetadata{VideoID: videoID, Title: f.title}, nil
}

func (f *fakeVideoSource) DownloadAudio(ctx context.Context, videoID string) ([]byte, string, error) {
	if f.audioErr != nil {
		return nil, "", f.audioErr
	}
	return []byte("audio"), "audio/mp4", nil
}

type memoryCache struct {
	mu   sync.Mutex
	docs map[string]models.SourceDocument
}

func (c *memoryCache) Get(ctx context.Context, key string) (*models.SourceDocument, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[key]
	if !ok {
		return nil, false, nil
	}
	return &doc, true, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, doc *models.SourceDocument, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[key] = *doc
	return nil
}

func newTestSourceService(video VideoSource, cache TextCache) *SourceService {
	return NewSourceService(NewFileExtractService(), video, MustDefaultPrompts(), cache, time.Hour, nil)
}

const videoURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func TestResolve_NoSource(t *testing.T) {
	s := newTestSourceService(&fakeVideoSource{}, nil)
	_, err := s.Resolve(context.Background(), models.SourceRequest{}, nil)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestResolve_TextFile(t *testing.T) {
	s := newTestSourceService(&fakeVideoSource{}, nil)
	doc, err := s.Resolve(context.Background(), models.SourceRequest{FileName: "cell_biology-notes.txt", FileData: []byte("Cells divide.")}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SourceText, doc.Kind)
	assert.Equal(t, "cell biology notes", doc.Title)
	assert.Equal(t, "Cells divide.", doc.Text)
}

func TestResolve_FileTakesPrecedence(t *testing.T) {
	video := &fakeVideoSource{transcript: "video text"}
	s := newTestSourceService(video, nil)
	doc, err := s.Resolve(context.Background(), models.SourceRequest{
		FileName:   "a.txt",
		FileData:   []byte("file text"),
		YouTubeURL: videoURL,
		Topic:      "History",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "file text", doc.Text)
	assert.Zero(t, atomic.LoadInt32(&video.calls))
}

func TestResolve_YouTubeTranscript(t *testing.T) {
	s := newTestSourceService(&fakeVideoSource{transcript: "hello  world", title: "Lecture 1"}, nil)
	doc, err := s.Resolve(context.Background(), models.SourceRequest{YouTubeURL: videoURL}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SourceYouTube, doc.Kind)
	assert.Equal(t, "Lecture 1", doc.Title)
	assert.Equal(t, "dQw4w9WgXcQ", doc.Reference)
	assert.Equal(t, "hello world", doc.Text)
}

func TestResolve_InvalidYouTube(t *testing.T) {
	s := newTestSourceService(&fakeVideoSource{}, nil)
	_, err := s.Resolve(context.Background(), models.SourceRequest{YouTubeURL: "https://example.com/video"}, nil)
	assert.ErrorIs(t, err, ErrInvalidYouTube)
}

func TestResolve_YouTubeWithoutCaptions(t *testing.T) {
	video := &fakeVideoSource{transcriptErr: errors.New("no captions")}

	s := newTestSourceService(video, nil)
	_, err := s.Resolve(context.Background(), models.SourceRequest{YouTubeURL: videoURL}, &fakeCompleter{})
	assert.ErrorIs(t, err, ErrTranscript)

	llm := &fakeTranscriber{}
	llm.transcript = "spoken words"
	doc, err := s.Resolve(context.Background(), models.SourceRequest{YouTubeURL: videoURL}, llm)
	require.NoError(t, err)
	assert.Equal(t, "spoken words", doc.Text)
	assert.Equal(t, 1, llm.transcribed)

	video.audioErr = errors.New("blocked")
	_, err = s.Resolve(context.Background(), models.SourceRequest{YouTubeURL: videoURL}, llm)
	assert.ErrorIs(t, err, ErrTranscript)
}

func TestResolve_TopicBrief(t *testing.T) {
	s := newTestSourceService(&fakeVideoSource{}, nil)
	llm := &fakeCompleter{replies: []string{"The Nile is the longest river in Africa."}}

	doc, err := s.Resolve(context.Background(), models.SourceRequest{Topic: "  The Nile "}, llm)
	require.NoError(t, err)
	assert.Equal(t, models.SourceTopic, doc.Kind)
	assert.Equal(t, "The Nile", doc.Title)
	assert.Equal(t, "The Nile is the longest river in Africa.", doc.Text)
	assert.Contains(t, llm.prompts[0], "TOPIC: The Nile")
}

func TestResolve_TopicFallback(t *testing.T) {
	s := newTestSourceService(&fakeVideoSource{}, nil)

	doc, err := s.Resolve(context.Background(), models.SourceRequest{Topic: "Volcanoes"}, &fakeCompleter{err: ErrProviderFailure})
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "Volcanoes")

	doc, err = s.Resolve(context.Background(), models.SourceRequest{Topic: "Volcanoes"}, nil)
	require.NoError(t, err)
	assert.Equal(t, MustDefaultPrompts().TopicFallback("Volcanoes"), doc.Text)

	_, err = s.Resolve(context.Background(), models.SourceRequest{Topic: "Volcanoes"}, &fakeCompleter{err: ErrRateLimited})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestResolve_CachesAndCollapses(t *testing.T) {
	video := &fakeVideoSource{transcript: "cached text"}
	cache := &memoryCache{docs: map[string]models.SourceDocument{}}
	s := newTestSourceService(video, cache)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := s.Resolve(context.Background(), models.SourceRequest{YouTubeURL: videoURL}, nil)
			assert.NoError(t, err)
			assert.Equal(t, "cached text", doc.Text)
		}()
	}
	wg.Wait()
	calls := atomic.LoadInt32(&video.calls)
	assert.GreaterOrEqual(t, calls, int32(1))

	_, ok, _ := cache.Get(context.Background(), "source:yt:dQw4w9WgXcQ")
	assert.True(t, ok)

	_, err := s.Resolve(context.Background(), models.SourceRequest{YouTubeURL: videoURL}, nil)
	require.NoError(t, err)
	assert.Equal(t, calls, atomic.LoadInt32(&video.calls))
}

// gatedVideoSource holds transcript fetches until release is closed.
type gatedVideoSource struct {
	fakeVideoSource
	started   chan struct{}
	release   chan struct{}
	once      sync.Once
	cancelled int32
}

func (g *gatedVideoSource) GetTranscript(ctx context.Context, videoID string) (string, error) {
	atomic.AddInt32(&g.calls, 1)
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.transcript, nil
	case <-ctx.Done():
		atomic.AddInt32(&g.cancelled, 1)
		return "", ctx.Err()
	}
}

func TestResolve_SharedLoadOutlivesFirstCaller(t *testing.T) {
	video := &gatedVideoSource{
		fakeVideoSource: fakeVideoSource{transcript: "shared text"},
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	s := newTestSourceService(video, nil)
	req := models.SourceRequest{YouTubeURL: videoURL}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Resolve(ctx, req, nil)
		firstErr <- err
	}()

	<-video.started
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	type result struct {
		doc *models.SourceDocument
		err error
	}
	second := make(chan result, 1)
	go func() {
		doc, err := s.Resolve(context.Background(), req, nil)
		second <- result{doc, err}
	}()

	time.Sleep(20 * time.Millisecond)
	close(video.release)

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "shared text", res.doc.Text)
	assert.Zero(t, atomic.LoadInt32(&video.cancelled))
}
