package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"quizmaster-backend/internal/logger"
	"quizmaster-backend/internal/models"
)

// TextCache stores extracted source documents between requests.
type TextCache interface {
	Get(ctx context.Context, key string) (*models.SourceDocument, bool, error)
	Set(ctx context.Context, key string, doc *models.SourceDocument, ttl time.Duration) error
}

type RedisTextCache struct {
	client *redis.Client
}

func NewRedisTextCache(client *redis.Client) *RedisTextCache {
	return &RedisTextCache{client: client}
}

func (c *RedisTextCache) Get(ctx context.Context, key string) (*models.SourceDocument, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var doc models.SourceDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, err
	}
	return &doc, true, nil
}

func (c *RedisTextCache) Set(ctx context.Context, key string, doc *models.SourceDocument, ttl time.Duration) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

type SourceService struct {
	files   *FileExtractService
	youtube VideoSource
	prompts *PromptCatalog
	cache   TextCache
	ttl     time.Duration
	group   singleflight.Group
	log     *zap.Logger
}

// NewSourceService builds the resolver. cache may be nil.
func NewSourceService(files *FileExtractService, youtube VideoSource, prompts *PromptCatalog, cache TextCache, ttl time.Duration, log *zap.Logger) *SourceService {
	return &SourceService{
		files:   files,
		youtube: youtube,
		prompts: prompts,
		cache:   cache,
		ttl:     ttl,
		log:     logger.OrNop(log),
	}
}

// Resolve turns a source request into text. llm is used to write topic
// briefs and, when it can, to transcribe videos without captions; it may be nil.
func (s *SourceService) Resolve(ctx context.Context, req models.SourceRequest, llm Completer) (*models.SourceDocument, error) {
	var (
		doc *models.SourceDocument
		err error
	)

	switch kind := req.Kind(); kind {
	case models.SourcePDF, models.SourceText:
		doc, err = s.resolveFile(ctx, req, kind)
	case models.SourceYouTube:
		doc, err = s.resolveYouTube(ctx, req.YouTubeURL, llm)
	case models.SourceTopic:
		doc, err = s.resolveTopic(ctx, strings.TrimSpace(req.Topic), llm)
	default:
		return nil, ErrNoSource
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(doc.Text) == "" {
		return nil, ErrEmptySource
	}
	return doc, nil
}

func (s *SourceService) resolveFile(ctx context.Context, req models.SourceRequest, kind models.SourceKind) (*models.SourceDocument, error) {
	sum := blake2b.Sum256(req.FileData)
	key := fmt.Sprintf("source:%s:%s", kind, hex.EncodeToString(sum[:]))

	return s.cached(ctx, key, func(context.Context) (*models.SourceDocument, error) {
		text, err := s.files.Extract(req.FileName, req.FileData)
		if err != nil {
			return nil, err
		}
		return &models.SourceDocument{
			Kind:      kind,
			Title:     titleFromFileName(req.FileName),
			Text:      text,
			Reference: req.FileName,
		}, nil
	})
}

func (s *SourceService) resolveYouTube(ctx context.Context, rawURL string, llm Completer) (*models.SourceDocument, error) {
	videoID := ExtractVideoID(rawURL)
	if videoID == "" {
		return nil, ErrInvalidYouTube
	}

	return s.cached(ctx, "source:yt:"+videoID, func(ctx context.Context) (*models.SourceDocument, error) {
		doc := &models.SourceDocument{Kind: models.SourceYouTube, Reference: videoID}

		if meta, err := s.youtube.GetVideoMetadata(ctx, videoID); err == nil {
			doc.Title = meta.Title
		} else {
			s.log.Warn("video metadata unavailable", zap.String("video_id", videoID), zap.Error(err))
		}

		transcript, err := s.youtube.GetTranscript(ctx, videoID)
		if err == nil {
			doc.Text = normalizeExtractedText(transcript)
			return doc, nil
		}
		s.log.Warn("transcript extraction failed", zap.String("video_id", videoID), zap.Error(err))

		transcriber, ok := llm.(Transcriber)
		if !ok {
			return nil, fmt.Errorf("%w (%v)", ErrTranscript, err)
		}

		audio, mimeType, audioErr := s.youtube.DownloadAudio(ctx, videoID)
		if audioErr != nil {
			return nil, fmt.Errorf("%w (%v; audio: %v)", ErrTranscript, err, audioErr)
		}
		transcribed, tErr := transcriber.Transcribe(ctx, audio, mimeType)
		if tErr != nil {
			return nil, fmt.Errorf("%w (%v; transcription: %v)", ErrTranscript, err, tErr)
		}

		s.log.Info("transcribed video audio", zap.String("video_id", videoID), zap.Int("chars", len(transcribed)))
		doc.Text = normalizeExtractedText(transcribed)
		return doc, nil
	})
}

// resolveTopic asks the LLM for study notes; any failure there falls back
// to a template so generation can still proceed from general knowledge.
func (s *SourceService) resolveTopic(ctx context.Context, topic string, llm Completer) (*models.SourceDocument, error) {
	doc := &models.SourceDocument{Kind: models.SourceTopic, Title: topic, Reference: topic}

	if llm != nil {
		brief, err := llm.Complete(ctx, CompletionRequest{
			System:      s.prompts.TopicBrief.System,
			Prompt:      s.prompts.TopicBriefPrompt(topic),
			Temperature: generationTemperature,
		})
		switch {
		case err == nil && strings.TrimSpace(brief) != "":
			doc.Text = normalizeExtractedText(brief)
			return doc, nil
		case errors.Is(err, ErrRateLimited), errors.Is(err, ErrInvalidAPIKey):
			// Generation would fail the same way.
			return nil, err
		case err != nil:
			s.log.Warn("topic brief failed, using template", zap.String("topic", topic), zap.Error(err))
		}
	}

	doc.Text = s.prompts.TopicFallback(topic)
	return doc, nil
}

// sharedLoadTimeout bounds an extraction that several requests wait on.
const sharedLoadTimeout = 3 * time.Minute

// cached collapses concurrent identical extractions and stores the result.
// The shared load runs detached from any one caller, so a caller that goes
// away only stops its own wait.
func (s *SourceService) cached(ctx context.Context, key string, load func(ctx context.Context) (*models.SourceDocument, error)) (*models.SourceDocument, error) {
	if s.cache != nil {
		if doc, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			s.log.Debug("source cache hit", zap.String("key", key))
			return doc, nil
		} else if err != nil {
			s.log.Warn("source cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	ch := s.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()

		doc, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && s.ttl > 0 {
			if err := s.cache.Set(loadCtx, key, doc, s.ttl); err != nil {
				s.log.Warn("source cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return doc, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		s.log.Debug("source extraction shared", zap.String("key", key))
	}

	// Callers may mutate their copy.
	doc := *res.Val.(*models.SourceDocument)
	return &doc, nil
}

func titleFromFileName(name string) string {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}
