package services

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	urlpkg "net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	ytapi "github.com/hightemp/youtube-transcript-api-go/api"
	yt "github.com/kkdai/youtube/v2"
	"go.uber.org/zap"

	"quizmaster-backend/internal/logger"
	"quizmaster-backend/internal/models"
)

const (
	watchPageUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxAudioBytes = 100 * 1024 * 1024
)

// VideoSource is what source resolution needs from YouTube.
type VideoSource interface {
	GetTranscript(ctx context.Context, videoID string) (string, error)
	GetVideoMetadata(ctx context.Context, videoID string) (*models.VideoMetadata, error)
	DownloadAudio(ctx context.Context, videoID string) ([]byte, string, error)
}

type YouTubeService struct {
	httpClient    *http.Client
	transcriptAPI *ytapi.YouTubeTranscriptApi
	ytClient      *yt.Client
	log           *zap.Logger
}

type timedTextXML struct {
	XMLName xml.Name  `xml:"transcript"`
	Texts   []textXML `xml:"text"`
}

type textXML struct {
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Text  string `xml:",chardata"`
}

func NewYouTubeService(log *zap.Logger) *YouTubeService {
	return &YouTubeService{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		transcriptAPI: ytapi.NewYouTubeTranscriptApi(),
		ytClient:      &yt.Client{},
		log:           logger.OrNop(log),
	}
}

// GetTranscript prefers English captions, then any language, then the
// legacy timedtext track linked from the watch page.
func (s *YouTubeService) GetTranscript(ctx context.Context, videoID string) (string, error) {
	transcript, err := s.transcriptAPI.GetTranscript(videoID, []string{"en", "en-US", "en-GB"})
	if err != nil {
		transcript, err = s.transcriptAPI.GetTranscript(videoID, nil)
		if err != nil {
			legacyTranscript, legacyErr := s.getTranscriptViaTimedText(ctx, videoID)
			if legacyErr == nil {
				return legacyTranscript, nil
			}
			return "", fmt.Errorf("no subtitles available via transcript API (%v) and timedtext fallback failed (%v)", err, legacyErr)
		}
	}

	if len(transcript.Entries) == 0 {
		return "", fmt.Errorf("subtitle track is empty")
	}

	var fullText strings.Builder
	for _, entry := range transcript.Entries {
		text := strings.TrimSpace(html.UnescapeString(entry.Text))
		if text == "" {
			continue
		}
		fullText.WriteString(text)
		fullText.WriteString(" ")
	}

	cleaned := strings.TrimSpace(fullText.String())
	if cleaned == "" {
		return "", fmt.Errorf("subtitle text resolved to empty content")
	}
	return cleaned, nil
}

func (s *YouTubeService) fetchWatchPage(ctx context.Context, videoID string) ([]byte, error) {
	pageURL := "https://www.youtube.com/watch?v=" + urlpkg.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", watchPageUA)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch YouTube page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("YouTube page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read YouTube page: %w", err)
	}
	return body, nil
}

func (s *YouTubeService) getTranscriptViaTimedText(ctx context.Context, videoID string) (string, error) {
	page, err := s.fetchWatchPage(ctx, videoID)
	if err != nil {
		return "", err
	}
	s.log.Debug("timedtext fallback fetched watch page", zap.String("video_id", videoID), zap.Int("bytes", len(page)))

	captionURL, err := extractCaptionURL(string(page))
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, captionURL, nil)
	if err != nil {
		return "", err
	}
	captionResp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch captions: %w", err)
	}
	defer captionResp.Body.Close()

	captionBody, err := io.ReadAll(captionResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read captions: %w", err)
	}

	transcript, err := parseCaptionsXML(captionBody)
	if err != nil {
		return "", fmt.Errorf("failed to parse captions XML: %w", err)
	}
	return transcript, nil
}

var (
	captionTracksRe  = regexp.MustCompile(`"captionTracks"\s*:\s*\[(.*?)\],\s*"`)
	captionTracks2Re = regexp.MustCompile(`"playerCaptionsTracklistRenderer"\s*:\s*\{(?:.*?,)?\s*"captionTracks"\s*:\s*\[(.*?)\],\s*"`)
	baseURLRe        = regexp.MustCompile(`"baseUrl"\s*:\s*"(.*?)"`)
	lengthSecondsRe  = regexp.MustCompile(`"lengthSeconds":"(\d+)"`)
	ownerChannelRe   = regexp.MustCompile(`"ownerChannelName":"(.*?)"`)
)

func extractCaptionURL(pageHTML string) (string, error) {
	matches := captionTracksRe.FindStringSubmatch(pageHTML)
	if len(matches) < 2 {
		matches = captionTracks2Re.FindStringSubmatch(pageHTML)
		if len(matches) < 2 {
			return "", fmt.Errorf("no captions available for this video")
		}
	}

	urlMatches := baseURLRe.FindStringSubmatch(matches[1])
	if len(urlMatches) < 2 {
		return "", fmt.Errorf("caption track found but baseUrl missing")
	}

	u := urlMatches[1]
	u = strings.ReplaceAll(u, `\u0026`, "&")
	u = strings.ReplaceAll(u, `\/`, "/")
	return u, nil
}

func parseCaptionsXML(data []byte) (string, error) {
	var tt timedTextXML
	if err := xml.Unmarshal(data, &tt); err != nil {
		return "", err
	}

	var parts []string
	for _, t := range tt.Texts {
		text := strings.TrimSpace(html.UnescapeString(t.Text))
		if text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("captions XML empty")
	}
	return strings.Join(parts, " "), nil
}

// GetVideoMetadata reads the watch page; if that fails the player API is used.
func (s *YouTubeService) GetVideoMetadata(ctx context.Context, videoID string) (*models.VideoMetadata, error) {
	page, err := s.fetchWatchPage(ctx, videoID)
	if err == nil {
		if meta, perr := parseWatchPage(videoID, page); perr == nil && meta.Title != "" {
			return meta, nil
		}
	}

	video, vErr := s.ytClient.GetVideoContext(ctx, videoID)
	if vErr != nil {
		if err != nil {
			return nil, fmt.Errorf("failed to load video metadata: %v; player fallback: %w", err, vErr)
		}
		return nil, fmt.Errorf("failed to load video metadata: %w", vErr)
	}

	meta := &models.VideoMetadata{
		VideoID:         videoID,
		Title:           video.Title,
		Author:          video.Author,
		Description:     video.Description,
		DurationSeconds: int(video.Duration / time.Second),
		ThumbnailURL:    defaultThumbnail(videoID),
	}
	if len(video.Thumbnails) > 0 {
		meta.ThumbnailURL = video.Thumbnails[len(video.Thumbnails)-1].URL
	}
	return meta, nil
}

func parseWatchPage(videoID string, page []byte) (*models.VideoMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page)))
	if err != nil {
		return nil, err
	}

	meta := &models.VideoMetadata{VideoID: videoID}

	meta.Title = metaContent(doc, `meta[property="og:title"]`, `meta[name="title"]`)
	if meta.Title == "" {
		meta.Title = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(doc.Find("title").First().Text()), "- YouTube"))
	}
	meta.Description = metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`)
	meta.ThumbnailURL = metaContent(doc, `meta[property="og:image"]`)
	if meta.ThumbnailURL == "" {
		meta.ThumbnailURL = defaultThumbnail(videoID)
	}

	meta.Author = metaContent(doc, `span[itemprop="author"] link[itemprop="name"]`)
	if meta.Author == "" {
		if m := ownerChannelRe.FindSubmatch(page); len(m) > 1 {
			meta.Author = string(m[1])
		}
	}

	if m := lengthSecondsRe.FindSubmatch(page); len(m) > 1 {
		meta.DurationSeconds, _ = strconv.Atoi(string(m[1]))
	} else if d := metaContent(doc, `meta[itemprop="duration"]`); d != "" {
		meta.DurationSeconds = parseISODuration(d)
	}

	return meta, nil
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// parseISODuration handles the PT#H#M#S form used in itemprop=duration.
func parseISODuration(s string) int {
	m := isoDurationRe.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return 0
	}
	total := 0
	for i, mult := range []int{3600, 60, 1} {
		if m[i+1] != "" {
			n, _ := strconv.Atoi(m[i+1])
			total += n * mult
		}
	}
	return total
}

func defaultThumbnail(videoID string) string {
	return fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", videoID)
}

// DownloadAudio downloads the highest-bitrate stream that carries audio.
func (s *YouTubeService) DownloadAudio(ctx context.Context, videoID string) ([]byte, string, error) {
	video, err := s.ytClient.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch YouTube video metadata: %w", err)
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return nil, "", fmt.Errorf("no audio formats available")
	}

	best := formats[0]
	for _, f := range formats {
		if f.Bitrate > best.Bitrate {
			best = f
		}
	}

	stream, _, err := s.ytClient.GetStreamContext(ctx, video, &best)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	audioBytes, err := io.ReadAll(io.LimitReader(stream, maxAudioBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read audio stream: %w", err)
	}
	if len(audioBytes) > maxAudioBytes {
		return nil, "", fmt.Errorf("audio stream exceeds %d MB limit", maxAudioBytes/(1024*1024))
	}

	mimeType := strings.TrimSpace(strings.Split(best.MimeType, ";")[0])
	if mimeType == "" {
		mimeType = "audio/mp4"
	}
	return audioBytes, mimeType, nil
}

var videoIDPattern = regexp.MustCompile(`(?:v=|\/v\/|youtu\.be\/|embed\/|shorts\/|live\/)([a-zA-Z0-9_-]{11})`)
var bareVideoIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

// ExtractVideoID accepts watch, shorts, embed, live and youtu.be links.
func ExtractVideoID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parsed, err := urlpkg.Parse(raw)
	if err == nil {
		host := strings.ToLower(parsed.Host)
		path := strings.Trim(parsed.Path, "/")

		if strings.HasSuffix(host, "youtube.com") || strings.HasSuffix(host, "youtube-nocookie.com") {
			if v := parsed.Query().Get("v"); bareVideoIDPattern.MatchString(v) {
				return v
			}

			parts := strings.Split(path, "/")
			if len(parts) >= 2 {
				switch parts[0] {
				case "shorts", "embed", "v", "live":
					if bareVideoIDPattern.MatchString(parts[1]) {
						return parts[1]
					}
				}
			}
		}

		if host == "youtu.be" || host == "www.youtu.be" {
			candidate := strings.Split(path, "/")[0]
			if bareVideoIDPattern.MatchString(candidate) {
				return candidate
			}
		}

		if parsed.Host != "" && !strings.Contains(host, "youtu") {
			return ""
		}
	}

	if m := videoIDPattern.FindStringSubmatch(raw); len(m) > 1 {
		return m[1]
	}
	return ""
}
