package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"quizmaster-backend/internal/logger"
	"quizmaster-backend/internal/models"
	"quizmaster-backend/internal/services"
)

type videoMetadataSource interface {
	GetVideoMetadata(ctx context.Context, videoID string) (*models.VideoMetadata, error)
}

type SourceHandler struct {
	videos    videoMetadataSource
	maxUpload int64
	log       *zap.Logger
}

func NewSourceHandler(videos videoMetadataSource, maxUpload int64, log *zap.Logger) *SourceHandler {
	return &SourceHandler{videos: videos, maxUpload: maxUpload, log: logger.OrNop(log)}
}

var fileFormats = map[string]map[string]string{
	".pdf": {"mime_type": "application/pdf", "description": "PDF Document"},
	".txt": {"mime_type": "text/plain", "description": "Plain Text"},
}

func (h *SourceHandler) SupportedFormats(w http.ResponseWriter, r *http.Request) {
	formats := make([]map[string]string, 0, len(services.SupportedFileExtensions))
	for _, ext := range services.SupportedFileExtensions {
		f := map[string]string{"extension": ext}
		for k, v := range fileFormats[ext] {
			f[k] = v
		}
		formats = append(formats, f)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"formats":        formats,
		"max_file_bytes": h.maxUpload,
		"sources":        []models.SourceKind{models.SourcePDF, models.SourceText, models.SourceYouTube, models.SourceTopic},
		"quiz_types":     []models.QuizType{models.QuizTypeMCQ, models.QuizTypeTF, models.QuizTypeFIB, models.QuizTypeMix},
		"difficulties":   []models.Difficulty{models.DifficultyEasy, models.DifficultyNormal, models.DifficultyHard},
		"amount": map[string]int{
			"min":     models.MinQuestionCount,
			"max":     models.MaxQuestionCount,
			"default": models.DefaultQuestionCount,
		},
	})
}

// ValidateYouTube checks the URL and looks up the video. Metadata lookup
// failures still return the video as valid with placeholder details.
func (h *SourceHandler) ValidateYouTube(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateYouTubeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	videoID := services.ExtractVideoID(req.URL)
	if videoID == "" {
		handleServiceError(w, r, services.ErrInvalidYouTube)
		return
	}

	metadata, err := h.videos.GetVideoMetadata(r.Context(), videoID)
	if err != nil {
		h.log.Warn("video metadata lookup failed", zap.String("video_id", videoID), zap.Error(err))
		metadata = &models.VideoMetadata{
			VideoID:      videoID,
			Title:        "YouTube Video",
			ThumbnailURL: "https://img.youtube.com/vi/" + videoID + "/hqdefault.jpg",
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"video_id": videoID,
		"metadata": metadata,
		"valid":    true,
	})
}
