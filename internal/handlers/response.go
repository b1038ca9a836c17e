package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizmaster-backend/internal/middleware"
	"quizmaster-backend/internal/models"
	"quizmaster-backend/internal/repository"
	"quizmaster-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.Fields = fields
	return resp
}

// serviceErrors maps domain errors to an HTTP status and API code. The
// client sees the target's own message, never the wrapped upstream detail.
var serviceErrors = []struct {
	target  error
	status  int
	code    string
	message string
}{
	{target: services.ErrAPIKeyRequired, status: http.StatusBadRequest, code: "API_KEY_REQUIRED"},
	{target: services.ErrRateLimited, status: http.StatusTooManyRequests, code: "RATE_LIMITED"},
	{target: services.ErrInvalidAPIKey, status: http.StatusUnauthorized, code: "INVALID_API_KEY"},
	{target: services.ErrProviderFailure, status: http.StatusBadGateway, code: "PROVIDER_ERROR"},
	{target: services.ErrEmptyCompletion, status: http.StatusBadGateway, code: "PROVIDER_ERROR"},
	{target: services.ErrMalformedOutput, status: http.StatusBadGateway, code: "NO_QUESTIONS"},
	{target: services.ErrNoQuestions, status: http.StatusBadGateway, code: "NO_QUESTIONS"},
	{target: services.ErrNoSource, status: http.StatusBadRequest, code: "NO_SOURCE"},
	{target: services.ErrEmptySource, status: http.StatusUnprocessableEntity, code: "EMPTY_SOURCE"},
	{target: services.ErrPDFParse, status: http.StatusUnprocessableEntity, code: "PDF_PARSE_FAILED"},
	{target: services.ErrUnsupportedFile, status: http.StatusUnsupportedMediaType, code: "UNSUPPORTED_FILE"},
	{target: services.ErrInvalidYouTube, status: http.StatusBadRequest, code: "INVALID_YOUTUBE_URL"},
	{target: services.ErrTranscript, status: http.StatusUnprocessableEntity, code: "TRANSCRIPT_UNAVAILABLE"},
	{target: services.ErrAttemptClosed, status: http.StatusConflict, code: "ATTEMPT_CLOSED"},
	{target: services.ErrAlreadyAnswered, status: http.StatusConflict, code: "ALREADY_ANSWERED"},
	{target: services.ErrTimeExpired, status: http.StatusConflict, code: "TIME_EXPIRED"},
	{target: services.ErrInvalidQuestion, status: http.StatusBadRequest, code: "INVALID_QUESTION"},
	{target: services.ErrEmptyAnswer, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
	{target: services.ErrQuizNotReady, status: http.StatusConflict, code: "QUIZ_NOT_READY"},
	{target: services.ErrInvalidRating, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
	{target: repository.ErrNotFound, status: http.StatusNotFound, code: "NOT_FOUND", message: "Resource not found"},
	{target: repository.ErrConflict, status: http.StatusConflict, code: "CONFLICT", message: "The attempt was changed by another request. Please try again."},
	{target: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "TIMEOUT", message: "The request timed out"},
}

// serviceErrorStatus returns the status, API code and client message for err.
func serviceErrorStatus(err error) (int, string, string) {
	for _, e := range serviceErrors {
		if !errors.Is(err, e.target) {
			continue
		}
		msg := e.message
		if msg == "" {
			msg = e.target.Error()
		}
		return e.status, e.code, msg
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := serviceErrorStatus(err)
	middleware.LoggerFrom(r.Context()).Warn("request failed",
		zap.String("code", code),
		zap.Int("status", status),
		zap.Error(err),
	)
	writeJSON(w, status, errorResp(code, msg, r))
}

// urlID parses a UUID route parameter, writing a 400 when it is malformed.
func urlID(w http.ResponseWriter, r *http.Request, param, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid "+label+" ID", r))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
