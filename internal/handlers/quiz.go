package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizmaster-backend/internal/logger"
	"quizmaster-backend/internal/middleware"
	"quizmaster-backend/internal/models"
	"quizmaster-backend/internal/services"
	"quizmaster-backend/internal/worker"
)

type quizStore interface {
	Create(ctx context.Context, q *models.Quiz) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Quiz, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.Quiz, int, error)
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	Delete(ctx context.Context, id, sessionID uuid.UUID) error
	CreateAttempt(ctx context.Context, a *models.QuizAttempt) error
	ListAttempts(ctx context.Context, quizID, sessionID uuid.UUID) ([]*models.QuizAttempt, error)
}

type jobCreator interface {
	Create(ctx context.Context, j *models.Job) error
}

type quizPipeline interface {
	CheckKey(apiKey string) error
	Run(ctx context.Context, apiKey string, req models.SourceRequest, doc *models.SourceDocument, opts models.QuizOptions, progress services.Progress) (*services.PipelineResult, error)
	ResolveSource(ctx context.Context, req models.SourceRequest) (*models.SourceDocument, error)
}

type taskQueue interface {
	Enqueue(ctx context.Context, t *worker.Task) error
}

type tokenIssuer interface {
	IssueToken(sessionID uuid.UUID) (string, error)
}

const asyncUnavailableWarning = "Background processing is unavailable, so the quiz was generated immediately."

type QuizHandler struct {
	quizRepo  quizStore
	jobRepo   jobCreator
	pipeline  quizPipeline
	queue     taskQueue
	tokens    tokenIssuer
	maxUpload int64
	log       *zap.Logger
	now       func() time.Time
}

// NewQuizHandler builds the handler. queue may be nil when Redis is not
// configured; async requests then run inline.
func NewQuizHandler(quizRepo quizStore, jobRepo jobCreator, pipeline quizPipeline, queue taskQueue, tokens tokenIssuer, maxUpload int64, log *zap.Logger) *QuizHandler {
	return &QuizHandler{
		quizRepo:  quizRepo,
		jobRepo:   jobRepo,
		pipeline:  pipeline,
		queue:     queue,
		tokens:    tokens,
		maxUpload: maxUpload,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
}

type generateForm struct {
	Source  models.SourceRequest
	APIKey  string
	Options models.QuizOptions
	Async   bool
}

// parseGenerateForm reads the multipart (or urlencoded) generation form.
// defaultType is used when quizType is absent.
func (h *QuizHandler) parseGenerateForm(w http.ResponseWriter, r *http.Request, defaultType models.QuizType) (*generateForm, error) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}

	form := &generateForm{
		APIKey: strings.TrimSpace(r.FormValue("apiKey")),
		Source: models.SourceRequest{
			YouTubeURL: strings.TrimSpace(r.FormValue("youtubeUrl")),
			Topic:      strings.TrimSpace(r.FormValue("topic")),
		},
	}

	fields := map[string]string{}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, err
		}
		if h.maxUpload > 0 && int64(len(data)) > h.maxUpload {
			return nil, &http.MaxBytesError{Limit: h.maxUpload}
		}
		form.Source.FileName = header.Filename
		form.Source.FileData = data
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		return nil, err
	}

	rawType := r.FormValue("quizType")
	if rawType == "" {
		rawType = string(defaultType)
	}
	quizType, ok := models.ParseQuizType(rawType)
	if !ok {
		fields["quizType"] = "must be one of mcq, tf, fib or mix"
	}
	difficulty, ok := models.ParseDifficulty(r.FormValue("difficulty"))
	if !ok {
		fields["difficulty"] = "must be one of easy, normal or hard"
	}

	amount := 0
	if raw := strings.TrimSpace(r.FormValue("amount")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fields["amount"] = "must be a whole number"
		}
		amount = n
	}

	form.Options = models.QuizOptions{
		Type:       quizType,
		Difficulty: difficulty,
		Amount:     amount,
		MockMode:   formBool(r.FormValue("mockMode")),
	}.Normalize()
	form.Async = formBool(r.FormValue("async"))

	if len(fields) > 0 {
		return nil, &validationError{fields: fields}
	}
	return form, nil
}

type validationError struct {
	fields map[string]string
}

func (e *validationError) Error() string { return "Validation failed" }

func formBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func (h *QuizHandler) writeFormError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", verr.Error(), verr.fields, r))
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "The uploaded file is too large", r))
	default:
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid form data", r))
	}
}

func (h *QuizHandler) Generate(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseGenerateForm(w, r, models.QuizTypeMix)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}

	if form.Source.Kind() == models.SourceNone {
		handleServiceError(w, r, services.ErrNoSource)
		return
	}
	if err := h.pipeline.CheckKey(form.APIKey); err != nil {
		handleServiceError(w, r, err)
		return
	}

	sessionID := middleware.GetSessionID(r.Context())
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}
	token, err := h.tokens.IssueToken(sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to issue session token", r))
		return
	}

	var warnings []string
	if form.Async {
		if h.queue != nil {
			h.generateAsync(w, r, form, sessionID, token)
			return
		}
		warnings = append(warnings, asyncUnavailableWarning)
	}

	result, err := h.pipeline.Run(r.Context(), form.APIKey, form.Source, nil, form.Options, nil)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	quiz := &models.Quiz{
		SessionID:  sessionID,
		Subject:    result.Subject,
		SourceKind: result.Document.Kind,
		SourceRef:  result.Document.Reference,
		Options:    form.Options,
		Status:     models.QuizStatusReady,
		Questions:  result.Questions,
	}
	if err := h.quizRepo.Create(r.Context(), quiz); err != nil {
		h.log.Error("failed to store quiz", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save quiz", r))
		return
	}

	writeJSON(w, http.StatusOK, models.GenerateResult{
		QuizID:           quiz.ID,
		Subject:          quiz.Subject,
		Questions:        quiz.Questions,
		TimeLimitSeconds: int(form.Options.TimeLimit(len(quiz.Questions)) / time.Second),
		SessionToken:     token,
		Warnings:         append(warnings, result.Warnings...),
	})
}

// generateAsync extracts uploaded files up front so the queued task never
// carries file bytes, then hands the rest to the worker pool.
func (h *QuizHandler) generateAsync(w http.ResponseWriter, r *http.Request, form *generateForm, sessionID uuid.UUID, token string) {
	ctx := r.Context()
	kind := form.Source.Kind()

	quiz := &models.Quiz{
		SessionID:  sessionID,
		SourceKind: kind,
		Options:    form.Options,
		Status:     models.QuizStatusPending,
	}

	var doc *models.SourceDocument
	switch kind {
	case models.SourcePDF, models.SourceText:
		var err error
		doc, err = h.pipeline.ResolveSource(ctx, form.Source)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		quiz.Subject = doc.Subject()
		quiz.SourceRef = doc.Reference
	case models.SourceYouTube:
		quiz.SourceRef = form.Source.YouTubeURL
	case models.SourceTopic:
		quiz.Subject = form.Source.Topic
		quiz.SourceRef = form.Source.Topic
	}

	if err := h.quizRepo.Create(ctx, quiz); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create quiz", r))
		return
	}

	job := &models.Job{
		SessionID:   sessionID,
		Type:        models.JobTypeQuizGeneration,
		ReferenceID: quiz.ID,
	}
	if err := h.jobRepo.Create(ctx, job); err != nil {
		h.quizRepo.MarkFailed(ctx, quiz.ID, "failed to create job")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create job", r))
		return
	}

	source := form.Source
	source.FileData = nil
	task := &worker.Task{
		JobID:     job.ID,
		QuizID:    quiz.ID,
		SessionID: sessionID,
		Type:      job.Type,
		APIKey:    form.APIKey,
		Options:   form.Options,
		Source:    source,
		Document:  doc,
	}
	if err := h.queue.Enqueue(ctx, task); err != nil {
		h.log.Error("failed to enqueue job", zap.Stringer("job_id", job.ID), zap.Error(err))
		h.quizRepo.MarkFailed(ctx, quiz.ID, "failed to queue job")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue job", r))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":        job.ID,
		"quiz_id":       quiz.ID,
		"session_token": token,
	})
}

// LegacyGenerate serves the original single-shot route: nothing is stored
// and errors come back as {"error": "..."}.
func (h *QuizHandler) LegacyGenerate(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseGenerateForm(w, r, models.QuizTypeMCQ)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid form data"})
		return
	}
	if form.Source.Kind() == models.SourceNone || h.pipeline.CheckKey(form.APIKey) != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "File and API Key are required"})
		return
	}

	result, err := h.pipeline.Run(r.Context(), form.APIKey, form.Source, nil, form.Options, nil)
	if err != nil {
		status, _, msg := serviceErrorStatus(err)
		h.log.Warn("legacy generation failed", zap.Int("status", status), zap.Error(err))
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"questions": result.Questions,
		"subject":   result.Subject,
	})
}

func (h *QuizHandler) List(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())
	limit := queryInt(r, "limit", 20, 1, 100)
	offset := queryInt(r, "offset", 0, 0, 1<<30)

	quizzes, total, err := h.quizRepo.ListBySession(r.Context(), sessionID, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch quizzes", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quizzes": quizzes,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// ownedQuiz loads the quiz named in the URL and checks it belongs to the
// caller's session.
func (h *QuizHandler) ownedQuiz(w http.ResponseWriter, r *http.Request) (*models.Quiz, bool) {
	return loadOwnedQuiz(w, r, h.quizRepo)
}

type quizGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Quiz, error)
}

func loadOwnedQuiz(w http.ResponseWriter, r *http.Request, repo quizGetter) (*models.Quiz, bool) {
	id, ok := urlID(w, r, "id", "quiz")
	if !ok {
		return nil, false
	}

	quiz, err := repo.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Quiz not found", r))
		return nil, false
	}

	if quiz.SessionID != middleware.GetSessionID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, false
	}
	return quiz, true
}

func (h *QuizHandler) Get(w http.ResponseWriter, r *http.Request) {
	quiz, ok := h.ownedQuiz(w, r)
	if !ok {
		return
	}

	attempts, err := h.quizRepo.ListAttempts(r.Context(), quiz.ID, quiz.SessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch attempts", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quiz":     quiz,
		"attempts": attempts,
	})
}

func (h *QuizHandler) Delete(w http.ResponseWriter, r *http.Request) {
	quiz, ok := h.ownedQuiz(w, r)
	if !ok {
		return
	}

	if err := h.quizRepo.Delete(r.Context(), quiz.ID, quiz.SessionID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Quiz deleted"})
}

type startAttemptRequest struct {
	MockMode *bool `json:"mock_mode"`
}

// StartAttempt opens a new attempt; calling it again on the same quiz is a
// restart. The body is optional and may override the quiz's mock mode.
func (h *QuizHandler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	quiz, ok := h.ownedQuiz(w, r)
	if !ok {
		return
	}
	if quiz.Status != models.QuizStatusReady || len(quiz.Questions) == 0 {
		handleServiceError(w, r, services.ErrQuizNotReady)
		return
	}

	var req startAttemptRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
			return
		}
	}
	mockMode := quiz.Options.MockMode
	if req.MockMode != nil {
		mockMode = *req.MockMode
	}

	attempt := services.NewAttempt(quiz, quiz.SessionID, mockMode, h.now().UTC())
	if err := h.quizRepo.CreateAttempt(r.Context(), attempt); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to start quiz", r))
		return
	}

	limit := models.QuizOptions{MockMode: mockMode}.TimeLimit(len(quiz.Questions))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"attempt_id":         attempt.ID,
		"started_at":         attempt.StartedAt,
		"deadline":           attempt.Deadline,
		"mock_mode":          attempt.MockMode,
		"time_limit_seconds": int(limit / time.Second),
		"questions":          quiz.Questions,
	})
}
