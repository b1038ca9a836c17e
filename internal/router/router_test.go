package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizmaster-backend/internal/handlers"
	"quizmaster-backend/internal/middleware"
	"quizmaster-backend/internal/models"
	"quizmaster-backend/internal/services"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	limiter := middleware.NewRateLimiter(100, time.Minute)
	t.Cleanup(limiter.Stop)

	return New(
		middleware.NewSessionAuth("router-test-secret-012345", time.Hour),
		limiter,
		handlers.NewHealthHandler(nil),
		handlers.NewSourceHandler(nil, 1<<20, nil),
		handlers.NewQuizHandler(nil, nil, nil, nil, nil, 1<<20, nil),
		handlers.NewAttemptHandler(nil),
		handlers.NewFlashcardHandler(nil, nil, services.NewFlashcardScheduler()),
		handlers.NewJobHandler(nil, nil),
		nil,
		[]string{"http://localhost:5173"},
		nil,
	)
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(t)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
}

func TestRouter_SessionRoutesRequireToken(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{"/api/v1/quizzes", "/api/v1/quiz-attempts/abc", "/api/v1/jobs/abc"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusUnauthorized, rr.Code, path)

		var body models.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
	}
}

func TestRouter_WebSocketDisabledWithoutHub(t *testing.T) {
	r := newTestRouter(t)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/quizzes/generate", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}
