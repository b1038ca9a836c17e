package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"quizmaster-backend/internal/handlers"
	"quizmaster-backend/internal/logger"
	"quizmaster-backend/internal/middleware"
	"quizmaster-backend/internal/websocket"
)

func New(
	sessionAuth *middleware.SessionAuth,
	generateLimiter *middleware.RateLimiter,
	healthHandler *handlers.HealthHandler,
	sourceHandler *handlers.SourceHandler,
	quizHandler *handlers.QuizHandler,
	attemptHandler *handlers.AttemptHandler,
	flashcardHandler *handlers.FlashcardHandler,
	jobHandler *handlers.JobHandler,
	wsHub *websocket.Hub,
	allowedOrigins []string,
	log *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger.OrNop(log)))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)

	// ──── Legacy single-shot route ────
	r.With(generateLimiter.Middleware).Post("/api/quiz/generate", quizHandler.LegacyGenerate)

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Source Routes (public) ────
		r.Route("/sources", func(r chi.Router) {
			r.Get("/supported-formats", sourceHandler.SupportedFormats)
			r.With(generateLimiter.Middleware).Post("/validate-youtube", sourceHandler.ValidateYouTube)
		})

		// ──── Quiz Routes ────
		r.Route("/quizzes", func(r chi.Router) {
			// Generation starts a session when the caller has none.
			r.Group(func(r chi.Router) {
				r.Use(sessionAuth.Optional)
				r.Use(generateLimiter.Middleware)
				r.Post("/generate", quizHandler.Generate)
			})

			r.Group(func(r chi.Router) {
				r.Use(sessionAuth.Middleware)
				r.Get("/", quizHandler.List)
				r.Get("/{id}", quizHandler.Get)
				r.Delete("/{id}", quizHandler.Delete)
				r.Post("/{id}/start", quizHandler.StartAttempt)
				r.Get("/{id}/flashcards", flashcardHandler.List)
				r.Post("/{id}/flashcards/{index}/rating", flashcardHandler.Rate)
			})
		})

		r.Route("/quiz-attempts", func(r chi.Router) {
			r.Use(sessionAuth.Middleware)
			r.Post("/{id}/answer", attemptHandler.Answer)
			r.Post("/{id}/submit", attemptHandler.Submit)
			r.Get("/{id}", attemptHandler.Get)
		})

		// ──── Job Routes ────
		r.Route("/jobs", func(r chi.Router) {
			r.Use(sessionAuth.Middleware)
			r.Get("/{id}", jobHandler.GetJob)
			r.Delete("/{id}", jobHandler.CancelJob)
		})

		// ──── WebSocket ────
		if wsHub != nil {
			r.Get("/ws", wsHub.HandleWebSocket)
		}
	})

	return r
}

// Timeouts used by the HTTP server. Writes allow for a full synchronous
// generation.
const (
	ReadTimeout  = 30 * time.Second
	WriteTimeout = 3 * time.Minute
	IdleTimeout  = 60 * time.Second
)
