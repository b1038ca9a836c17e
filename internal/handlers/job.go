package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"quizmaster-backend/internal/middleware"
	"quizmaster-backend/internal/models"
)

type jobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, id, sessionID uuid.UUID) (bool, error)
}

type quizFailer interface {
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

type JobHandler struct {
	jobRepo  jobStore
	quizRepo quizFailer
}

func NewJobHandler(jobRepo jobStore, quizRepo quizFailer) *JobHandler {
	return &JobHandler{jobRepo: jobRepo, quizRepo: quizRepo}
}

func (h *JobHandler) ownedJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id, ok := urlID(w, r, "id", "job")
	if !ok {
		return nil, false
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Job not found", r))
		return nil, false
	}

	if job.SessionID != middleware.GetSessionID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, false
	}
	return job, true
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob stops a job that has not finished. Workers check the status
// before and after generating, so a running job's result is discarded.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	cancelled, err := h.jobRepo.Cancel(r.Context(), job.ID, job.SessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to cancel job", r))
		return
	}
	if !cancelled {
		writeJSON(w, http.StatusConflict, errorResp("JOB_FINISHED", "Job has already finished", r))
		return
	}

	h.quizRepo.MarkFailed(r.Context(), job.ReferenceID, "Generation was cancelled")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job cancelled"})
}
