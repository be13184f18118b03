package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mirror/internal/domain"
)

type jobStatusRequest struct {
	JobID string `json:"jobId"`
}

type jobStatusResponse struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	Mode     string `json:"mode,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JobStatus reads a job by id from the URL, the jobId query parameter or a
// JSON body.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if id == "" {
		id = r.URL.Query().Get("jobId")
	}
	if id == "" && r.Method == http.MethodPost {
		var req jobStatusRequest
		if err := a.decode(w, r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
		id = req.JobID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		a.error(w, http.StatusBadRequest, "jobId is required")
		return
	}

	job, err := a.Jobs.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		a.json(w, http.StatusNotFound, map[string]string{"status": "not_found"})
		return
	}
	if err != nil {
		a.log(r).Error().Err(err).Str("job_id", id).Msg("job status lookup failed")
		a.error(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	a.json(w, http.StatusOK, jobStatusResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		Mode:     string(job.Mode),
		VideoURL: job.VideoURL,
		Error:    job.Error,
	})
}
