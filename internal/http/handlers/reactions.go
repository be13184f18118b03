package handlers

import (
	"net/http"
	"strings"

	"mirror/internal/domain"
	"mirror/internal/frame"
	"mirror/internal/reaction"
)

type reactionRequest struct {
	ImageBase64 string `json:"imageBase64"`
	Line        string `json:"line"`
	Mood        string `json:"mood"`
	Mode        string `json:"mode"`
	SessionID   string `json:"sessionId"`
}

type reactionResponse struct {
	JobID string `json:"jobId"`
}

// StartReaction queues a reaction video and returns its job id at once.
func (a *App) StartReaction(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if !strings.HasPrefix(req.ImageBase64, "data:image/") || strings.TrimSpace(req.Line) == "" {
		a.error(w, http.StatusBadRequest, "Invalid input: imageBase64 and line required")
		return
	}
	img, err := frame.Parse("imageBase64", req.ImageBase64)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !a.requireModels(w) {
		return
	}
	session := req.SessionID
	if session == "" {
		session = r.Header.Get("X-Session-ID")
	}
	handle, err := a.Processor.StartJob(r.Context(), reaction.StartRequest{
		Image:   img,
		Line:    req.Line,
		Mood:    domain.ParseMood(req.Mood),
		Mode:    domain.ParseMode(req.Mode),
		Session: session,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, reactionResponse{JobID: handle.JobID})
}
