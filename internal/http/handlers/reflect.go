package handlers

import (
	"net/http"

	"mirror/internal/domain"
	"mirror/internal/frame"
	"mirror/internal/mirror"
)

type reflectRequest struct {
	ImageBase64 string `json:"imageBase64"`
	Intensity   *int   `json:"intensity"`
	Tone        string `json:"tone"`
}

type reflectResponse struct {
	Message string `json:"message"`
	Mood    string `json:"mood"`
	Error   string `json:"error,omitempty"`
}

// Reflect answers 200 even when generation failed; the body then carries the
// fallback message and an error field.
func (a *App) Reflect(w http.ResponseWriter, r *http.Request) {
	if !a.requireModels(w) {
		return
	}
	var req reflectRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	img, err := frame.Parse("imageBase64", req.ImageBase64)
	if err != nil {
		a.error(w, http.StatusBadRequest, "Invalid image format")
		return
	}
	intensity := 1
	if req.Intensity != nil {
		intensity = *req.Intensity
	}
	res := a.Reflector.Reflect(r.Context(), mirror.Request{
		Image:     img,
		Tone:      domain.ParseTone(req.Tone),
		Intensity: intensity,
	})
	a.json(w, http.StatusOK, reflectResponse{Message: res.Message, Mood: string(res.Mood), Error: res.Error})
}
