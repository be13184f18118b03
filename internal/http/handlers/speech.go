package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"
)

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type speechResponse struct {
	AudioContent string `json:"audioContent"`
}

func (a *App) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		a.error(w, http.StatusBadRequest, "Text is required")
		return
	}
	if !a.requireModels(w) {
		return
	}
	audio, err := a.Speech.Synthesize(r.Context(), req.Text, req.Voice)
	if err != nil {
		a.log(r).Error().Err(err).Msg("speech synthesis failed")
		a.error(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.json(w, http.StatusOK, speechResponse{AudioContent: base64.StdEncoding.EncodeToString(audio)})
}
