package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"models":     a.Models != nil && a.Models.HasCredentials(),
		"jobsActive": a.inFlight(),
	})
}

func (a *App) inFlight() int {
	if a.Processor == nil {
		return 0
	}
	return a.Processor.InFlight()
}
