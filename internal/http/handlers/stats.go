package handlers

import (
	"net/http"
)

func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	if a.Stats == nil {
		a.error(w, http.StatusNotFound, "stats unavailable")
		return
	}
	s, err := a.Stats.Stats(r.Context())
	if err != nil {
		a.log(r).Error().Err(err).Msg("failed to load stats")
		a.error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"total":     s.Total,
		"queued":    s.Queued,
		"running":   s.Running,
		"succeeded": s.Succeeded,
		"failed":    s.Failed,
		"last_24h":  s.Last24h,
		"in_flight": a.inFlight(),
	})
}
