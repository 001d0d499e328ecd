package handlers

import (
	"net/http"
)

// Health reports liveness and whether the finetune registry is readable.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := a.Jobs.ListFinetunes(r.Context()); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: registry unavailable")
		a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "registry": "unavailable"})
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "registry": "ok"})
}
