package handlers

import "net/http"

// Health is the unauthenticated liveness probe.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "service": "iris-art"})
}
