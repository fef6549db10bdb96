package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status      string `json:"status"`
	Database    bool   `json:"database"`
	Idempotency bool   `json:"idempotency"`
	Downloads   bool   `json:"downloads"`
}

// Health handles GET /v1/healthz. It reports liveness and which optional
// backends are wired; it never calls them.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Database:    a.Results != nil,
		Idempotency: a.Idempotency != nil,
		Downloads:   a.Downloads != nil,
	})
}
