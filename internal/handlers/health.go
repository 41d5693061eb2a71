package handlers

import (
	"net/http"
	"time"

	"github.com/rhoward/ztverify/internal/database"
	pkghttp "github.com/rhoward/ztverify/pkg/http"
)

// HealthHandler reports service liveness and database reachability
type HealthHandler struct {
	db      *database.DB
	started time.Time
}

func NewHealthHandler(db *database.DB) *HealthHandler {
	return &HealthHandler{db: db, started: time.Now()}
}

// Health checks the service and its database connection.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	pkghttp.WriteJSON(w, code, map[string]any{
		"status": status,
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}
