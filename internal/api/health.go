package api

import (
	"context"
	"net/http"
	"time"

	"pollchat/internal/db"
)

type HealthHandler struct {
	database *db.DB
	storage  func() error
}

// NewHealthHandler checks the database and, when storage is non-nil, the blob
// directory.
func NewHealthHandler(database *db.DB, storage func() error) *HealthHandler {
	return &HealthHandler{database: database, storage: storage}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	status := http.StatusOK

	if err := h.database.PingContext(ctx); err != nil {
		checks["database"] = "error"
		status = http.StatusServiceUnavailable
	}
	if h.storage != nil {
		checks["storage"] = "ok"
		if err := h.storage(); err != nil {
			checks["storage"] = "error"
			status = http.StatusServiceUnavailable
		}
	}

	result := "ok"
	if status != http.StatusOK {
		result = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status": result,
		"checks": checks,
	})
}
