package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/otcheredev/ris-study-ingest/internal/models"
	"gorm.io/gorm"
)

// ConnectionTester reports whether the remote store answers
type ConnectionTester interface {
	TestConnection(ctx context.Context) (*models.ConnectionStatus, error)
}

type HealthHandler struct {
	db   *gorm.DB
	pacs ConnectionTester
}

// NewHealthHandler builds the health endpoints. db is nil when studies are
// kept in memory.
func NewHealthHandler(db *gorm.DB, pacs ConnectionTester) *HealthHandler {
	return &HealthHandler{db: db, pacs: pacs}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	// Check database
	if h.db != nil {
		if h.pingDatabase(r.Context()) != nil {
			response.Services["database"] = "unhealthy"
			response.Status = "degraded"
		} else {
			response.Services["database"] = "healthy"
		}
	}

	// Check PACS
	if h.pacs != nil {
		if _, err := h.pacs.TestConnection(r.Context()); err != nil {
			response.Services["pacs"] = "unhealthy"
			response.Status = "degraded"
		} else {
			response.Services["pacs"] = "healthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

// Ready only needs the database; an unreachable PACS fails uploads, not reads.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil && h.pingDatabase(r.Context()) != nil {
		http.Error(w, "Service not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *HealthHandler) pingDatabase(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
