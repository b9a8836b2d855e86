package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/otcheredev/ris-study-ingest/internal/apperr"
	"github.com/otcheredev/ris-study-ingest/internal/models"
)

const maxAuditPage = 500

// AuditReader queries recorded ingest and delete outcomes
type AuditReader interface {
	GetByPatientID(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
	GetByResourceUID(ctx context.Context, resourceUID string) ([]models.AuditLog, error)
}

type AuditHandler struct {
	audit AuditReader
}

func NewAuditHandler(audit AuditReader) *AuditHandler {
	return &AuditHandler{audit: audit}
}

func (h *AuditHandler) Routes(r chi.Router) {
	r.Get("/patients/{patientID}/audit", h.ForPatient)
	r.Get("/studies/{studyUID}/audit", h.ForStudy)
}

// ForPatient pages through a patient's audit log with ?limit and ?offset
func (h *AuditHandler) ForPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit, err := intQuery(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit > maxAuditPage {
		limit = maxAuditPage
	}

	logs, err := h.audit.GetByPatientID(r.Context(), patientID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": logs, "limit": limit, "offset": offset})
}

// ForStudy lists every audit entry of a study
func (h *AuditHandler) ForStudy(w http.ResponseWriter, r *http.Request) {
	logs, err := h.audit.GetByResourceUID(r.Context(), chi.URLParam(r, "studyUID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": logs})
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Newf(apperr.KindMalformedInput, "handlers.intQuery", "invalid %s %q", name, raw)
	}
	return n, nil
}
