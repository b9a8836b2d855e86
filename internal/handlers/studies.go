package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/otcheredev/ris-study-ingest/internal/apperr"
	"github.com/otcheredev/ris-study-ingest/internal/models"
	"github.com/otcheredev/ris-study-ingest/internal/services"
)

// StudyService is the part of services.IngestionService the API exposes
type StudyService interface {
	IngestBatch(ctx context.Context, patientID uuid.UUID, files []io.ReadSeeker) (*services.IngestResult, error)
	Study(ctx context.Context, studyUID string) (*models.StudyAggregate, error)
	StudiesForPatient(ctx context.Context, patientID uuid.UUID) ([]models.DicomStudy, error)
	ViewerConfig(ctx context.Context, studyUID string) (*models.ViewerConfiguration, error)
	RemoteMetadata(ctx context.Context, studyUID string) (*models.RemoteStudy, error)
	DeleteStudy(ctx context.Context, studyUID string) (*services.DeleteResult, error)
}

type StudyHandler struct {
	service        StudyService
	maxUploadBytes int64
}

func NewStudyHandler(service StudyService, maxUploadBytes int64) *StudyHandler {
	return &StudyHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes mounts the study endpoints
func (h *StudyHandler) Routes(r chi.Router) {
	r.Post("/patients/{patientID}/studies", h.Upload)
	r.Get("/patients/{patientID}/studies", h.ListForPatient)
	r.Get("/studies/{studyUID}", h.Get)
	r.Get("/studies/{studyUID}/viewer-config", h.ViewerConfig)
	r.Get("/studies/{studyUID}/remote-metadata", h.RemoteMetadata)
	r.Delete("/studies/{studyUID}", h.Delete)
}

// Upload ingests a raw application/dicom body or multipart "file" parts
func (h *StudyHandler) Upload(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	files, cleanup, err := h.readFiles(r)
	defer cleanup()
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.service.IngestBatch(r.Context(), patientID, files)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *StudyHandler) readFiles(r *http.Request) ([]io.ReadSeeker, func(), error) {
	const op = "handlers.Upload"
	noop := func() {}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, noop, apperr.New(apperr.KindMalformedInput, op, "missing or invalid Content-Type")
	}

	switch mediaType {
	case "application/dicom", "application/octet-stream":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, noop, bodyError(op, err)
		}
		return []io.ReadSeeker{bytes.NewReader(data)}, noop, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, noop, bodyError(op, err)
		}
		headers := r.MultipartForm.File["file"]
		if len(headers) == 0 {
			return nil, func() { r.MultipartForm.RemoveAll() }, apperr.New(apperr.KindMalformedInput, op, `no "file" parts in form`)
		}

		var files []io.ReadSeeker
		var closers []io.Closer
		cleanup := func() {
			for _, c := range closers {
				c.Close()
			}
			r.MultipartForm.RemoveAll()
		}
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, cleanup, apperr.Wrap(apperr.KindMalformedInput, op, err, fmt.Sprintf("failed to open part %q", fh.Filename))
			}
			closers = append(closers, f)
			files = append(files, f)
		}
		return files, cleanup, nil

	default:
		return nil, noop, apperr.Newf(apperr.KindMalformedInput, op, "unsupported Content-Type %q", mediaType)
	}
}

// ListForPatient lists a patient's studies
func (h *StudyHandler) ListForPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	studies, err := h.service.StudiesForPatient(r.Context(), patientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if studies == nil {
		studies = []models.DicomStudy{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"studies": studies})
}

// Get returns a study with its series and instances
func (h *StudyHandler) Get(w http.ResponseWriter, r *http.Request) {
	study, err := h.service.Study(r.Context(), chi.URLParam(r, "studyUID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, study)
}

// ViewerConfig returns the viewer configuration of a study
func (h *StudyHandler) ViewerConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.ViewerConfig(r.Context(), chi.URLParam(r, "studyUID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// RemoteMetadata returns the PACS view of a study
func (h *StudyHandler) RemoteMetadata(w http.ResponseWriter, r *http.Request) {
	remote, err := h.service.RemoteMetadata(r.Context(), chi.URLParam(r, "studyUID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, remote)
}

// Delete removes a study locally and from the PACS
func (h *StudyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.DeleteStudy(r.Context(), chi.URLParam(r, "studyUID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func patientParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "patientID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.KindMalformedInput, "handlers.patientParam", "invalid patient id %q", raw)
	}
	return id, nil
}

func bodyError(op string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Newf(apperr.KindValidation, op, "upload exceeds %d bytes", tooLarge.Limit)
	}
	return apperr.Wrap(apperr.KindMalformedInput, op, err, "failed to read request body")
}
