package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/otcheredev/ris-study-ingest/internal/adapters"
	"github.com/otcheredev/ris-study-ingest/internal/apperr"
	"github.com/otcheredev/ris-study-ingest/internal/cache"
	"github.com/otcheredev/ris-study-ingest/internal/extractor"
	"github.com/otcheredev/ris-study-ingest/internal/metrics"
	"github.com/otcheredev/ris-study-ingest/internal/models"
	"github.com/otcheredev/ris-study-ingest/internal/repository"
	"github.com/otcheredev/ris-study-ingest/internal/viewer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultCompensationTimeout = 30 * time.Second

// MetadataExtractor reads DICOM headers
type MetadataExtractor interface {
	Extract(ctx context.Context, r io.ReadSeeker) (*models.DicomMetadata, error)
}

// AuditRecorder stores audit log entries
type AuditRecorder interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// RetryPolicy bounds upload retries per error kind
type RetryPolicy struct {
	UploadRetries  int           // retries on UpstreamUnavailable
	TimeoutRetries int           // retries on UpstreamTimeout
	Backoff        time.Duration // first delay, doubled per attempt
	MaxBackoff     time.Duration
}

// Options configures the ingestion service
type Options struct {
	Endpoints           viewer.Endpoints
	Retry               RetryPolicy
	CompensationTimeout time.Duration
}

// IngestResult is the outcome of a successful ingestion
type IngestResult struct {
	IngestionID string                     `json:"ingestion_id"`
	Study       *models.StudyAggregate     `json:"study"`
	Viewer      models.ViewerConfiguration `json:"viewer"`
}

// DeleteResult reports what a deletion removed. A failed remote delete is a
// partial success: the local rows are gone and Warning says why the remote
// copy may remain.
type DeleteResult struct {
	StudyInstanceUID string `json:"study_instance_uid"`
	StorageID        string `json:"storage_id"`
	LocalDeleted     bool   `json:"local_deleted"`
	RemoteDeleted    bool   `json:"remote_deleted"`
	Warning          string `json:"warning,omitempty"`
}

// IngestionService coordinates extraction, upload, persistence and viewer
// configuration of DICOM studies
type IngestionService struct {
	extractor           MetadataExtractor
	gateway             adapters.PACSGateway
	studies             repository.StudyRepository
	audit               AuditRecorder
	viewers             *cache.ViewerStore
	endpoints           viewer.Endpoints
	retry               RetryPolicy
	compensationTimeout time.Duration
	sleep               func(ctx context.Context, d time.Duration) error
}

// NewIngestionService creates a new ingestion service. audit and viewers may
// be nil.
func NewIngestionService(
	ex MetadataExtractor,
	gateway adapters.PACSGateway,
	studies repository.StudyRepository,
	audit AuditRecorder,
	viewers *cache.ViewerStore,
	opts Options,
) *IngestionService {
	timeout := opts.CompensationTimeout
	if timeout <= 0 {
		timeout = defaultCompensationTimeout
	}
	return &IngestionService{
		extractor:           ex,
		gateway:             gateway,
		studies:             studies,
		audit:               audit,
		viewers:             viewers,
		endpoints:           opts.Endpoints.Normalize(),
		retry:               opts.Retry,
		compensationTimeout: timeout,
		sleep:               sleepContext,
	}
}

// Ingest stores one Part 10 file for a patient
func (s *IngestionService) Ingest(ctx context.Context, patientID uuid.UUID, file io.ReadSeeker) (*IngestResult, error) {
	return s.IngestBatch(ctx, patientID, []io.ReadSeeker{file})
}

// IngestBatch stores several files of one study as a single study. The
// remote store must file every upload under the same study.
func (s *IngestionService) IngestBatch(ctx context.Context, patientID uuid.UUID, files []io.ReadSeeker) (result *IngestResult, err error) {
	const op = "services.Ingest"

	started := time.Now()
	ingestionID := uuid.NewString()
	logger := log.With().
		Str("ingestion_id", ingestionID).
		Str("patient_id", patientID.String()).
		Int("files", len(files)).
		Logger()

	entry := &models.AuditLog{
		Action:    models.AuditActionIngest,
		PatientID: patientID,
	}
	defer func() {
		metrics.ObserveIngestion(string(apperr.KindOf(err)), started)
		if err != nil {
			logger.Warn().Err(err).Str("kind", string(apperr.KindOf(err))).Msg("Ingestion failed")
		}
		s.record(ctx, entry, err, started)
	}()

	if len(files) == 0 {
		return nil, apperr.New(apperr.KindValidation, op, "no files to ingest")
	}

	// 1. Extract
	metas := make([]*models.DicomMetadata, 0, len(files))
	payloads := make([][]byte, 0, len(files))
	for i, f := range files {
		meta, err := s.extractor.Extract(ctx, f)
		if err != nil {
			return nil, fileError(len(files), i, err)
		}
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fileError(len(files), i, apperr.Wrap(apperr.KindMalformedInput, op, err, "failed to read payload"))
		}
		metas = append(metas, meta)
		payloads = append(payloads, data)
	}

	meta, err := extractor.Merge(metas...)
	if err != nil {
		return nil, err
	}
	entry.ResourceUID = meta.StudyInstanceUID
	logger = logger.With().Str("study_uid", meta.StudyInstanceUID).Logger()

	// 2. Reject known studies before anything reaches the remote store
	if _, err := s.studies.GetByStudyInstanceUID(ctx, meta.StudyInstanceUID); err == nil {
		return nil, apperr.Newf(apperr.KindConflict, op, "study %s already ingested", meta.StudyInstanceUID)
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	// 3. Upload. Compensation only ever removes instances this batch
	// created; AlreadyStored instances and the rest of a pre-existing remote
	// study are left alone.
	var storageID string
	var created []orphan
	for i, data := range payloads {
		receipt, err := s.upload(ctx, logger, data)
		if err != nil {
			s.compensate(ctx, logger, meta.StudyInstanceUID, created)
			return nil, fileError(len(payloads), i, err)
		}
		id := receipt.StorageID()
		if !receipt.AlreadyStored() {
			created = append(created, orphan{instanceID: receipt.InstanceID, storageID: id})
		}
		if storageID == "" {
			storageID = id
			continue
		}
		if id != storageID {
			s.compensate(ctx, logger, meta.StudyInstanceUID, created)
			return nil, apperr.Newf(apperr.KindUpstreamRejected, op,
				"PACS filed file %d under study %s, expected %s", i+1, id, storageID)
		}
	}
	entry.StorageID = storageID
	logger = logger.With().Str("storage_id", storageID).Logger()

	// 4. Persist
	agg, err := s.studies.Create(ctx, patientID, meta, storageID)
	if err != nil {
		s.compensate(ctx, logger, meta.StudyInstanceUID, created)
		return nil, err
	}

	// 5. Publish
	if err := s.studies.UpdateStatus(ctx, agg.Study.ID, models.StudyStatusAvailable); err != nil {
		s.rollback(ctx, logger, agg, created)
		return nil, err
	}
	agg.Study.Status = models.StudyStatusAvailable

	cfg := viewer.Build(agg, s.endpoints)
	if err := s.viewers.Put(ctx, s.endpoints.Fingerprint(), &cfg); err != nil {
		logger.Warn().Err(err).Msg("Failed to cache viewer configuration")
	}

	logger.Info().
		Int("series", agg.Study.SeriesCount).
		Int("instances", agg.Study.InstanceCount).
		Dur("duration", time.Since(started)).
		Msg("Study ingested")

	return &IngestResult{IngestionID: ingestionID, Study: agg, Viewer: cfg}, nil
}

// upload sends one file, retrying transient failures within the policy
func (s *IngestionService) upload(ctx context.Context, logger zerolog.Logger, data []byte) (*models.UploadReceipt, error) {
	var unavailable, timeouts int
	backoff := s.retry.Backoff

	for {
		receipt, err := s.gateway.Upload(ctx, data)
		if err == nil {
			return receipt, nil
		}

		switch apperr.KindOf(err) {
		case apperr.KindUpstreamUnavailable:
			if unavailable >= s.retry.UploadRetries {
				return nil, err
			}
			unavailable++
		case apperr.KindUpstreamTimeout:
			if timeouts >= s.retry.TimeoutRetries {
				return nil, err
			}
			timeouts++
		default:
			return nil, err
		}

		logger.Warn().
			Err(err).
			Int("attempt", unavailable+timeouts).
			Dur("backoff", backoff).
			Msg("Upload failed, retrying")

		if err := s.sleep(ctx, backoff); err != nil {
			return nil, apperr.FromContext("services.upload", err)
		}
		backoff *= 2
		if s.retry.MaxBackoff > 0 && backoff > s.retry.MaxBackoff {
			backoff = s.retry.MaxBackoff
		}
	}
}

// orphan is a remote instance created by a failed ingestion
type orphan struct {
	instanceID string
	storageID  string
}

// compensate deletes instances that have no local study. Instances filed
// under a study already recorded for this UID belong to a concurrent winner
// and are left alone.
func (s *IngestionService) compensate(ctx context.Context, logger zerolog.Logger, studyUID string, orphans []orphan) {
	if len(orphans) == 0 {
		return
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	owner := ""
	if existing, err := s.studies.GetByStudyInstanceUID(cctx, studyUID); err == nil {
		owner = existing.Study.StorageID
	}

	seen := make(map[string]bool, len(orphans))
	for _, o := range orphans {
		if seen[o.instanceID] {
			continue
		}
		seen[o.instanceID] = true

		l := logger.With().Str("orphan_instance", o.instanceID).Str("orphan_study", o.storageID).Logger()
		if o.storageID == owner {
			metrics.CompensationsTotal.WithLabelValues("skipped").Inc()
			l.Info().Msg("Remote study belongs to a persisted study, not compensating")
			continue
		}
		if _, err := s.gateway.DeleteInstance(cctx, o.instanceID); err != nil {
			metrics.CompensationsTotal.WithLabelValues("failed").Inc()
			l.Error().Err(err).Msg("Compensating delete failed, remote instance orphaned")
			continue
		}
		metrics.CompensationsTotal.WithLabelValues("ok").Inc()
		l.Info().Msg("Compensating delete succeeded")
	}
}

// rollback removes a study whose persistence completed but could not be
// published, then compensates remotely.
func (s *IngestionService) rollback(ctx context.Context, logger zerolog.Logger, agg *models.StudyAggregate, created []orphan) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	if err := s.studies.Delete(cctx, agg.Study.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to remove unpublished study")
		if err := s.studies.UpdateStatus(cctx, agg.Study.ID, models.StudyStatusError); err != nil {
			logger.Error().Err(err).Msg("Failed to mark study as errored")
		}
		return
	}
	s.compensate(ctx, logger, agg.Study.StudyInstanceUID, created)
}

// DeleteStudy removes a study locally and from the remote store
func (s *IngestionService) DeleteStudy(ctx context.Context, studyUID string) (result *DeleteResult, err error) {
	started := time.Now()
	logger := log.With().Str("study_uid", studyUID).Logger()
	entry := &models.AuditLog{Action: models.AuditActionDelete, ResourceUID: studyUID}
	defer func() {
		if err == nil && result != nil && result.Warning != "" {
			entry.Status = "partial"
			entry.ErrorMessage = result.Warning
		}
		s.record(ctx, entry, err, started)
	}()

	agg, err := s.studies.GetByStudyInstanceUID(ctx, studyUID)
	if err != nil {
		return nil, err
	}
	entry.PatientID = agg.Study.PatientID
	entry.StorageID = agg.Study.StorageID

	if agg.Study.Status != models.StudyStatusDeleting {
		if err := s.studies.UpdateStatus(ctx, agg.Study.ID, models.StudyStatusDeleting); err != nil {
			return nil, err
		}
	}
	if err := s.studies.Delete(ctx, agg.Study.ID); err != nil {
		return nil, err
	}
	if err := s.viewers.Invalidate(ctx, studyUID); err != nil {
		logger.Warn().Err(err).Msg("Failed to invalidate viewer configuration cache")
	}

	result = &DeleteResult{
		StudyInstanceUID: studyUID,
		StorageID:        agg.Study.StorageID,
		LocalDeleted:     true,
	}

	existed, err := s.gateway.Delete(ctx, agg.Study.StorageID)
	if err != nil {
		result.Warning = fmt.Sprintf("study removed locally but remote delete failed: %v", err)
		logger.Error().Err(err).Str("storage_id", agg.Study.StorageID).Msg("Remote delete failed, object may be orphaned")
		return result, nil
	}
	result.RemoteDeleted = true

	logger.Info().
		Str("storage_id", agg.Study.StorageID).
		Bool("remote_existed", existed).
		Msg("Study deleted")

	return result, nil
}

// ViewerConfig returns the viewer configuration of an available study. The
// repository is consulted before the cache so a deleted study never serves a
// stale cached configuration.
func (s *IngestionService) ViewerConfig(ctx context.Context, studyUID string) (*models.ViewerConfiguration, error) {
	agg, err := s.studies.GetByStudyInstanceUID(ctx, studyUID)
	if err != nil {
		return nil, err
	}
	if agg.Study.Status != models.StudyStatusAvailable {
		return nil, apperr.Newf(apperr.KindValidation, "services.ViewerConfig",
			"study %s is not available (status %s)", studyUID, agg.Study.Status)
	}

	fingerprint := s.endpoints.Fingerprint()
	cached, ok, err := s.viewers.Get(ctx, studyUID, fingerprint)
	if err != nil {
		log.Warn().Err(err).Str("study_uid", studyUID).Msg("Viewer cache lookup failed")
	}
	if ok {
		return cached, nil
	}

	cfg := viewer.Build(agg, s.endpoints)
	if err := s.viewers.Put(ctx, fingerprint, &cfg); err != nil {
		log.Warn().Err(err).Str("study_uid", studyUID).Msg("Failed to cache viewer configuration")
	}
	return &cfg, nil
}

// Study returns the persisted aggregate of a study
func (s *IngestionService) Study(ctx context.Context, studyUID string) (*models.StudyAggregate, error) {
	return s.studies.GetByStudyInstanceUID(ctx, studyUID)
}

// StudiesForPatient lists a patient's studies
func (s *IngestionService) StudiesForPatient(ctx context.Context, patientID uuid.UUID) ([]models.DicomStudy, error) {
	return s.studies.GetByPatientID(ctx, patientID)
}

// RemoteMetadata returns the remote store's view of a persisted study
func (s *IngestionService) RemoteMetadata(ctx context.Context, studyUID string) (*models.RemoteStudy, error) {
	agg, err := s.studies.GetByStudyInstanceUID(ctx, studyUID)
	if err != nil {
		return nil, err
	}
	return s.gateway.FetchMetadata(ctx, agg.Study.StorageID)
}

// TestConnection checks the remote store
func (s *IngestionService) TestConnection(ctx context.Context) (*models.ConnectionStatus, error) {
	return s.gateway.TestConnection(ctx)
}

// record writes the audit entry. Audit failures never fail the operation.
func (s *IngestionService) record(ctx context.Context, entry *models.AuditLog, err error, started time.Time) {
	if s.audit == nil {
		return
	}

	if u, ok := models.UserFromContext(ctx); ok {
		entry.UserID = u.UserID
	}
	entry.Duration = time.Since(started).Milliseconds()
	switch {
	case err != nil:
		entry.Status = "failure"
		entry.ErrorKind = string(apperr.KindOf(err))
		entry.ErrorMessage = err.Error()
	case entry.Status == "":
		entry.Status = "success"
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.audit.Create(actx, entry); err != nil {
		log.Error().Err(err).Str("action", entry.Action).Msg("Failed to write audit log")
	}
}

// fileError names the failing file when several were submitted.
func fileError(total, i int, err error) error {
	if total == 1 {
		return err
	}
	return fmt.Errorf("file %d: %w", i+1, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
