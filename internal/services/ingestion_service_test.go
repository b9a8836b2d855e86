package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/otcheredev/ris-study-ingest/internal/adapters"
	"github.com/otcheredev/ris-study-ingest/internal/apperr"
	"github.com/otcheredev/ris-study-ingest/internal/cache"
	"github.com/otcheredev/ris-study-ingest/internal/dicomtest"
	"github.com/otcheredev/ris-study-ingest/internal/extractor"
	"github.com/otcheredev/ris-study-ingest/internal/models"
	"github.com/otcheredev/ris-study-ingest/internal/repository"
	"github.com/otcheredev/ris-study-ingest/internal/viewer"
)

const studyUID = "1.2.826.0.1.3680043.8.498.7"

var testEndpoints = viewer.Endpoints{
	WadoRoot:   "http://pacs.test/wado",
	WadoRsRoot: "http://pacs.test/dicom-web",
	QidoRsRoot: "http://pacs.test/dicom-web",
}

// fakeOrthanc records uploads and deletes. Behavior per call is scripted
// through the optional hooks.
type fakeOrthanc struct {
	mu        sync.Mutex
	uploads   int
	deletes   []string // studies
	instances []string // deleted instances

	uploadStatus  func(n int) int    // status of the n-th upload (1-based)
	parentStudy   func(n int) string // ParentStudy of the n-th upload
	receiptStatus func(n int) string // Status of the n-th acknowledgment
	deleteStatus  int
}

func (f *fakeOrthanc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/instances":
		io.Copy(io.Discard, r.Body)
		f.uploads++
		if f.uploadStatus != nil {
			if status := f.uploadStatus(f.uploads); status != http.StatusOK {
				http.Error(w, "scripted failure", status)
				return
			}
		}
		parent := "orthanc-study-1"
		if f.parentStudy != nil {
			parent = f.parentStudy(f.uploads)
		}
		status := "Success"
		if f.receiptStatus != nil {
			status = f.receiptStatus(f.uploads)
		}
		json.NewEncoder(w).Encode(models.UploadReceipt{
			InstanceID:  fmt.Sprintf("inst-%d", f.uploads),
			ParentStudy: parent,
			Status:      status,
		})
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/instances/"):
		f.instances = append(f.instances, strings.TrimPrefix(r.URL.Path, "/instances/"))
		w.Write([]byte("{}"))
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/studies/"):
		f.deletes = append(f.deletes, strings.TrimPrefix(r.URL.Path, "/studies/"))
		if f.deleteStatus != 0 {
			w.WriteHeader(f.deleteStatus)
			return
		}
		w.Write([]byte("{}"))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/studies/"):
		json.NewEncoder(w).Encode(map[string]any{
			"ID":            strings.TrimPrefix(r.URL.Path, "/studies/"),
			"MainDicomTags": map[string]string{"StudyInstanceUID": studyUID},
			"IsStable":      true,
		})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOrthanc) counts() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, append([]string(nil), f.deletes...)
}

func (f *fakeOrthanc) deletedInstances() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.instances...)
}

type harness struct {
	svc      *IngestionService
	orthanc  *fakeOrthanc
	repo     *repository.MemoryStudyRepository
	audit    *repository.MemoryAuditRepository
	cache    *cache.MemoryCache
	patient  uuid.UUID
	patients *repository.MemoryPatientDirectory
}

func newHarness(t *testing.T, wrap func(repository.StudyRepository) repository.StudyRepository) *harness {
	t.Helper()

	h := &harness{
		orthanc: &fakeOrthanc{},
		patient: uuid.New(),
		audit:   repository.NewMemoryAuditRepository(),
		cache:   cache.NewMemoryCache(time.Minute),
	}
	h.patients = repository.NewMemoryPatientDirectory(h.patient)
	h.repo = repository.NewMemoryStudyRepository(h.patients)

	srv := httptest.NewServer(h.orthanc)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { h.cache.Close() })

	gateway, err := adapters.NewOrthancGateway(adapters.Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	var studies repository.StudyRepository = h.repo
	if wrap != nil {
		studies = wrap(h.repo)
	}

	h.svc = NewIngestionService(extractor.New(), gateway, studies, h.audit,
		cache.NewViewerStore(h.cache, time.Minute),
		Options{
			Endpoints: testEndpoints,
			Retry:     RetryPolicy{UploadRetries: 2, TimeoutRetries: 1, Backoff: time.Millisecond},
		})
	h.svc.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return h
}

func ctFile(series, sop string) io.ReadSeeker {
	return bytes.NewReader(dicomtest.CT(studyUID, studyUID+"."+series, studyUID+"."+series+"."+sop).Bytes())
}

func TestIngest_SingleFile(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.svc.Ingest(context.Background(), h.patient, ctFile("1", "1"))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if res.Study.Study.Status != models.StudyStatusAvailable {
		t.Errorf("status = %s", res.Study.Study.Status)
	}
	if res.Study.Study.StorageID != "orthanc-study-1" {
		t.Errorf("storage id = %q", res.Study.Study.StorageID)
	}
	if res.Viewer.StudyInstanceUID != studyUID || len(res.Viewer.Series) != 1 {
		t.Errorf("unexpected viewer configuration: %+v", res.Viewer)
	}

	stored, err := h.repo.GetByStudyInstanceUID(context.Background(), studyUID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Study.Status != models.StudyStatusAvailable {
		t.Errorf("persisted status = %s", stored.Study.Status)
	}

	logs, _ := h.audit.GetByResourceUID(context.Background(), studyUID)
	if len(logs) != 1 || logs[0].Status != "success" || logs[0].StorageID != "orthanc-study-1" {
		t.Errorf("unexpected audit trail: %+v", logs)
	}
}

func TestIngestBatch_TwoSeriesThreeInstances(t *testing.T) {
	h := newHarness(t, nil)

	files := []io.ReadSeeker{ctFile("1", "1"), ctFile("1", "2"), ctFile("2", "1")}
	res, err := h.svc.IngestBatch(context.Background(), h.patient, files)
	if err != nil {
		t.Fatalf("IngestBatch failed: %v", err)
	}

	if res.Study.Study.SeriesCount != 2 || res.Study.Study.InstanceCount != 3 {
		t.Errorf("counts = %d/%d", res.Study.Study.SeriesCount, res.Study.Study.InstanceCount)
	}
	if h.repo.Stats() != (repository.Stats{Studies: 1, Series: 2, Instances: 3}) {
		t.Errorf("stats = %+v", h.repo.Stats())
	}

	cfg := res.Viewer
	if len(cfg.Series) != 2 {
		t.Fatalf("viewer has %d series", len(cfg.Series))
	}
	wantSeries := "http://pacs.test/wado/studies/" + studyUID + "/series/" + studyUID + ".1"
	if cfg.Series[0].WadoURI != wantSeries {
		t.Errorf("series uri = %q", cfg.Series[0].WadoURI)
	}
	if len(cfg.Series[0].Instances) != 2 || len(cfg.Series[1].Instances) != 1 {
		t.Errorf("instances per series = %d/%d", len(cfg.Series[0].Instances), len(cfg.Series[1].Instances))
	}
	if got := cfg.Series[0].Instances[0].WadoURI; got != wantSeries+"/instances/"+studyUID+".1.1" {
		t.Errorf("instance uri = %q", got)
	}

	if uploads, _ := h.orthanc.counts(); uploads != 3 {
		t.Errorf("uploads = %d, want 3", uploads)
	}
}

func TestIngest_DuplicateStudy(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.Ingest(ctx, h.patient, ctFile("1", "1")); err != nil {
		t.Fatal(err)
	}
	before := h.repo.Stats()

	_, err := h.svc.Ingest(ctx, h.patient, ctFile("1", "1"))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if uploads, deletes := h.orthanc.counts(); uploads != 1 || len(deletes) != 0 {
		t.Errorf("duplicate reached the PACS: uploads=%d deletes=%v", uploads, deletes)
	}
	if h.repo.Stats() != before {
		t.Errorf("store changed: %+v", h.repo.Stats())
	}
}

func TestIngest_MalformedInput(t *testing.T) {
	h := newHarness(t, nil)
	data := dicomtest.CT(studyUID, studyUID+".1", studyUID+".1.1").File().WithoutMagic().Bytes()

	_, err := h.svc.Ingest(context.Background(), h.patient, bytes.NewReader(data))
	if !apperr.Is(err, apperr.KindMalformedInput) {
		t.Fatalf("expected malformed input, got %v", err)
	}
	if uploads, _ := h.orthanc.counts(); uploads != 0 {
		t.Errorf("uploads = %d, want 0", uploads)
	}
	if h.repo.Stats().Studies != 0 {
		t.Error("nothing should be persisted")
	}
}

func TestIngest_UnknownPatientCompensates(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.Ingest(context.Background(), uuid.New(), ctFile("1", "1"))
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	uploads, deletes := h.orthanc.counts()
	if uploads != 1 {
		t.Errorf("uploads = %d, want 1", uploads)
	}
	if removed := h.orthanc.deletedInstances(); len(removed) != 1 || removed[0] != "inst-1" {
		t.Errorf("expected one compensating delete of inst-1, got %v", removed)
	}
	if len(deletes) != 0 {
		t.Errorf("compensation must not delete whole studies, got %v", deletes)
	}
	if h.repo.Stats().Studies != 0 {
		t.Error("nothing should be persisted")
	}

	logs, _ := h.audit.GetByResourceUID(context.Background(), studyUID)
	if len(logs) != 1 || logs[0].Status != "failure" || logs[0].ErrorKind != string(apperr.KindNotFound) {
		t.Errorf("unexpected audit trail: %+v", logs)
	}
}

func TestIngest_UploadRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.orthanc.uploadStatus = func(int) int { return http.StatusBadRequest }

	_, err := h.svc.Ingest(context.Background(), h.patient, ctFile("1", "1"))
	if !apperr.Is(err, apperr.KindUpstreamRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
	uploads, deletes := h.orthanc.counts()
	if uploads != 1 {
		t.Errorf("rejections must not be retried, uploads = %d", uploads)
	}
	if len(deletes) != 0 || len(h.orthanc.deletedInstances()) != 0 || h.repo.Stats().Studies != 0 {
		t.Error("nothing should be persisted or compensated")
	}
}

func TestIngest_RetriesUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.orthanc.uploadStatus = func(n int) int {
		if n <= 2 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	}

	if _, err := h.svc.Ingest(context.Background(), h.patient, ctFile("1", "1")); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if uploads, _ := h.orthanc.counts(); uploads != 3 {
		t.Errorf("uploads = %d, want 3", uploads)
	}
}

func TestIngest_RetryBudgetExhausted(t *testing.T) {
	h := newHarness(t, nil)
	h.orthanc.uploadStatus = func(int) int { return http.StatusBadGateway }

	_, err := h.svc.Ingest(context.Background(), h.patient, ctFile("1", "1"))
	if !apperr.Is(err, apperr.KindUpstreamUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if uploads, _ := h.orthanc.counts(); uploads != 3 {
		t.Errorf("uploads = %d, want 1 attempt plus 2 retries", uploads)
	}
	if h.repo.Stats().Studies != 0 {
		t.Error("nothing should be persisted")
	}
}

func TestIngestBatch_MismatchedRemoteStudy(t *testing.T) {
	h := newHarness(t, nil)
	h.orthanc.parentStudy = func(n int) string { return fmt.Sprintf("orthanc-study-%d", n) }

	_, err := h.svc.IngestBatch(context.Background(), h.patient, []io.ReadSeeker{ctFile("1", "1"), ctFile("1", "2")})
	if !apperr.Is(err, apperr.KindUpstreamRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
	if removed := h.orthanc.deletedInstances(); len(removed) != 2 {
		t.Errorf("expected both uploaded instances compensated, got %v", removed)
	}
	if h.repo.Stats().Studies != 0 {
		t.Error("nothing should be persisted")
	}
}

func TestIngestBatch_MixedStudies(t *testing.T) {
	h := newHarness(t, nil)
	other := bytes.NewReader(dicomtest.CT("9.9.9", "9.9.9.1", "9.9.9.1.1").Bytes())

	_, err := h.svc.IngestBatch(context.Background(), h.patient, []io.ReadSeeker{ctFile("1", "1"), other})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if uploads, _ := h.orthanc.counts(); uploads != 0 {
		t.Errorf("uploads = %d, want 0", uploads)
	}
}

// failingStatusRepo refuses to publish studies.
type failingStatusRepo struct {
	repository.StudyRepository
}

func (r failingStatusRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.StudyStatus) error {
	if status == models.StudyStatusAvailable {
		return apperr.New(apperr.KindInternal, "test", "store unavailable")
	}
	return r.StudyRepository.UpdateStatus(ctx, id, status)
}

func TestIngest_PublishFailureRollsBack(t *testing.T) {
	h := newHarness(t, func(inner repository.StudyRepository) repository.StudyRepository {
		return failingStatusRepo{inner}
	})

	_, err := h.svc.Ingest(context.Background(), h.patient, ctFile("1", "1"))
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if h.repo.Stats().Studies != 0 {
		t.Errorf("unpublished study left behind: %+v", h.repo.Stats())
	}
	if removed := h.orthanc.deletedInstances(); len(removed) != 1 {
		t.Errorf("expected a compensating delete, got %v", removed)
	}
}

// racingRepo lets a concurrent ingestion win just before Create.
type racingRepo struct {
	*repository.MemoryStudyRepository
	patient uuid.UUID
}

func (r racingRepo) Create(ctx context.Context, patientID uuid.UUID, meta *models.DicomMetadata, storageID string) (*models.StudyAggregate, error) {
	if _, err := r.MemoryStudyRepository.Create(ctx, r.patient, meta, storageID); err != nil {
		return nil, err
	}
	return r.MemoryStudyRepository.Create(ctx, patientID, meta, storageID)
}

func TestIngest_LostRaceKeepsWinnersObject(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.studies = racingRepo{MemoryStudyRepository: h.repo, patient: h.patient}

	_, err := h.svc.Ingest(context.Background(), h.patient, ctFile("1", "1"))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if removed := h.orthanc.deletedInstances(); len(removed) != 0 {
		t.Errorf("winner's remote instance was deleted: %v", removed)
	}
	if h.repo.Stats().Studies != 1 {
		t.Errorf("winner's study missing: %+v", h.repo.Stats())
	}
}

// cancelingRepo simulates the caller giving up while the study is persisted.
type cancelingRepo struct {
	repository.StudyRepository
	cancel context.CancelFunc
}

func (r cancelingRepo) Create(ctx context.Context, patientID uuid.UUID, meta *models.DicomMetadata, storageID string) (*models.StudyAggregate, error) {
	r.cancel()
	return r.StudyRepository.Create(ctx, patientID, meta, storageID)
}

func TestIngest_CancellationAfterUploadCompensates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, func(inner repository.StudyRepository) repository.StudyRepository {
		return cancelingRepo{StudyRepository: inner, cancel: cancel}
	})

	_, err := h.svc.Ingest(ctx, h.patient, ctFile("1", "1"))
	if !apperr.Is(err, apperr.KindCanceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if removed := h.orthanc.deletedInstances(); len(removed) != 1 {
		t.Errorf("expected compensation on a detached context, got %v", removed)
	}
}

func TestIngest_AlreadyStoredIsNotCompensated(t *testing.T) {
	h := newHarness(t, nil)
	h.orthanc.parentStudy = func(int) string { return "preexisting" }
	h.orthanc.receiptStatus = func(int) string { return "AlreadyStored" }

	_, err := h.svc.Ingest(context.Background(), uuid.New(), ctFile("1", "1"))
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, deletes := h.orthanc.counts()
	if removed := h.orthanc.deletedInstances(); len(deletes) != 0 || len(removed) != 0 {
		t.Errorf("pre-existing remote data was deleted: studies %v, instances %v", deletes, removed)
	}
}

func TestIngestBatch_CompensatesOnlyCreatedInstances(t *testing.T) {
	h := newHarness(t, nil)
	h.orthanc.parentStudy = func(int) string { return "preexisting" }
	h.orthanc.receiptStatus = func(n int) string {
		if n == 1 {
			return "AlreadyStored"
		}
		return "Success"
	}

	_, err := h.svc.IngestBatch(context.Background(), uuid.New(), []io.ReadSeeker{ctFile("1", "1"), ctFile("1", "2")})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, deletes := h.orthanc.counts()
	if len(deletes) != 0 {
		t.Errorf("pre-existing remote study was deleted: %v", deletes)
	}
	if removed := h.orthanc.deletedInstances(); len(removed) != 1 || removed[0] != "inst-2" {
		t.Errorf("expected only inst-2 compensated, got %v", removed)
	}
}

func TestDeleteStudy(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.Ingest(ctx, h.patient, ctFile("1", "1")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.ViewerConfig(ctx, studyUID); err != nil {
		t.Fatal(err)
	}

	res, err := h.svc.DeleteStudy(ctx, studyUID)
	if err != nil {
		t.Fatalf("DeleteStudy failed: %v", err)
	}
	if !res.LocalDeleted || !res.RemoteDeleted || res.Warning != "" {
		t.Errorf("unexpected result: %+v", res)
	}
	if h.repo.Stats() != (repository.Stats{}) {
		t.Errorf("rows left behind: %+v", h.repo.Stats())
	}
	if _, deletes := h.orthanc.counts(); len(deletes) != 1 || deletes[0] != "orthanc-study-1" {
		t.Errorf("deletes = %v", deletes)
	}
	if h.cache.Len() != 0 {
		t.Errorf("viewer cache not cleared, %d entries left", h.cache.Len())
	}
	if _, err := h.svc.ViewerConfig(ctx, studyUID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestDeleteStudy_RemoteFailureIsReported(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.Ingest(ctx, h.patient, ctFile("1", "1")); err != nil {
		t.Fatal(err)
	}
	h.orthanc.mu.Lock()
	h.orthanc.deleteStatus = http.StatusInternalServerError
	h.orthanc.mu.Unlock()

	res, err := h.svc.DeleteStudy(ctx, studyUID)
	if err != nil {
		t.Fatalf("DeleteStudy failed: %v", err)
	}
	if res.RemoteDeleted || res.Warning == "" {
		t.Errorf("remote failure not reported: %+v", res)
	}
	if !res.LocalDeleted || h.repo.Stats().Studies != 0 {
		t.Error("local rows should be gone")
	}

	logs, _ := h.audit.GetByResourceUID(ctx, studyUID)
	if len(logs) == 0 || logs[0].Action != models.AuditActionDelete || logs[0].Status != "partial" {
		t.Errorf("unexpected audit trail: %+v", logs)
	}
}

func TestDeleteStudy_RemoteAlreadyGone(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.Ingest(ctx, h.patient, ctFile("1", "1")); err != nil {
		t.Fatal(err)
	}
	h.orthanc.mu.Lock()
	h.orthanc.deleteStatus = http.StatusNotFound
	h.orthanc.mu.Unlock()

	res, err := h.svc.DeleteStudy(ctx, studyUID)
	if err != nil || !res.RemoteDeleted {
		t.Errorf("a missing remote study counts as deleted: %+v, %v", res, err)
	}
}

// unclearableCache fails every invalidation.
type unclearableCache struct {
	*cache.MemoryCache
}

func (unclearableCache) Clear(ctx context.Context, pattern string) error {
	return fmt.Errorf("cache offline")
}

func TestDeleteStudy_FailedInvalidationServesNoStaleConfig(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.svc.viewers = cache.NewViewerStore(unclearableCache{h.cache}, time.Minute)

	if _, err := h.svc.Ingest(ctx, h.patient, ctFile("1", "1")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.ViewerConfig(ctx, studyUID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.DeleteStudy(ctx, studyUID); err != nil {
		t.Fatalf("DeleteStudy failed: %v", err)
	}
	if h.cache.Len() == 0 {
		t.Fatal("cache entry should have survived the failed invalidation")
	}

	if cfg, err := h.svc.ViewerConfig(ctx, studyUID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("deleted study served from cache: %+v, %v", cfg, err)
	}
}

func TestViewerConfig(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.ViewerConfig(ctx, studyUID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	res, err := h.svc.Ingest(ctx, h.patient, ctFile("1", "1"))
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := h.svc.ViewerConfig(ctx, studyUID)
	if err != nil {
		t.Fatalf("ViewerConfig failed: %v", err)
	}
	a, _ := json.Marshal(cfg)
	b, _ := json.Marshal(res.Viewer)
	if !bytes.Equal(a, b) {
		t.Errorf("viewer configuration differs from ingestion result:\n%s\n%s", a, b)
	}
}

func TestViewerConfig_RequiresAvailableStudy(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	meta, err := extractor.New().Extract(ctx, ctFile("1", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.repo.Create(ctx, h.patient, meta, "orthanc-x"); err != nil {
		t.Fatal(err)
	}

	_, err = h.svc.ViewerConfig(ctx, studyUID)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for processing study, got %v", err)
	}
}

func TestRemoteMetadataAndListing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.Ingest(ctx, h.patient, ctFile("1", "1")); err != nil {
		t.Fatal(err)
	}

	remote, err := h.svc.RemoteMetadata(ctx, studyUID)
	if err != nil {
		t.Fatalf("RemoteMetadata failed: %v", err)
	}
	if remote.ID != "orthanc-study-1" || remote.MainTags.StudyInstanceUID != studyUID {
		t.Errorf("unexpected remote study: %+v", remote)
	}

	studies, err := h.svc.StudiesForPatient(ctx, h.patient)
	if err != nil || len(studies) != 1 {
		t.Errorf("StudiesForPatient = %d studies, %v", len(studies), err)
	}
}

func TestIngest_RecordsUser(t *testing.T) {
	h := newHarness(t, nil)
	ctx := models.WithUser(context.Background(), models.UserContext{UserID: "radiologist-7"})

	if _, err := h.svc.Ingest(ctx, h.patient, ctFile("1", "1")); err != nil {
		t.Fatal(err)
	}
	logs, _ := h.audit.GetByResourceUID(context.Background(), studyUID)
	if len(logs) != 1 || logs[0].UserID != "radiologist-7" {
		t.Errorf("unexpected audit trail: %+v", logs)
	}
}
