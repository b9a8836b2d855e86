package adapters

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/otcheredev/ris-study-ingest/internal/apperr"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc, cfg Config) *OrthancGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	g, err := NewOrthancGateway(cfg)
	if err != nil {
		t.Fatalf("NewOrthancGateway: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestUpload_Success(t *testing.T) {
	var gotBody []byte
	var gotType, gotUser, gotPass string

	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/instances" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotType = r.Header.Get("Content-Type")
		gotUser, gotPass, _ = r.BasicAuth()
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"ID":"inst-1","ParentStudy":"study-1","ParentSeries":"series-1","Status":"Success"}`))
	}, Config{Username: "orthanc", Password: "secret"})

	receipt, err := g.Upload(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if receipt.StorageID() != "study-1" {
		t.Errorf("StorageID = %q", receipt.StorageID())
	}
	if string(gotBody) != "payload" {
		t.Errorf("body = %q", gotBody)
	}
	if gotType != "application/dicom" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotUser != "orthanc" || gotPass != "secret" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
}

func TestUpload_BearerToken(t *testing.T) {
	var auth string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"ID":"i","ParentStudy":"s"}`))
	}, Config{Token: "abc", Username: "ignored", Password: "ignored"})

	if _, err := g.Upload(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if auth != "Bearer abc" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestUpload_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   apperr.Kind
	}{
		{http.StatusBadRequest, apperr.KindUpstreamRejected},
		{http.StatusUnauthorized, apperr.KindUpstreamRejected},
		{http.StatusInternalServerError, apperr.KindUpstreamUnavailable},
		{http.StatusServiceUnavailable, apperr.KindUpstreamUnavailable},
	}

	for _, tt := range tests {
		g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}, Config{})

		_, err := g.Upload(context.Background(), []byte("x"))
		if got := apperr.KindOf(err); got != tt.want {
			t.Errorf("status %d: got %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestUpload_MissingStudyID(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ID":"inst-1"}`))
	}, Config{})

	_, err := g.Upload(context.Background(), []byte("x"))
	if !apperr.Is(err, apperr.KindUpstreamRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
}

func TestUpload_Timeout(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, Config{Timeout: 50 * time.Millisecond})

	_, err := g.Upload(context.Background(), []byte("x"))
	if !apperr.Is(err, apperr.KindUpstreamTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

// stalledBody sends the headers and half a document, then stops.
func stalledBody(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"ID":"inst-1","ParentStu`))
	w.(http.Flusher).Flush()
	select {
	case <-r.Context().Done():
	case <-time.After(2 * time.Second):
	}
}

func TestUpload_BodyTimeout(t *testing.T) {
	g := newTestGateway(t, stalledBody, Config{Timeout: 100 * time.Millisecond})

	_, err := g.Upload(context.Background(), []byte("x"))
	if !apperr.Is(err, apperr.KindUpstreamTimeout) {
		t.Fatalf("expected timeout, got %s: %v", apperr.KindOf(err), err)
	}
	if !apperr.Retryable(err) {
		t.Error("a body timeout should be retryable")
	}
}

func TestFetchMetadata_BodyTimeout(t *testing.T) {
	g := newTestGateway(t, stalledBody, Config{Timeout: 100 * time.Millisecond})

	_, err := g.FetchMetadata(context.Background(), "study-1")
	if !apperr.Is(err, apperr.KindUpstreamTimeout) {
		t.Fatalf("expected timeout, got %s: %v", apperr.KindOf(err), err)
	}
}

func TestUpload_MalformedAcknowledgment(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}, Config{})

	_, err := g.Upload(context.Background(), []byte("x"))
	if !apperr.Is(err, apperr.KindUpstreamRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
}

func TestUpload_CallerCanceled(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Upload(ctx, []byte("x"))
	if !apperr.Is(err, apperr.KindCanceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestUpload_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	g, err := NewOrthancGateway(Config{BaseURL: base, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}

	_, err = g.Upload(context.Background(), []byte("x"))
	if !apperr.Is(err, apperr.KindUpstreamUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		existed bool
		kind    apperr.Kind
	}{
		{"deleted", http.StatusOK, true, ""},
		{"already gone", http.StatusNotFound, false, ""},
		{"server error", http.StatusInternalServerError, false, apperr.KindUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete || r.URL.Path != "/studies/study-1" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}, Config{})

			existed, err := g.Delete(context.Background(), "study-1")
			if apperr.KindOf(err) != tt.kind {
				t.Fatalf("error kind = %s, want %s (%v)", apperr.KindOf(err), tt.kind, err)
			}
			if existed != tt.existed {
				t.Errorf("existed = %v, want %v", existed, tt.existed)
			}
		})
	}
}

func TestDeleteInstance(t *testing.T) {
	var paths []string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/instances/gone" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("{}"))
	}, Config{})

	existed, err := g.DeleteInstance(context.Background(), "inst-1")
	if err != nil || !existed {
		t.Errorf("DeleteInstance = %v, %v", existed, err)
	}
	existed, err = g.DeleteInstance(context.Background(), "gone")
	if err != nil || existed {
		t.Errorf("missing instance: %v, %v", existed, err)
	}
	if _, err := g.DeleteInstance(context.Background(), ""); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for empty id, got %v", err)
	}
	if len(paths) != 2 || paths[0] != "DELETE /instances/inst-1" {
		t.Errorf("unexpected requests %v", paths)
	}
}

func TestFetchMetadata(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/studies/study-1" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{
			"ID": "study-1",
			"IsStable": true,
			"LastUpdate": "20240131T101500",
			"MainDicomTags": {"StudyInstanceUID": "1.2.3", "StudyDescription": "CT CHEST"},
			"PatientMainDicomTags": {"PatientName": "Doe^Jane", "PatientID": "MRN-42"},
			"Series": ["series-1", "series-2"],
			"Type": "Study"
		}`))
	}, Config{})

	study, err := g.FetchMetadata(context.Background(), "study-1")
	if err != nil {
		t.Fatalf("FetchMetadata failed: %v", err)
	}
	if study.MainTags.StudyInstanceUID != "1.2.3" || study.PatientMainTags.PatientName != "Doe^Jane" {
		t.Errorf("unexpected tags: %+v", study)
	}
	if len(study.Series) != 2 || !study.IsStable {
		t.Errorf("unexpected study: %+v", study)
	}

	_, err = g.FetchMetadata(context.Background(), "missing")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Version":"1.12.1","Name":"ORTHANC"}`))
	}, Config{})

	status, err := g.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection failed: %v", err)
	}
	if !status.IsConnected || status.Version != "1.12.1" {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestNewOrthancGateway_InvalidURL(t *testing.T) {
	if _, err := NewOrthancGateway(Config{BaseURL: "not a url"}); err == nil {
		t.Error("expected error for invalid base URL")
	}
}
