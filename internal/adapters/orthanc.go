package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/otcheredev/ris-study-ingest/internal/apperr"
	"github.com/otcheredev/ris-study-ingest/internal/metrics"
	"github.com/otcheredev/ris-study-ingest/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeDICOM = "application/dicom"
	maxErrorBody     = 1024
	defaultTimeout   = 30 * time.Second
)

// OrthancGateway implements PACSGateway against the Orthanc REST API
type OrthancGateway struct {
	client   *http.Client
	baseURL  string
	username string
	password string
	token    string
	timeout  time.Duration
}

// NewOrthancGateway creates a new Orthanc gateway
func NewOrthancGateway(cfg Config) (*OrthancGateway, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid PACS base URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &OrthancGateway{
		// Per-call deadlines come from the request context.
		client:   &http.Client{},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		token:    cfg.Token,
		timeout:  timeout,
	}, nil
}

// Upload posts a Part 10 file to /instances
func (g *OrthancGateway) Upload(ctx context.Context, data []byte) (receipt *models.UploadReceipt, err error) {
	const op = "pacs.Upload"
	started := time.Now()
	defer func() { metrics.ObservePACS("upload", string(apperr.KindOf(err)), started) }()

	resp, err := g.do(ctx, op, http.MethodPost, "/instances", bytes.NewReader(data), contentTypeDICOM)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(op, resp)
	}

	var r models.UploadReceipt
	if err := g.decode(ctx, op, resp, &r); err != nil {
		return nil, err
	}
	if r.StorageID() == "" {
		return nil, apperr.New(apperr.KindUpstreamRejected, op, "acknowledgment carries no study id")
	}

	log.Debug().
		Str("storage_id", r.StorageID()).
		Str("instance_id", r.InstanceID).
		Str("status", r.Status).
		Msg("Instance stored in PACS")

	return &r, nil
}

// Delete removes a study. 404 means it is already gone.
func (g *OrthancGateway) Delete(ctx context.Context, storageID string) (existed bool, err error) {
	const op = "pacs.Delete"
	started := time.Now()
	defer func() { metrics.ObservePACS("delete", string(apperr.KindOf(err)), started) }()

	if storageID == "" {
		return false, apperr.New(apperr.KindValidation, op, "storage id is empty")
	}
	return g.remove(ctx, op, "/studies/"+url.PathEscape(storageID))
}

// DeleteInstance removes one instance. Orthanc drops the parent series and
// study once their last instance is gone.
func (g *OrthancGateway) DeleteInstance(ctx context.Context, instanceID string) (existed bool, err error) {
	const op = "pacs.DeleteInstance"
	started := time.Now()
	defer func() { metrics.ObservePACS("delete_instance", string(apperr.KindOf(err)), started) }()

	if instanceID == "" {
		return false, apperr.New(apperr.KindValidation, op, "instance id is empty")
	}
	return g.remove(ctx, op, "/instances/"+url.PathEscape(instanceID))
}

func (g *OrthancGateway) remove(ctx context.Context, op, path string) (bool, error) {
	resp, err := g.do(ctx, op, http.MethodDelete, path, nil, "")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		log.Debug().Str("path", path).Msg("Resource already absent from PACS")
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, statusError(op, resp)
	}
}

// FetchMetadata reads /studies/{id}
func (g *OrthancGateway) FetchMetadata(ctx context.Context, storageID string) (study *models.RemoteStudy, err error) {
	const op = "pacs.FetchMetadata"
	started := time.Now()
	defer func() { metrics.ObservePACS("fetch_metadata", string(apperr.KindOf(err)), started) }()

	if storageID == "" {
		return nil, apperr.New(apperr.KindValidation, op, "storage id is empty")
	}

	resp, err := g.do(ctx, op, http.MethodGet, "/studies/"+url.PathEscape(storageID), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.Newf(apperr.KindNotFound, op, "study %s not found in PACS", storageID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(op, resp)
	}

	var s models.RemoteStudy
	if err := g.decode(ctx, op, resp, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// TestConnection queries /system
func (g *OrthancGateway) TestConnection(ctx context.Context) (*models.ConnectionStatus, error) {
	const op = "pacs.TestConnection"
	start := time.Now()
	status := &models.ConnectionStatus{
		LastChecked: start,
	}

	resp, err := g.do(ctx, op, http.MethodGet, "/system", nil, "")
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err = statusError(op, resp)
		}
	}

	status.ResponseTime = time.Since(start).Milliseconds()

	if err != nil {
		status.IsConnected = false
		status.ErrorMessage = err.Error()
		return status, err
	}

	var system struct {
		Version string `json:"Version"`
	}
	if decErr := json.NewDecoder(resp.Body).Decode(&system); decErr == nil {
		status.Version = system.Version
	}

	status.IsConnected = true
	return status, nil
}

// Close closes the gateway
func (g *OrthancGateway) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

// do sends one request bounded by the gateway timeout. Transport failures are
// classified here; status codes are left to the caller.
func (g *OrthancGateway) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext(op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)

	req, err := http.NewRequestWithContext(callCtx, method, g.baseURL+path, body)
	if err != nil {
		cancel()
		return nil, apperr.Wrap(apperr.KindInternal, op, err, "failed to create request")
	}

	g.addAuth(req)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		cancel()
		switch {
		case ctx.Err() != nil:
			return nil, apperr.FromContext(op, ctx.Err())
		case errors.Is(callCtx.Err(), context.DeadlineExceeded) || isTimeout(err):
			return nil, apperr.Wrap(apperr.KindUpstreamTimeout, op, err,
				fmt.Sprintf("no response within %s", g.timeout))
		default:
			return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, op, err, "request failed")
		}
	}

	resp.Body = &cancelBody{ReadCloser: resp.Body, ctx: callCtx, cancel: cancel}
	return resp, nil
}

// decode reads a JSON body. The per-call deadline still applies while the body
// streams, so read failures are classified like transport failures and only a
// malformed document is a rejection.
func (g *OrthancGateway) decode(ctx context.Context, op string, resp *http.Response, v any) error {
	err := json.NewDecoder(resp.Body).Decode(v)
	if err == nil {
		return nil
	}

	var callErr error
	if b, ok := resp.Body.(*cancelBody); ok {
		callErr = b.ctx.Err()
	}

	switch {
	case ctx.Err() != nil:
		return apperr.FromContext(op, ctx.Err())
	case errors.Is(callErr, context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return apperr.Wrap(apperr.KindUpstreamTimeout, op, err,
			fmt.Sprintf("response body not received within %s", g.timeout))
	default:
		return apperr.Wrap(apperr.KindUpstreamRejected, op, err, "failed to decode PACS response")
	}
}

// addAuth adds authentication to the request
func (g *OrthancGateway) addAuth(req *http.Request) {
	if g.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", g.token))
	} else if g.username != "" && g.password != "" {
		req.SetBasicAuth(g.username, g.password)
	}
}

// statusError classifies a non-success response: 5xx is transient, anything
// else is a rejection.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("PACS returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 500 {
		return apperr.New(apperr.KindUpstreamUnavailable, op, msg)
	}
	return apperr.New(apperr.KindUpstreamRejected, op, msg)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// cancelBody releases the per-call context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
