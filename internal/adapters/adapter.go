package adapters

import (
	"context"
	"time"

	"github.com/otcheredev/ris-study-ingest/internal/models"
)

// PACSGateway defines the interface to the remote image store
type PACSGateway interface {
	// Upload stores one Part 10 file. The receipt's StorageID correlates the
	// local study with the remote object.
	Upload(ctx context.Context, data []byte) (*models.UploadReceipt, error)

	// Delete removes a stored study. An already missing study counts as
	// deleted; the bool reports whether the remote store still had it.
	Delete(ctx context.Context, storageID string) (bool, error)

	// DeleteInstance removes one stored instance, with the same missing
	// semantics as Delete.
	DeleteInstance(ctx context.Context, instanceID string) (bool, error)

	// FetchMetadata returns the remote store's view of a study.
	FetchMetadata(ctx context.Context, storageID string) (*models.RemoteStudy, error)

	// Connection management
	TestConnection(ctx context.Context) (*models.ConnectionStatus, error)
	Close() error
}

// Config holds the connection settings of a gateway
type Config struct {
	BaseURL  string
	Username string
	Password string
	Token    string
	Timeout  time.Duration
}
