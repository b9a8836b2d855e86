package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/otcheredev/ris-study-ingest/internal/metrics"
	"github.com/otcheredev/ris-study-ingest/internal/models"
)

// ViewerStore caches built viewer configurations as JSON
type ViewerStore struct {
	cache Cache
	ttl   time.Duration
}

// NewViewerStore wraps c. A nil cache disables caching.
func NewViewerStore(c Cache, ttl time.Duration) *ViewerStore {
	return &ViewerStore{cache: c, ttl: ttl}
}

// Get returns the cached configuration; ok is false on a miss.
func (s *ViewerStore) Get(ctx context.Context, studyUID, fingerprint string) (*models.ViewerConfiguration, bool, error) {
	if s == nil || s.cache == nil {
		return nil, false, nil
	}

	data, err := s.cache.Get(ctx, ViewerKey(studyUID, fingerprint))
	if errors.Is(err, ErrCacheMiss) {
		metrics.ViewerCacheTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.ViewerCacheTotal.WithLabelValues("error").Inc()
		return nil, false, err
	}

	var cfg models.ViewerConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		metrics.ViewerCacheTotal.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("failed to decode cached viewer configuration: %w", err)
	}
	metrics.ViewerCacheTotal.WithLabelValues("hit").Inc()
	return &cfg, true, nil
}

// Put stores cfg
func (s *ViewerStore) Put(ctx context.Context, fingerprint string, cfg *models.ViewerConfiguration) error {
	if s == nil || s.cache == nil {
		return nil
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode viewer configuration: %w", err)
	}
	return s.cache.Set(ctx, ViewerKey(cfg.StudyInstanceUID, fingerprint), data, s.ttl)
}

// Invalidate drops every cached configuration of a study
func (s *ViewerStore) Invalidate(ctx context.Context, studyUID string) error {
	if s == nil || s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx, ViewerPattern(studyUID))
}
