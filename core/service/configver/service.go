// Package configver versions runtime configuration (parser registry,
// redaction patterns, notification channels) with content-hash dedupe
// and single-active-version semantics.
package configver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/logger"

	"gopkg.in/yaml.v3"
)

const defaultHistoryLimit = 20

// Service manages configuration snapshots.
type Service struct {
	repo out.ConfigVersionRepository
	log  *logger.Logger
}

func NewService(repo out.ConfigVersionRepository) *Service {
	return &Service{
		repo: repo,
		log:  logger.Default().WithField("component", "configver"),
	}
}

// Hash computes the content hash of a configuration: SHA-256 over its
// canonical YAML rendering. Map keys serialize sorted, so equal configs
// hash equal regardless of input ordering.
func Hash(data map[string]any) (string, error) {
	raw, err := yaml.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize config: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Save stores a configuration snapshot, deduplicating by content hash.
// When an identical version already exists it is reused (and optionally
// activated) instead of inserting a duplicate. Returns the version id
// and whether a new row was created.
func (s *Service) Save(ctx context.Context, configType string, data map[string]any, createdBy, notes string, activate bool) (int64, bool, error) {
	hash, err := Hash(data)
	if err != nil {
		return 0, false, err
	}

	existing, err := s.repo.FindByHash(ctx, configType, hash)
	if err != nil {
		return 0, false, fmt.Errorf("lookup config version: %w", err)
	}

	if existing != nil {
		if activate && !existing.IsActive {
			if err := s.repo.Activate(ctx, configType, existing.ID); err != nil {
				return existing.ID, false, fmt.Errorf("activate config version: %w", err)
			}
		}
		s.log.WithFields(map[string]interface{}{
			"config_type": configType,
			"version_id":  existing.ID,
		}).Debug("Config unchanged, reusing existing version")
		return existing.ID, false, nil
	}

	id, err := s.repo.Insert(ctx, &domain.ConfigVersion{
		ConfigType: configType,
		ConfigHash: hash,
		ConfigData: data,
		CreatedBy:  createdBy,
		Notes:      notes,
	})
	if err != nil {
		return 0, false, fmt.Errorf("insert config version: %w", err)
	}

	if activate {
		if err := s.repo.Activate(ctx, configType, id); err != nil {
			return id, true, fmt.Errorf("activate config version: %w", err)
		}
	}

	s.log.WithFields(map[string]interface{}{
		"config_type": configType,
		"version_id":  id,
		"hash":        hash[:12],
	}).Info("Config version saved")
	return id, true, nil
}

// Rollback re-activates a previous version of the config type.
func (s *Service) Rollback(ctx context.Context, id int64) (*domain.ConfigVersion, error) {
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load config version: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("config version %d not found", id)
	}

	if err := s.repo.Activate(ctx, v.ConfigType, v.ID); err != nil {
		return nil, fmt.Errorf("activate config version: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"config_type": v.ConfigType,
		"version_id":  v.ID,
	}).Info("Config rolled back")
	return v, nil
}

// Active returns the active version of a config type, or nil.
func (s *Service) Active(ctx context.Context, configType string) (*domain.ConfigVersion, error) {
	return s.repo.ActiveConfig(ctx, configType)
}

// History lists recent versions, newest first.
func (s *Service) History(ctx context.Context, configType string, limit int) ([]*domain.ConfigVersionSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultHistoryLimit
	}
	return s.repo.History(ctx, configType, limit)
}
