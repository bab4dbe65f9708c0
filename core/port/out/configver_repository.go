package out

import (
	"context"

	"alert_worker/core/domain"
)

// ConfigVersionRepository stores hashed runtime configuration snapshots.
type ConfigVersionRepository interface {
	// FindByHash returns the version with the given (type, hash), or nil.
	FindByHash(ctx context.Context, configType, hash string) (*domain.ConfigVersion, error)

	Insert(ctx context.Context, v *domain.ConfigVersion) (int64, error)
	Get(ctx context.Context, id int64) (*domain.ConfigVersion, error)

	// Activate makes the version the single active one for its type.
	Activate(ctx context.Context, configType string, id int64) error

	ActiveConfig(ctx context.Context, configType string) (*domain.ConfigVersion, error)
	History(ctx context.Context, configType string, limit int) ([]*domain.ConfigVersionSummary, error)
}
