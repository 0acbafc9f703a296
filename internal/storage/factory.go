package storage

import (
	"strings"

	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// NewStorage creates a storage backend from configuration
func NewStorage(cfg *StorageConfig) (Storage, error) {
	if err := ValidateStorageConfig(cfg); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		return NewSQLiteStorage(cfg), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(cfg), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Unsupported storage type", cfg.Type)
	}
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(cfg *StorageConfig) error {
	if cfg.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage type is required", "")
	}
	if cfg.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", "")
	}
	if cfg.MaxConnections <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must be positive", "")
	}

	switch strings.ToLower(cfg.Type) {
	case "sqlite", "postgres", "postgresql":
		return nil
	default:
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", "Supported types: sqlite, postgres")
	}
}
