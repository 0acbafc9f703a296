package storage

import (
	"context"
	"time"

	"github.com/rayguard/sentinel-backbone/internal/models"
)

// Storage persists recorded events and ledger mappings. The live stream
// never reads from here; this is the backfill and history path only.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Event operations
	SaveEvent(ctx context.Context, event *models.ThreatEvent) error
	GetEvent(ctx context.Context, id string) (*models.ThreatEvent, error)
	GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.ThreatEvent, error)
	GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error)
	UpdateEventProof(ctx context.Context, ledgerAddress string, sequence uint64, proof string) error

	// Ledger operations
	SaveLedger(ctx context.Context, ledger *models.Ledger) error
	GetLedgers(ctx context.Context) ([]*models.Ledger, error)

	// Statistics and maintenance
	GetStorageStats(ctx context.Context) (*StorageStats, error)
	GetThreatStats(ctx context.Context) (*ThreatStats, error)
	Cleanup(ctx context.Context, retentionDays int) error
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	RetentionDays    int           `json:"retention_days"`
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalEvents  int64      `json:"total_events"`
	TotalLedgers int64      `json:"total_ledgers"`
	OldestEvent  *time.Time `json:"oldest_event,omitempty"`
	LatestEvent  *time.Time `json:"latest_event,omitempty"`
}

// ThreatStats aggregates recorded events for the dashboard
type ThreatStats struct {
	ByThreatType map[string]int64 `json:"by_threat_type"`
	ByOrigin     map[string]int64 `json:"by_origin"`
	Pending      int64            `json:"pending"`
	Verified     int64            `json:"verified"`
}
