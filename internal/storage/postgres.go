package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/rayguard/sentinel-backbone/internal/models"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// PostgreSQLStorage implements Storage using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgreSQLMigrations(),
	}
}

// Connect establishes the database connection
func (s *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to reach PostgreSQL database", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL database connected")
	return nil
}

// Close closes the database connection
func (s *PostgreSQLStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgreSQLStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgreSQLStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version), err.Error())
		}
	}
	return nil
}

// SaveEvent saves a recorded event
func (s *PostgreSQLStorage) SaveEvent(ctx context.Context, event *models.ThreatEvent) error {
	query := `
		INSERT INTO events
		(id, ledger_address, sequence, origin_ip, threat_type, action_taken, timestamp, tx_ref, chain_status, proof)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			sequence = EXCLUDED.sequence,
			tx_ref = EXCLUDED.tx_ref,
			chain_status = EXCLUDED.chain_status,
			proof = EXCLUDED.proof`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.LedgerAddress, nullSequence(event), event.OriginIP,
		string(event.ThreatType), string(event.ActionTaken), event.Timestamp,
		nullString(event.TxRef), string(event.ChainStatus), nullString(event.Proof))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save event", err.Error())
	}
	return nil
}

// GetEvent retrieves one event by ID
func (s *PostgreSQLStorage) GetEvent(ctx context.Context, id string) (*models.ThreatEvent, error) {
	query := `
		SELECT id, ledger_address, sequence, origin_ip, threat_type, action_taken, timestamp, tx_ref, chain_status, proof
		FROM events WHERE id = $1`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Event not found", id)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event", err.Error())
	}
	return event, nil
}

// GetEvents retrieves events matching the filter, newest first
func (s *PostgreSQLStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.ThreatEvent, error) {
	query := `
		SELECT id, ledger_address, sequence, origin_ip, threat_type, action_taken, timestamp, tx_ref, chain_status, proof
		FROM events`

	where, args := buildEventFilter(filter, "$")
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query events", err.Error())
	}
	defer rows.Close()

	var events []*models.ThreatEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan event", err.Error())
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetEventCount counts events matching the filter
func (s *PostgreSQLStorage) GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM events"
	where, args := buildEventFilter(filter, "$")
	if where != "" {
		query += " WHERE " + where
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}
	return count, nil
}

// UpdateEventProof writes the proof onto the event at the given slot
func (s *PostgreSQLStorage) UpdateEventProof(ctx context.Context, ledgerAddress string, sequence uint64, proof string) error {
	query := `
		UPDATE events SET proof = $1, chain_status = $2
		WHERE ledger_address = $3 AND sequence = $4 AND (proof IS NULL OR proof = '' OR proof = $1)`

	_, err := s.db.ExecContext(ctx, query, proof, string(models.ChainVerified), ledgerAddress, sequence)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update event proof", err.Error())
	}
	return nil
}

// SaveLedger persists an origin-to-ledger mapping
func (s *PostgreSQLStorage) SaveLedger(ctx context.Context, ledger *models.Ledger) error {
	query := `
		INSERT INTO ledgers (address, origin, seed, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query, ledger.Address, ledger.Origin, int(ledger.Seed), ledger.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save ledger", err.Error())
	}
	return nil
}

// GetLedgers returns all persisted ledger mappings
func (s *PostgreSQLStorage) GetLedgers(ctx context.Context) ([]*models.Ledger, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT address, origin, seed, created_at FROM ledgers")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query ledgers", err.Error())
	}
	defer rows.Close()

	var ledgers []*models.Ledger
	for rows.Next() {
		ledger := &models.Ledger{}
		if err := rows.Scan(&ledger.Address, &ledger.Origin, &ledger.Seed, &ledger.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan ledger", err.Error())
		}
		ledgers = append(ledgers, ledger)
	}
	return ledgers, rows.Err()
}

// GetStorageStats returns storage statistics
func (s *PostgreSQLStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&stats.TotalEvents); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledgers").Scan(&stats.TotalLedgers); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count ledgers", err.Error())
	}

	var oldest, latest sql.NullTime
	err := s.db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM events").Scan(&oldest, &latest)
	if err == nil {
		if oldest.Valid {
			stats.OldestEvent = &oldest.Time
		}
		if latest.Valid {
			stats.LatestEvent = &latest.Time
		}
	}
	return stats, nil
}

// GetThreatStats aggregates events for the dashboard
func (s *PostgreSQLStorage) GetThreatStats(ctx context.Context) (*ThreatStats, error) {
	stats := &ThreatStats{
		ByThreatType: make(map[string]int64),
		ByOrigin:     make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT threat_type, COUNT(*) FROM events GROUP BY threat_type")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to aggregate threat types", err.Error())
	}
	defer rows.Close()
	for rows.Next() {
		var threat string
		var count int64
		if err := rows.Scan(&threat, &count); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan aggregate", err.Error())
		}
		stats.ByThreatType[threat] = count
	}

	originRows, err := s.db.QueryContext(ctx, "SELECT origin_ip, COUNT(*) FROM events GROUP BY origin_ip")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to aggregate origins", err.Error())
	}
	defer originRows.Close()
	for originRows.Next() {
		var origin string
		var count int64
		if err := originRows.Scan(&origin, &count); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan aggregate", err.Error())
		}
		stats.ByOrigin[origin] = count
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FILTER (WHERE chain_status = 'pending'), COUNT(*) FILTER (WHERE chain_status = 'verified') FROM events")
	if err := row.Scan(&stats.Pending, &stats.Verified); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count statuses", err.Error())
	}
	return stats, nil
}

// Cleanup deletes events older than the retention window
func (s *PostgreSQLStorage) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < $1", cutoff)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to cleanup events", err.Error())
	}
	if deleted, err := result.RowsAffected(); err == nil && deleted > 0 {
		s.logger.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff,
		}).Info("Old events cleaned up")
	}
	return nil
}
