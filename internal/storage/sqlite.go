package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/rayguard/sentinel-backbone/internal/models"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes the database connection
func (s *SQLiteStorage) Connect() error {
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// WAL lets the history reads run alongside recorder writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
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
func (s *SQLiteStorage) SaveEvent(ctx context.Context, event *models.ThreatEvent) error {
	query := `
		INSERT INTO events
		(id, ledger_address, sequence, origin_ip, threat_type, action_taken, timestamp, tx_ref, chain_status, proof)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sequence = excluded.sequence,
			tx_ref = excluded.tx_ref,
			chain_status = excluded.chain_status,
			proof = excluded.proof`

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
func (s *SQLiteStorage) GetEvent(ctx context.Context, id string) (*models.ThreatEvent, error) {
	query := `
		SELECT id, ledger_address, sequence, origin_ip, threat_type, action_taken, timestamp, tx_ref, chain_status, proof
		FROM events WHERE id = ?`

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
func (s *SQLiteStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.ThreatEvent, error) {
	query := `
		SELECT id, ledger_address, sequence, origin_ip, threat_type, action_taken, timestamp, tx_ref, chain_status, proof
		FROM events`

	where, args := buildEventFilter(filter, "?")
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
func (s *SQLiteStorage) GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM events"
	where, args := buildEventFilter(filter, "?")
	if where != "" {
		query += " WHERE " + where
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}
	return count, nil
}

// UpdateEventProof writes the proof onto the event at the given slot and
// marks it verified. The proof column is only ever written once; a second
// write with the same proof is a no-op.
func (s *SQLiteStorage) UpdateEventProof(ctx context.Context, ledgerAddress string, sequence uint64, proof string) error {
	query := `
		UPDATE events SET proof = ?, chain_status = ?
		WHERE ledger_address = ? AND sequence = ? AND (proof IS NULL OR proof = '' OR proof = ?)`

	_, err := s.db.ExecContext(ctx, query, proof, string(models.ChainVerified), ledgerAddress, sequence, proof)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update event proof", err.Error())
	}
	return nil
}

// SaveLedger persists an origin-to-ledger mapping
func (s *SQLiteStorage) SaveLedger(ctx context.Context, ledger *models.Ledger) error {
	query := `
		INSERT OR REPLACE INTO ledgers (address, origin, seed, created_at)
		VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, ledger.Address, ledger.Origin, ledger.Seed, ledger.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save ledger", err.Error())
	}
	return nil
}

// GetLedgers returns all persisted ledger mappings
func (s *SQLiteStorage) GetLedgers(ctx context.Context) ([]*models.Ledger, error) {
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
func (s *SQLiteStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
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
func (s *SQLiteStorage) GetThreatStats(ctx context.Context) (*ThreatStats, error) {
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
		"SELECT COUNT(CASE WHEN chain_status = 'pending' THEN 1 END), COUNT(CASE WHEN chain_status = 'verified' THEN 1 END) FROM events")
	if err := row.Scan(&stats.Pending, &stats.Verified); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count statuses", err.Error())
	}
	return stats, nil
}

// Cleanup deletes events older than the retention window
func (s *SQLiteStorage) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", cutoff)
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

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.ThreatEvent, error) {
	event := &models.ThreatEvent{}
	var threat, action, status string
	var sequence sql.NullInt64
	var txRef, proof sql.NullString

	err := row.Scan(&event.ID, &event.LedgerAddress, &sequence, &event.OriginIP,
		&threat, &action, &event.Timestamp, &txRef, &status, &proof)
	if err != nil {
		return nil, err
	}

	if sequence.Valid {
		event.Sequence = uint64(sequence.Int64)
	}
	event.ThreatType = models.ThreatType(threat)
	event.ActionTaken = models.Action(action)
	event.ChainStatus = models.ChainStatus(status)
	event.TxRef = txRef.String
	event.Proof = proof.String
	return event, nil
}

// nullSequence stores the slot only once the append confirmed it. A pending
// event has no committed slot yet; keeping it NULL leaves the slot free for
// the writer that actually lands there.
func nullSequence(event *models.ThreatEvent) interface{} {
	if event.ChainStatus == models.ChainPending {
		return nil
	}
	return event.Sequence
}

// buildEventFilter renders the WHERE clause for an event filter. The
// placeholder is "?" for SQLite and numbered for PostgreSQL.
func buildEventFilter(filter models.EventFilter, placeholder string) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	next := func() string {
		if placeholder == "?" {
			return "?"
		}
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Origin != nil {
		args = append(args, *filter.Origin)
		clauses = append(clauses, "origin_ip = "+next())
	}
	if filter.ThreatType != nil {
		args = append(args, string(*filter.ThreatType))
		clauses = append(clauses, "threat_type = "+next())
	}
	if filter.LedgerAddress != nil {
		args = append(args, *filter.LedgerAddress)
		clauses = append(clauses, "ledger_address = "+next())
	}
	return strings.Join(clauses, " AND "), args
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
