package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					ledger_address TEXT NOT NULL,
					sequence INTEGER,
					origin_ip TEXT NOT NULL,
					threat_type TEXT NOT NULL,
					action_taken TEXT NOT NULL,
					timestamp DATETIME NOT NULL,
					tx_ref TEXT,
					chain_status TEXT NOT NULL DEFAULT 'pending',
					proof TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_events_origin ON events(origin_ip);
				CREATE INDEX IF NOT EXISTS idx_events_threat_type ON events(threat_type);
				CREATE INDEX IF NOT EXISTS idx_events_ledger ON events(ledger_address);
				CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_events_slot ON events(ledger_address, sequence);
			`,
		},
		{
			Version:     "002",
			Description: "Create ledgers table",
			SQL: `
				CREATE TABLE IF NOT EXISTS ledgers (
					address TEXT PRIMARY KEY,
					origin TEXT NOT NULL UNIQUE,
					seed INTEGER NOT NULL,
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_ledgers_origin ON ledgers(origin);
			`,
		},
	}
}

// GetPostgreSQLMigrations returns PostgreSQL migration scripts
func GetPostgreSQLMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					ledger_address TEXT NOT NULL,
					sequence BIGINT,
					origin_ip TEXT NOT NULL,
					threat_type TEXT NOT NULL,
					action_taken TEXT NOT NULL,
					timestamp TIMESTAMPTZ NOT NULL,
					tx_ref TEXT,
					chain_status TEXT NOT NULL DEFAULT 'pending',
					proof TEXT,
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_events_origin ON events(origin_ip);
				CREATE INDEX IF NOT EXISTS idx_events_threat_type ON events(threat_type);
				CREATE INDEX IF NOT EXISTS idx_events_ledger ON events(ledger_address);
				CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_events_slot ON events(ledger_address, sequence);
			`,
		},
		{
			Version:     "002",
			Description: "Create ledgers table",
			SQL: `
				CREATE TABLE IF NOT EXISTS ledgers (
					address TEXT PRIMARY KEY,
					origin TEXT NOT NULL UNIQUE,
					seed INTEGER NOT NULL,
					created_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_ledgers_origin ON ledgers(origin);
			`,
		},
	}
}
