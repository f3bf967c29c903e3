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
			Description: "Create drawings table",
			SQL: `
				CREATE TABLE IF NOT EXISTS lotto_draws (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					draw_name TEXT NOT NULL,
					token_address TEXT NOT NULL,
					token_symbol TEXT NOT NULL DEFAULT '',
					min_usd_amount TEXT NOT NULL DEFAULT '0',
					start_time DATETIME NOT NULL,
					end_time DATETIME,
					total_slots INTEGER NOT NULL DEFAULT 69 CHECK (total_slots > 0),
					filled_slots INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'active'
						CHECK (status IN ('active', 'completed', 'cancelled')),
					scan_lock_owner TEXT,
					scan_lock_expires INTEGER,
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_lotto_draws_status ON lotto_draws(status);
				CREATE INDEX IF NOT EXISTS idx_lotto_draws_token ON lotto_draws(token_address);
			`,
		},
		{
			Version:     "002",
			Description: "Create entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS lotto_entries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					draw_id INTEGER NOT NULL REFERENCES lotto_draws(id) ON DELETE CASCADE,
					lotto_number INTEGER NOT NULL,
					wallet_address TEXT NOT NULL,
					transaction_signature TEXT,
					token_amount TEXT NOT NULL DEFAULT '0',
					usd_amount TEXT NOT NULL DEFAULT '0',
					event_time DATETIME NOT NULL,
					verified BOOLEAN NOT NULL DEFAULT TRUE,
					notes TEXT,
					created_at DATETIME NOT NULL,
					UNIQUE (draw_id, lotto_number)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_lotto_entries_signature
					ON lotto_entries(draw_id, transaction_signature)
					WHERE transaction_signature IS NOT NULL;
				CREATE INDEX IF NOT EXISTS idx_lotto_entries_wallet ON lotto_entries(wallet_address);
			`,
		},
		{
			Version:     "003",
			Description: "Create scan history table",
			SQL: `
				CREATE TABLE IF NOT EXISTS scan_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					draw_id INTEGER NOT NULL REFERENCES lotto_draws(id) ON DELETE CASCADE,
					last_signature TEXT,
					transactions_found INTEGER NOT NULL DEFAULT 0,
					entries_added INTEGER NOT NULL DEFAULT 0,
					entries_filtered INTEGER NOT NULL DEFAULT 0,
					below_minimum INTEGER NOT NULL DEFAULT 0,
					completed BOOLEAN NOT NULL DEFAULT TRUE,
					scanned_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_scan_history_draw ON scan_history(draw_id, scanned_at);
			`,
		},
		{
			Version:     "004",
			Description: "Create blacklist and managed tokens tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS wallet_blacklist (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					token_address TEXT NOT NULL,
					wallet_address TEXT NOT NULL,
					reason TEXT NOT NULL DEFAULT 'manual',
					notes TEXT,
					created_at DATETIME NOT NULL,
					UNIQUE (token_address, wallet_address)
				);

				CREATE TABLE IF NOT EXISTS managed_tokens (
					token_address TEXT PRIMARY KEY,
					token_symbol TEXT NOT NULL,
					token_name TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);
			`,
		},
		{
			Version:     "005",
			Description: "Track completion time and scan rejections",
			SQL: `
				ALTER TABLE lotto_draws ADD COLUMN completed_at DATETIME;

				CREATE TABLE IF NOT EXISTS scan_rejections (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					draw_id INTEGER NOT NULL REFERENCES lotto_draws(id) ON DELETE CASCADE,
					transaction_signature TEXT NOT NULL,
					wallet_address TEXT NOT NULL DEFAULT '',
					reason TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					UNIQUE (draw_id, transaction_signature)
				);
			`,
		},
	}
}
