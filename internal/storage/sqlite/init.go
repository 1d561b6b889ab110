package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the schema if it doesn't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS videos (
			id INTEGER PRIMARY KEY,
			owner_id INTEGER NOT NULL,
			name TEXT,
			rel_path TEXT,
			remote_path TEXT,
			duration_secs INTEGER DEFAULT 0,
			size_bytes INTEGER DEFAULT 0,
			origin TEXT DEFAULT 'youtube',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS destinations (
			id INTEGER PRIMARY KEY,
			owner_id INTEGER NOT NULL,
			login TEXT,
			folder TEXT,
			host_addr TEXT,
			total_mb INTEGER DEFAULT 1000,
			used_mb INTEGER DEFAULT 0,
			auth_live INTEGER DEFAULT 0,
			stream_password TEXT,
			application TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS relay_config (
			id INTEGER PRIMARY KEY,
			owner_id INTEGER NOT NULL,
			source_url TEXT NOT NULL,
			relay_type TEXT DEFAULT 'rtmp',
			status TEXT DEFAULT 'inactive',
			frequency INTEGER DEFAULT 0,
			on_date TEXT,
			hour INTEGER DEFAULT 0,
			minute INTEGER DEFAULT 0,
			days TEXT,
			duration_cap TEXT,
			session_name TEXT,
			error_details TEXT,
			started_at DATETIME,
			ended_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, err
		}
	}

	return db, nil
}
