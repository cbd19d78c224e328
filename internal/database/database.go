package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection backed by sqlite.
// The DSN is a file path; ":memory:" is accepted for tests.
func New(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite is single-writer; keep the pool small and long-lived
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return &DB{db}, nil
}

// Initialize creates all required tables and runs additive migrations.
func Initialize(db *DB) error {
	return db.Initialize()
}

// Initialize creates all required tables
func (db *DB) Initialize() error {
	log.Println("🔍 Checking database schema...")

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := db.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("✅ Database initialized successfully")
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	uid                   TEXT PRIMARY KEY,
	type                  TEXT NOT NULL CHECK (type IN ('agent','tool','mcp_server')),
	entity_id             TEXT NOT NULL,
	name                  TEXT NOT NULL,
	version               TEXT NOT NULL,
	summary               TEXT NOT NULL DEFAULT '',
	description           TEXT NOT NULL DEFAULT '',
	license               TEXT NOT NULL DEFAULT '',
	homepage              TEXT NOT NULL DEFAULT '',
	source_url            TEXT NOT NULL DEFAULT '',
	capabilities          TEXT NOT NULL DEFAULT '[]',
	frameworks            TEXT NOT NULL DEFAULT '[]',
	providers             TEXT NOT NULL DEFAULT '[]',
	quality_score         REAL NOT NULL DEFAULT 0,
	release_ts            TIMESTAMP,
	remote_url            TEXT NOT NULL DEFAULT '',
	remote_etag           TEXT NOT NULL DEFAULT '',
	last_sync_at          TIMESTAMP,
	mcp_registration      TEXT NOT NULL DEFAULT '',
	gateway_registered_at TIMESTAMP,
	gateway_error         TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (type, entity_id, version)
);

CREATE INDEX IF NOT EXISTS idx_entities_type_name ON entities (type, name);
CREATE INDEX IF NOT EXISTS idx_entities_created_at ON entities (created_at);
CREATE INDEX IF NOT EXISTS idx_entities_pending_gateway
	ON entities (type) WHERE gateway_registered_at IS NULL;

CREATE TABLE IF NOT EXISTS artifacts (
	entity_uid   TEXT NOT NULL REFERENCES entities(uid) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	kind         TEXT NOT NULL CHECK (kind IN ('pypi','oci','git','zip')),
	spec         TEXT NOT NULL DEFAULT '{}',
	hash         TEXT NOT NULL DEFAULT '',
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	install_hint TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (entity_uid, position)
);

CREATE TABLE IF NOT EXISTS embedding_chunks (
	entity_uid TEXT NOT NULL REFERENCES entities(uid) ON DELETE CASCADE,
	chunk_id   TEXT NOT NULL,
	section    TEXT NOT NULL DEFAULT 'body',
	position   INTEGER NOT NULL DEFAULT 0,
	weight     REAL NOT NULL DEFAULT 1.0,
	text       TEXT NOT NULL DEFAULT '',
	source_uri TEXT NOT NULL DEFAULT '',
	checksum   TEXT NOT NULL,
	vector     BLOB,
	model_id   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (entity_uid, chunk_id)
);

CREATE INDEX IF NOT EXISTS idx_chunks_pending ON embedding_chunks (entity_uid) WHERE vector IS NULL;

CREATE TABLE IF NOT EXISTS remotes (
	url           TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	etag          TEXT NOT NULL DEFAULT '',
	last_modified TEXT NOT NULL DEFAULT '',
	last_sync_at  TIMESTAMP,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// runMigrations runs database migrations for schema updates.
// sqlite has no INFORMATION_SCHEMA; column presence is probed via pragma.
func (db *DB) runMigrations() error {
	columnExists := func(tableName, columnName string) (bool, error) {
		rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, tableName))
		if err != nil {
			return false, err
		}
		defer rows.Close()
		for rows.Next() {
			var cid int
			var name, ctype string
			var notnull, pk int
			var dflt sql.NullString
			if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
				return false, err
			}
			if name == columnName {
				return true, nil
			}
		}
		return false, rows.Err()
	}

	// Migration: add manifest_checksum to entities (skip-unchanged upserts)
	if exists, _ := columnExists("entities", "manifest_checksum"); !exists {
		log.Println("📦 Running migration: Adding manifest_checksum to entities table")
		if _, err := db.Exec(`ALTER TABLE entities ADD COLUMN manifest_checksum TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add manifest_checksum to entities: %w", err)
		}
		log.Println("✅ Migration completed: entities.manifest_checksum added")
	}

	return nil
}
