package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// ErrRemoteNotFound is returned when a remote URL is unknown.
var ErrRemoteNotFound = errors.New("remote not found")

// AddRemote registers a catalog index URL. Adding an existing URL
// refreshes its display name only.
func (db *DB) AddRemote(url, name string) error {
	_, err := db.Exec(`
		INSERT INTO remotes (url, name) VALUES (?, ?)
		ON CONFLICT(url) DO UPDATE SET name = excluded.name
	`, url, name)
	if err != nil {
		return fmt.Errorf("failed to add remote %s: %w", url, err)
	}
	return nil
}

// RemoveRemote deletes a remote. Entities it produced stay in the
// catalog; removal only stops future syncs.
func (db *DB) RemoveRemote(url string) error {
	res, err := db.Exec(`DELETE FROM remotes WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("failed to remove remote %s: %w", url, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRemoteNotFound
	}
	return nil
}

// ListRemotes returns all configured remotes.
func (db *DB) ListRemotes() ([]models.Remote, error) {
	rows, err := db.Query(`
		SELECT url, name, etag, last_modified, last_sync_at, created_at
		FROM remotes ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list remotes: %w", err)
	}
	defer rows.Close()

	var out []models.Remote
	for rows.Next() {
		var r models.Remote
		var lastSync sql.NullTime
		if err := rows.Scan(&r.URL, &r.Name, &r.ETag, &r.LastModified, &lastSync, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan remote: %w", err)
		}
		if lastSync.Valid {
			t := lastSync.Time
			r.LastSyncAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRemote returns one remote by URL.
func (db *DB) GetRemote(url string) (*models.Remote, error) {
	var r models.Remote
	var lastSync sql.NullTime
	err := db.QueryRow(`
		SELECT url, name, etag, last_modified, last_sync_at, created_at
		FROM remotes WHERE url = ?
	`, url).Scan(&r.URL, &r.Name, &r.ETag, &r.LastModified, &lastSync, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRemoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remote %s: %w", url, err)
	}
	if lastSync.Valid {
		t := lastSync.Time
		r.LastSyncAt = &t
	}
	return &r, nil
}

// UpdateRemoteSync stores the conditional-request cursors after a sync.
func (db *DB) UpdateRemoteSync(url, etag, lastModified string, at time.Time) error {
	_, err := db.Exec(`
		UPDATE remotes SET etag = ?, last_modified = ?, last_sync_at = ? WHERE url = ?
	`, etag, lastModified, at, url)
	if err != nil {
		return fmt.Errorf("failed to update remote sync for %s: %w", url, err)
	}
	return nil
}

// CountRemotes reports how many remotes are configured. Used to decide
// whether the seed file should populate the table.
func (db *DB) CountRemotes() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM remotes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count remotes: %w", err)
	}
	return n, nil
}
