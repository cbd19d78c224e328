package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agent-matrix/matrix-hub-sub001/internal/models"
)

// ErrEntityNotFound is returned when a uid does not resolve to a row.
var ErrEntityNotFound = errors.New("entity not found")

// UpsertEntity inserts or updates an entity row keyed by uid (which
// encodes the (type, id, version) unique constraint). Gateway state and
// created_at are never touched by ingestion upserts; concurrent
// ingestion of the same manifest resolves to an idempotent re-apply.
// manifestChecksum is the content hash of the normalized manifest,
// stored so unchanged re-ingests can short-circuit.
func (db *DB) UpsertEntity(e *models.Entity, manifestChecksum string) error {
	caps, _ := json.Marshal(orEmpty(e.Capabilities))
	fws, _ := json.Marshal(orEmpty(e.Frameworks))
	provs, _ := json.Marshal(orEmpty(e.Providers))

	var reg string
	if !e.MCPRegistration.Empty() {
		b, err := json.Marshal(e.MCPRegistration)
		if err != nil {
			return fmt.Errorf("failed to encode mcp_registration: %w", err)
		}
		reg = string(b)
	}

	_, err := db.Exec(`
		INSERT INTO entities
			(uid, type, entity_id, name, version, summary, description, license, homepage,
			 source_url, capabilities, frameworks, providers, quality_score, release_ts,
			 remote_url, remote_etag, last_sync_at, mcp_registration, manifest_checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			name = excluded.name,
			summary = excluded.summary,
			description = excluded.description,
			license = excluded.license,
			homepage = excluded.homepage,
			source_url = excluded.source_url,
			capabilities = excluded.capabilities,
			frameworks = excluded.frameworks,
			providers = excluded.providers,
			quality_score = excluded.quality_score,
			release_ts = excluded.release_ts,
			remote_url = excluded.remote_url,
			remote_etag = excluded.remote_etag,
			last_sync_at = excluded.last_sync_at,
			mcp_registration = excluded.mcp_registration,
			manifest_checksum = excluded.manifest_checksum,
			updated_at = CURRENT_TIMESTAMP
	`, e.UID, e.Type, e.ID, e.Name, e.Version, e.Summary, e.Description, e.License,
		e.Homepage, e.SourceURL, string(caps), string(fws), string(provs),
		e.QualityScore, e.ReleaseTS, e.RemoteURL, e.RemoteETag, nullableTime(e.LastSyncAt),
		reg, manifestChecksum)
	if err != nil {
		return fmt.Errorf("failed to upsert entity %s: %w", e.UID, err)
	}
	return nil
}

// GetEntity returns the entity for uid together with its artifacts.
func (db *DB) GetEntity(uid string) (*models.Entity, error) {
	row := db.QueryRow(`
		SELECT uid, type, entity_id, name, version, summary, description, license,
		       homepage, source_url, capabilities, frameworks, providers, quality_score,
		       release_ts, remote_url, remote_etag, last_sync_at, mcp_registration,
		       gateway_registered_at, gateway_error, created_at, updated_at
		FROM entities WHERE uid = ?
	`, uid)

	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity %s: %w", uid, err)
	}

	arts, err := db.GetArtifacts(uid)
	if err != nil {
		return nil, err
	}
	e.Artifacts = arts
	return e, nil
}

// GetManifestChecksum returns the stored checksum of the last ingested
// manifest content for uid, or "" when the entity is unknown.
func (db *DB) GetManifestChecksum(uid string) (string, error) {
	var sum string
	err := db.QueryRow(`SELECT manifest_checksum FROM entities WHERE uid = ?`, uid).Scan(&sum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get manifest checksum for %s: %w", uid, err)
	}
	return sum, nil
}

// TouchEntitySync refreshes only provenance timestamps, used when an
// unchanged manifest is re-ingested (idempotent no-op beyond the
// timestamp refresh).
func (db *DB) TouchEntitySync(uid, remoteURL, etag string, at time.Time) error {
	_, err := db.Exec(`
		UPDATE entities SET remote_url = ?, remote_etag = ?, last_sync_at = ?
		WHERE uid = ?
	`, remoteURL, etag, at, uid)
	if err != nil {
		return fmt.Errorf("failed to touch entity %s: %w", uid, err)
	}
	return nil
}

// ListEntities returns entities matching the search pre-filter.
// Type filtering happens in SQL; list-overlap filters are applied in Go
// over the decoded JSON columns.
func (db *DB) ListEntities(filters models.SearchFilters) ([]models.Entity, error) {
	query := `
		SELECT uid, type, entity_id, name, version, summary, description, license,
		       homepage, source_url, capabilities, frameworks, providers, quality_score,
		       release_ts, remote_url, remote_etag, last_sync_at, mcp_registration,
		       gateway_registered_at, gateway_error, created_at, updated_at
		FROM entities`
	var args []any
	if filters.Type != "" {
		query += ` WHERE type = ?`
		args = append(args, filters.Type)
	}
	query += ` ORDER BY uid`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if !overlaps(e.Capabilities, filters.Capabilities) ||
			!overlaps(e.Frameworks, filters.Frameworks) ||
			!overlaps(e.Providers, filters.Providers) {
			continue
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListPendingRegistrations returns mcp_server entities whose gateway
// registration has not yet succeeded. Servers without a registration
// block are excluded; they carry nothing to register.
func (db *DB) ListPendingRegistrations(limit, offset int) ([]models.Entity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT uid, type, entity_id, name, version, summary, description, license,
		       homepage, source_url, capabilities, frameworks, providers, quality_score,
		       release_ts, remote_url, remote_etag, last_sync_at, mcp_registration,
		       gateway_registered_at, gateway_error, created_at, updated_at
		FROM entities
		WHERE type = ? AND gateway_registered_at IS NULL AND mcp_registration != ''
		ORDER BY uid
		LIMIT ? OFFSET ?
	`, models.EntityTypeMCPServer, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending registrations: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// DeleteEntity removes an entity and (via FK cascade) its artifacts and
// chunks. Deletion is an explicit administrative operation; ingestion
// never deletes.
func (db *DB) DeleteEntity(uid string) error {
	res, err := db.Exec(`DELETE FROM entities WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("failed to delete entity %s: %w", uid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// CountEntities returns the number of catalog entities, optionally
// filtered by type.
func (db *DB) CountEntities(entityType string) (int, error) {
	var n int
	var err error
	if entityType == "" {
		err = db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n)
	} else {
		err = db.QueryRow(`SELECT COUNT(*) FROM entities WHERE type = ?`, entityType).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return n, nil
}

// SetGatewayStatus records the outcome of a registration attempt.
// registeredAt is set only on full success; a non-empty gatewayError
// moves the entity into the "pending" registration state.
func (db *DB) SetGatewayStatus(uid string, registeredAt *time.Time, gatewayError string) error {
	res, err := db.Exec(`
		UPDATE entities SET gateway_registered_at = ?, gateway_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE uid = ?
	`, registeredAt, gatewayError, uid)
	if err != nil {
		return fmt.Errorf("failed to set gateway status for %s: %w", uid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// ReplaceArtifacts swaps the full artifact set of an entity, in a single
// transaction. Artifacts are owned wholesale by their entity/version.
func (db *DB) ReplaceArtifacts(uid string, artifacts []models.Artifact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin artifact tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM artifacts WHERE entity_uid = ?`, uid); err != nil {
		return fmt.Errorf("failed to clear artifacts for %s: %w", uid, err)
	}
	for i, a := range artifacts {
		spec, _ := json.Marshal(a.Spec)
		if _, err := tx.Exec(`
			INSERT INTO artifacts (entity_uid, position, kind, spec, hash, size_bytes, install_hint)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, uid, i, a.Kind, string(spec), a.Hash, a.Size, a.InstallHint); err != nil {
			return fmt.Errorf("failed to insert artifact %d for %s: %w", i, uid, err)
		}
	}
	return tx.Commit()
}

// GetArtifacts returns an entity's artifacts in manifest order.
func (db *DB) GetArtifacts(uid string) ([]models.Artifact, error) {
	rows, err := db.Query(`
		SELECT kind, spec, hash, size_bytes, install_hint
		FROM artifacts WHERE entity_uid = ? ORDER BY position
	`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to get artifacts for %s: %w", uid, err)
	}
	defer rows.Close()

	var out []models.Artifact
	for rows.Next() {
		var a models.Artifact
		var spec string
		if err := rows.Scan(&a.Kind, &spec, &a.Hash, &a.Size, &a.InstallHint); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		if spec != "" {
			_ = json.Unmarshal([]byte(spec), &a.Spec)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	var caps, fws, provs, reg string
	var releaseTS, lastSync, registeredAt sql.NullTime
	if err := row.Scan(
		&e.UID, &e.Type, &e.ID, &e.Name, &e.Version, &e.Summary, &e.Description,
		&e.License, &e.Homepage, &e.SourceURL, &caps, &fws, &provs, &e.QualityScore,
		&releaseTS, &e.RemoteURL, &e.RemoteETag, &lastSync, &reg,
		&registeredAt, &e.GatewayError, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(caps), &e.Capabilities)
	_ = json.Unmarshal([]byte(fws), &e.Frameworks)
	_ = json.Unmarshal([]byte(provs), &e.Providers)
	if reg != "" {
		var r models.MCPRegistration
		if err := json.Unmarshal([]byte(reg), &r); err == nil {
			e.MCPRegistration = &r
		}
	}
	if releaseTS.Valid {
		t := releaseTS.Time
		e.ReleaseTS = &t
	}
	if lastSync.Valid {
		e.LastSyncAt = lastSync.Time
	}
	if registeredAt.Valid {
		t := registeredAt.Time
		e.GatewayRegisteredAt = &t
	}
	return &e, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// overlaps reports whether want is empty or shares at least one token
// with have.
func overlaps(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
