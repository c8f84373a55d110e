package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrVersionNotFound = errors.New("version not found")

// VersionStore keeps version metadata per room. It is the source of truth
// for version ordering: created_at is assigned by the database at insert.
type VersionStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewVersionStore(db *sql.DB, dialect Dialect) *VersionStore {
	return &VersionStore{db: db, dialect: dialect}
}

func (s *VersionStore) DB() *sql.DB {
	return s.db
}

const versionColumns = `id, room_id, created_at, created_by, label, bytes, checksum, content_hash, schema_version, storage_path`

// CreateVersion inserts a record and returns it with the database-assigned
// creation time.
func (s *VersionStore) CreateVersion(ctx context.Context, v VersionMetadata) (VersionMetadata, error) {
	if strings.TrimSpace(v.ID) == "" || strings.TrimSpace(v.RoomID) == "" {
		return VersionMetadata{}, fmt.Errorf("create version: id and room id are required")
	}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		INSERT INTO room_versions (id, room_id, created_by, label, bytes, checksum, content_hash, schema_version, storage_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING created_at
	`), v.ID, v.RoomID, v.CreatedBy, nilIfEmpty(v.Label), v.Bytes, v.Checksum, v.ContentHash, v.SchemaVersion, v.StoragePath).Scan(&createdAt)
	if err != nil {
		return VersionMetadata{}, fmt.Errorf("insert version: %w", err)
	}
	v.CreatedAt = time.UnixMilli(createdAt).UTC()
	return v, nil
}

func (s *VersionStore) GetVersion(ctx context.Context, roomID, versionID string) (VersionMetadata, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT `+versionColumns+`
		FROM room_versions
		WHERE room_id=? AND id=?
	`), roomID, versionID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionMetadata{}, ErrVersionNotFound
	}
	if err != nil {
		return VersionMetadata{}, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// ListVersions returns up to limit records for the room, newest first.
func (s *VersionStore) ListVersions(ctx context.Context, roomID string, limit int) ([]VersionMetadata, error) {
	if limit <= 0 {
		return []VersionMetadata{}, nil
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT `+versionColumns+`
		FROM room_versions
		WHERE room_id=?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]VersionMetadata, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

// DeleteVersion removes a record. Deleting a missing record is not an error,
// so concurrent prunes of the same room can race safely.
func (s *VersionStore) DeleteVersion(ctx context.Context, roomID, versionID string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM room_versions WHERE room_id=? AND id=?`), roomID, versionID)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	return nil
}

func (s *VersionStore) CountVersions(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM room_versions WHERE room_id=?`), roomID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count versions: %w", err)
	}
	return count, nil
}

func (s *VersionStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (VersionMetadata, error) {
	var (
		v         VersionMetadata
		createdAt int64
		label     sql.NullString
	)
	if err := row.Scan(&v.ID, &v.RoomID, &createdAt, &v.CreatedBy, &label, &v.Bytes, &v.Checksum, &v.ContentHash, &v.SchemaVersion, &v.StoragePath); err != nil {
		return VersionMetadata{}, err
	}
	v.CreatedAt = time.UnixMilli(createdAt).UTC()
	v.Label = label.String
	return v, nil
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
