package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/renderlab/renderbox/internal/storage"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, nodeID string) (*storage.SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, storage_key, size_bytes, checksum, created_at
		FROM snapshots WHERE node_id = ?`, nodeID)

	rec, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) PutSnapshot(ctx context.Context, rec *storage.SnapshotRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (node_id, storage_key, size_bytes, checksum, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			storage_key = excluded.storage_key,
			size_bytes  = excluded.size_bytes,
			checksum    = excluded.checksum,
			created_at  = excluded.created_at`,
		rec.NodeID, rec.StorageKey, rec.SizeBytes, rec.Checksum,
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, nodeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE node_id = ?`, nodeID)
	return err
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]storage.SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, storage_key, size_bytes, checksum, created_at
		FROM snapshots ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var recs []storage.SnapshotRecord
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) RecordProvisionFailure(ctx context.Context, f *storage.ProvisionFailure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO provision_failures (node_id, template_ref, substrate_ref, cause, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.NodeID, f.TemplateRef, f.SubstrateRef, f.Cause,
		f.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journaling provision failure: %w", err)
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListProvisionFailures(ctx context.Context, limit int) ([]storage.ProvisionFailure, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, template_ref, substrate_ref, cause, created_at
		FROM provision_failures ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing provision failures: %w", err)
	}
	defer rows.Close()

	var fails []storage.ProvisionFailure
	for rows.Next() {
		var f storage.ProvisionFailure
		var createdAt string
		if err := rows.Scan(&f.ID, &f.NodeID, &f.TemplateRef, &f.SubstrateRef, &f.Cause, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		fails = append(fails, f)
	}
	return fails, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(s scanner) (*storage.SnapshotRecord, error) {
	var rec storage.SnapshotRecord
	var createdAt string
	err := s.Scan(&rec.NodeID, &rec.StorageKey, &rec.SizeBytes, &rec.Checksum, &createdAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &rec, nil
}
