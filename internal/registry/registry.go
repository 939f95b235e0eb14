// Package registry provides the SQLite record store for uploaded documents.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studyhall/kioku/internal/models"
)

// ErrNotFound reports that no record matches the tenant and id (or path).
var ErrNotFound = errors.New("document not found")

// Registry stores document records per tenant. Chunk text and vectors live in
// the collection store; the registry only tracks what was uploaded.
type Registry struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func Open(dbPath string) (*Registry, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Registry{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_documents (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT 'general',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		uploaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_tenant ON knowledge_documents(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_documents_tenant_path ON knowledge_documents(tenant_id, file_path);
	`
	_, err := db.Exec(schema)
	return err
}

// Create inserts a document record.
func (r *Registry) Create(ctx context.Context, rec *models.DocumentRecord) error {
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO knowledge_documents (id, tenant_id, filename, file_path, subject, chunk_count, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.Filename, rec.FilePath, rec.Subject, rec.ChunkCount, rec.UploadedAt,
	)
	return err
}

// Get returns a tenant's document record by id.
func (r *Registry) Get(ctx context.Context, tenantID, id string) (*models.DocumentRecord, error) {
	rec, err := r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, filename, file_path, subject, chunk_count, uploaded_at
		 FROM knowledge_documents WHERE tenant_id = ? AND id = ?`, tenantID, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// GetByPath returns a tenant's document record by source file path.
func (r *Registry) GetByPath(ctx context.Context, tenantID, filePath string) (*models.DocumentRecord, error) {
	rec, err := r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, filename, file_path, subject, chunk_count, uploaded_at
		 FROM knowledge_documents WHERE tenant_id = ? AND file_path = ?`, tenantID, filePath))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w for path: %s", ErrNotFound, filePath)
	}
	return rec, err
}

func (r *Registry) scanOne(row *sql.Row) (*models.DocumentRecord, error) {
	var rec models.DocumentRecord
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Filename, &rec.FilePath,
		&rec.Subject, &rec.ChunkCount, &rec.UploadedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByTenant returns a tenant's document records, newest first.
func (r *Registry) ListByTenant(ctx context.Context, tenantID string) ([]*models.DocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, filename, file_path, subject, chunk_count, uploaded_at
		 FROM knowledge_documents WHERE tenant_id = ? ORDER BY uploaded_at DESC, id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.DocumentRecord
	for rows.Next() {
		var rec models.DocumentRecord
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Filename, &rec.FilePath,
			&rec.Subject, &rec.ChunkCount, &rec.UploadedAt); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// CountByTenant returns the number of documents a tenant has uploaded.
func (r *Registry) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM knowledge_documents WHERE tenant_id = ?`, tenantID).Scan(&n)
	return n, err
}

// Delete removes a tenant's document record.
func (r *Registry) Delete(ctx context.Context, tenantID, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM knowledge_documents WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return err
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}
