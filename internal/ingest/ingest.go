// Package ingest ties extraction, chunking, the document registry, and the
// collection store into the document-upload flow.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/studyhall/kioku/internal/chunker"
	"github.com/studyhall/kioku/internal/extract"
	"github.com/studyhall/kioku/internal/models"
	"github.com/studyhall/kioku/internal/registry"
	"github.com/studyhall/kioku/internal/store"
	"go.uber.org/zap"
)

// Service ingests documents: extract text, chunk, record, embed and store.
type Service struct {
	extractor *extract.Extractor
	chunker   *chunker.Chunker
	registry  *registry.Registry
	store     *store.Store
	uploadDir string
	logger    *zap.Logger
}

// NewService creates an ingestion service. uploadDir may be empty to skip
// saving uploaded bytes to disk.
func NewService(
	extractor *extract.Extractor,
	chk *chunker.Chunker,
	reg *registry.Registry,
	st *store.Store,
	uploadDir string,
	logger *zap.Logger,
) *Service {
	return &Service{
		extractor: extractor,
		chunker:   chk,
		registry:  reg,
		store:     st,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

// IngestUpload processes uploaded file content: saves it under the tenant's
// upload directory, extracts text, and ingests it. Returns the document record
// and the number of chunks actually inserted.
func (s *Service) IngestUpload(ctx context.Context, tenantID string, content []byte, filename, subject string) (*models.DocumentRecord, int, error) {
	ext := filepath.Ext(filename)
	if !s.extractor.Supported(ext) {
		return nil, 0, fmt.Errorf("unsupported file format %q", ext)
	}
	text, err := s.extractor.ExtractBytes(content, ext)
	if err != nil {
		return nil, 0, fmt.Errorf("extract content: %w", err)
	}
	filePath := ""
	if s.uploadDir != "" {
		filePath, err = s.saveUpload(tenantID, content, filename)
		if err != nil {
			return nil, 0, fmt.Errorf("save upload: %w", err)
		}
	}
	return s.ingestText(ctx, tenantID, text, filename, filePath, subject)
}

// IngestFile reads a file from path and ingests it. A document previously
// ingested from the same path is replaced.
func (s *Service) IngestFile(ctx context.Context, tenantID, path, subject string) (*models.DocumentRecord, int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, 0, fmt.Errorf("absolute path: %w", err)
	}
	if !s.extractor.Supported(filepath.Ext(absPath)) {
		return nil, 0, fmt.Errorf("unsupported file format %q", filepath.Ext(absPath))
	}
	if existing, err := s.registry.GetByPath(ctx, tenantID, absPath); err == nil {
		if err := s.DeleteDocument(ctx, tenantID, existing.ID); err != nil {
			s.logger.Warn("failed to remove stale document before re-ingestion",
				zap.String("path", absPath), zap.Error(err))
		}
	}
	text, err := s.extractor.Extract(absPath)
	if err != nil {
		return nil, 0, fmt.Errorf("extract content: %w", err)
	}
	return s.ingestText(ctx, tenantID, text, filepath.Base(absPath), absPath, subject)
}

func (s *Service) ingestText(ctx context.Context, tenantID, text, filename, filePath, subject string) (*models.DocumentRecord, int, error) {
	if subject == "" {
		subject = "general"
	}
	chunks := s.chunker.Split(text)
	rec := &models.DocumentRecord{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Filename: filename,
		FilePath: filePath,
		Subject:  subject,
	}
	added, err := s.store.AddChunks(ctx, tenantID, rec.ID, chunks, filename, subject)
	if err != nil {
		s.store.DeleteDocument(tenantID, rec.ID)
		return nil, 0, fmt.Errorf("store chunks: %w", err)
	}
	// The record carries the count of chunks actually stored, which can be
	// lower than the split count when vectors are rejected.
	rec.ChunkCount = added
	if err := s.registry.Create(ctx, rec); err != nil {
		s.store.DeleteDocument(tenantID, rec.ID)
		return nil, 0, fmt.Errorf("create document record: %w", err)
	}
	s.logger.Info("document ingested",
		zap.String("tenant_id", tenantID),
		zap.String("document_id", rec.ID),
		zap.String("filename", filename),
		zap.String("subject", subject),
		zap.Int("chunks", added),
	)
	return rec, added, nil
}

// DeleteDocument removes a document's chunks, its registry record, and its
// saved upload file (best effort).
func (s *Service) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	rec, err := s.registry.Get(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if !s.store.DeleteDocument(tenantID, documentID) {
		s.logger.Warn("collection delete reported inconsistency",
			zap.String("tenant_id", tenantID), zap.String("document_id", documentID))
	}
	if err := s.registry.Delete(ctx, tenantID, documentID); err != nil {
		return fmt.Errorf("delete document record: %w", err)
	}
	if s.uploadDir != "" && rec.FilePath != "" && isUnder(rec.FilePath, s.uploadDir) {
		_ = os.Remove(rec.FilePath)
	}
	s.logger.Info("document deleted",
		zap.String("tenant_id", tenantID), zap.String("document_id", documentID))
	return nil
}

// DeleteByPath removes the document previously ingested from path, if any.
func (s *Service) DeleteByPath(ctx context.Context, tenantID, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	rec, err := s.registry.GetByPath(ctx, tenantID, absPath)
	if err != nil {
		return nil // never ingested; nothing to do
	}
	return s.DeleteDocument(ctx, tenantID, rec.ID)
}

// saveUpload writes content under the tenant's upload directory with a
// content-hash prefix so distinct uploads of the same filename do not collide.
func (s *Service) saveUpload(tenantID string, content []byte, filename string) (string, error) {
	dir := filepath.Join(s.uploadDir, tenantID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	name := hex.EncodeToString(sum[:])[:8] + "_" + filepath.Base(filename)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0600); err != nil {
		return "", err
	}
	return path, nil
}

func isUnder(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
