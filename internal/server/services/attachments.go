package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/webmail/internal/dbx"
	"github.com/dmitrijs2005/webmail/internal/logging"
	"github.com/dmitrijs2005/webmail/internal/server/blobstore"
	"github.com/dmitrijs2005/webmail/internal/server/models"
	"github.com/dmitrijs2005/webmail/internal/server/repositories/repomanager"
)

// AttachmentService binds uploaded payloads to messages. Bytes go to the
// blob store under a content-addressed key; each message keeps its own
// metadata rows, so fan-out copies share storage without sharing ownership.
type AttachmentService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	blobs  blobstore.Store
	logger logging.Logger
}

func NewAttachmentService(db *sql.DB, repos repomanager.RepositoryManager, blobs blobstore.Store, logger logging.Logger) *AttachmentService {
	return &AttachmentService{
		db:     db,
		repos:  repos,
		blobs:  blobs,
		logger: logger.With("module", "attachments"),
	}
}

// SaveAttachments stores each non-empty upload against messageID. The caller
// passes the transaction handle so attachment rows commit together with the
// message they belong to. Blob uploads happen before the rows are written;
// an orphaned blob is harmless and re-uploading the same bytes is a no-op.
func (s *AttachmentService) SaveAttachments(ctx context.Context, db dbx.DBTX, messageID string, files []*models.FileUpload) ([]*models.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}

	repo := s.repos.Attachments(db)

	var saved []*models.Attachment
	for _, f := range files {
		if len(f.Data) == 0 {
			continue
		}

		key := blobstore.Key(f.Data)
		if err := s.blobs.Put(ctx, key, f.Data, f.ContentType); err != nil {
			return nil, fmt.Errorf("error storing attachment payload: %w", err)
		}

		att := &models.Attachment{
			ID:          uuid.NewString(),
			MessageID:   messageID,
			Filename:    f.Filename,
			ContentType: f.ContentType,
			Size:        int64(len(f.Data)),
			StorageKey:  key,
			CreatedAt:   time.Now(),
		}
		if err := repo.Create(ctx, att); err != nil {
			return nil, fmt.Errorf("error saving attachment: %w", err)
		}

		s.logger.Info(ctx, "Saved attachment", "filename", f.Filename, "message_id", messageID)
		saved = append(saved, att)
	}

	return saved, nil
}

// GetAttachment returns attachment metadata by ID.
func (s *AttachmentService) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	return s.repos.Attachments(s.db).GetByID(ctx, id)
}

// DownloadURL returns the attachment metadata together with a temporary URL
// for its payload. The HTTP layer derives the response headers (filename,
// content type, length) from the metadata.
func (s *AttachmentService) DownloadURL(ctx context.Context, id string) (*models.Attachment, string, error) {
	att, err := s.repos.Attachments(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	url, err := s.blobs.PresignGet(ctx, att.StorageKey)
	if err != nil {
		return nil, "", fmt.Errorf("error presigning attachment download: %w", err)
	}
	return att, url, nil
}

// ListByMessage returns the attachments of one message.
func (s *AttachmentService) ListByMessage(ctx context.Context, messageID string) ([]*models.Attachment, error) {
	return s.repos.Attachments(s.db).ListByMessage(ctx, messageID)
}

// HasAttachments is the batch existence check folder listings use.
func (s *AttachmentService) HasAttachments(ctx context.Context, messageIDs []string) (map[string]bool, error) {
	return s.repos.Attachments(s.db).HasAttachments(ctx, messageIDs)
}

// DeleteAttachment removes one attachment row and, when no other row still
// references the same payload, the payload itself.
func (s *AttachmentService) DeleteAttachment(ctx context.Context, id string) error {
	repo := s.repos.Attachments(s.db)

	att, err := repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cleanupBlob(ctx, att.StorageKey)
	return nil
}

// CleanupBlobs removes every payload in keys that no attachment row
// references anymore. Used after a message delete cascades its rows.
func (s *AttachmentService) CleanupBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		s.cleanupBlob(ctx, key)
	}
}

func (s *AttachmentService) cleanupBlob(ctx context.Context, key string) {
	n, err := s.repos.Attachments(s.db).CountByStorageKey(ctx, key)
	if err != nil {
		s.logger.Error(ctx, "Failed to count blob references", "key", key, "error", err.Error())
		return
	}
	if n > 0 {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		// The row is gone; a leaked blob only costs storage.
		s.logger.Error(ctx, "Failed to delete blob", "key", key, "error", err.Error())
	}
}
