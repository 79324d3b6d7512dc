// Package services contains the server-side business logic: the mailbox
// lifecycle rules, recipient resolution, account handling, and attachment
// management.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/webmail/internal/common"
	"github.com/dmitrijs2005/webmail/internal/dbx"
	"github.com/dmitrijs2005/webmail/internal/logging"
	"github.com/dmitrijs2005/webmail/internal/server/config"
	"github.com/dmitrijs2005/webmail/internal/server/models"
	"github.com/dmitrijs2005/webmail/internal/server/repositories/repomanager"
)

// ComposeRequest carries user input for sending a message or saving a draft.
type ComposeRequest struct {
	// DraftID, when set on SaveDraft, updates that draft in place.
	DraftID    string
	Recipients string
	Subject    string
	Content    string
	Files      []*models.FileUpload
}

// MailboxService owns the message lifecycle: sending with per-recipient
// fan-out, draft handling, the trash flag, permanent deletion, read/star
// state, and the four folder queries.
type MailboxService struct {
	db          *sql.DB
	repos       repomanager.RepositoryManager
	resolver    *Resolver
	attachments *AttachmentService
	logger      logging.Logger
	pageSize    int
	subjectMax  int
}

func NewMailboxService(db *sql.DB, repos repomanager.RepositoryManager, resolver *Resolver,
	attachments *AttachmentService, logger logging.Logger, cfg *config.Config) *MailboxService {
	return &MailboxService{
		db:          db,
		repos:       repos,
		resolver:    resolver,
		attachments: attachments,
		logger:      logger.With("module", "mailbox"),
		pageSize:    cfg.PageSize,
		subjectMax:  cfg.SubjectMaxLength,
	}
}

// Send fans the request out to every address that resolves to a user: one
// independent message per recipient, each with its own attachment rows.
// Addresses that do not resolve are logged and skipped; recipients are not
// atomic with respect to each other, so a failure for one never rolls back
// the messages already created for others. Only a send that produces zero
// messages fails, with common.ErrorNoValidRecipients.
func (s *MailboxService) Send(ctx context.Context, senderID string, req *ComposeRequest) ([]*models.Message, error) {
	s.logger.Info(ctx, "Sending message", "sender", senderID, "recipients", req.Recipients)

	if err := s.validateSubject(req.Subject); err != nil {
		return nil, err
	}

	sender, err := s.repos.Users(s.db).GetByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("sender lookup: %w", err)
	}

	var sentMessages []*models.Message

	for _, address := range SplitAddresses(req.Recipients) {
		recipient, err := s.resolver.Resolve(ctx, s.db, address)
		if err != nil {
			if errors.Is(err, common.ErrorRecipientNotFound) {
				s.logger.Warn(ctx, "Recipient not found", "address", address)
			} else {
				s.logger.Error(ctx, "Recipient lookup failed", "address", address, "error", err.Error())
			}
			continue
		}

		msg := &models.Message{
			ID:          uuid.NewString(),
			SenderID:    sender.ID,
			RecipientID: recipient.ID,
			Subject:     req.Subject,
			Content:     req.Content,
			CreatedAt:   time.Now(),
			Phase:       models.PhaseSent,
		}

		err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := s.repos.Messages(tx).Create(ctx, msg); err != nil {
				return err
			}
			_, err := s.attachments.SaveAttachments(ctx, tx, msg.ID, req.Files)
			return err
		})
		if err != nil {
			s.logger.Error(ctx, "Failed to save message", "address", address, "error", err.Error())
			continue
		}

		sentMessages = append(sentMessages, msg)
	}

	if len(sentMessages) == 0 {
		s.logger.Warn(ctx, "No valid recipients, nothing sent", "sender", senderID)
		return nil, common.ErrorNoValidRecipients
	}

	s.logger.Info(ctx, "Sent messages", "count", len(sentMessages))
	return sentMessages, nil
}

// SaveDraft creates a draft, or updates req.DraftID in place when it names an
// existing draft of any sender. Recipient resolution is best effort: only the
// first address is considered, and when it does not resolve the draft still
// saves with the sender standing in as recipient until a real one is known.
// Resolution failures never fail the save; only persistence errors do.
func (s *MailboxService) SaveDraft(ctx context.Context, senderID string, req *ComposeRequest) (*models.Message, error) {
	s.logger.Info(ctx, "Saving draft", "sender", senderID)

	if err := s.validateSubject(req.Subject); err != nil {
		return nil, err
	}

	sender, err := s.repos.Users(s.db).GetByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("sender lookup: %w", err)
	}

	var existing *models.Message
	if req.DraftID != "" {
		found, err := s.repos.Messages(s.db).Get(ctx, req.DraftID)
		switch {
		case err == nil && found.Phase == models.PhaseDraft:
			existing = found
		case err != nil && !errors.Is(err, common.ErrorNotFound):
			return nil, fmt.Errorf("failed to save draft: %w", err)
		default:
			s.logger.Warn(ctx, "Draft not found, creating new", "draft_id", req.DraftID)
		}
	}

	// The placeholder keeps recipient_id non-null until the draft is sent.
	recipientID := sender.ID
	resolved := false
	if addresses := SplitAddresses(req.Recipients); len(addresses) > 0 {
		recipient, err := s.resolver.Resolve(ctx, s.db, addresses[0])
		if err == nil {
			recipientID = recipient.ID
			resolved = true
		} else if errors.Is(err, common.ErrorRecipientNotFound) {
			s.logger.Info(ctx, "Recipient not in system, saving draft with placeholder", "address", addresses[0])
		} else {
			return nil, fmt.Errorf("failed to save draft: %w", err)
		}
	}

	var draft *models.Message
	if existing != nil {
		existing.Subject = req.Subject
		existing.Content = req.Content
		if resolved {
			existing.RecipientID = recipientID
		}
		draft = existing
	} else {
		draft = &models.Message{
			ID:          uuid.NewString(),
			SenderID:    sender.ID,
			RecipientID: recipientID,
			Subject:     req.Subject,
			Content:     req.Content,
			CreatedAt:   time.Now(),
			Phase:       models.PhaseDraft,
		}
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Messages(tx)
		if existing != nil {
			if err := repo.Update(ctx, draft); err != nil {
				return err
			}
		} else {
			if err := repo.Create(ctx, draft); err != nil {
				return err
			}
		}
		_, err := s.attachments.SaveAttachments(ctx, tx, draft.ID, req.Files)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}

	return draft, nil
}

// GetMessage returns one message with its attachments. Only the sender or
// the recipient may read it.
func (s *MailboxService) GetMessage(ctx context.Context, id, userID string) (*models.Message, []*models.Attachment, error) {
	msg, err := s.repos.Messages(s.db).Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if msg.SenderID != userID && msg.RecipientID != userID {
		return nil, nil, common.ErrorPermissionDenied
	}

	atts, err := s.attachments.ListByMessage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return msg, atts, nil
}

// MoveToTrash sets the trash flag. The message keeps its phase, so restoring
// it puts it back in exactly the folder it came from.
func (s *MailboxService) MoveToTrash(ctx context.Context, id string) error {
	s.logger.Info(ctx, "Moving message to trash", "id", id)
	return s.repos.Messages(s.db).SetTrashed(ctx, id, true)
}

// RestoreFromTrash clears the trash flag.
func (s *MailboxService) RestoreFromTrash(ctx context.Context, id string) error {
	s.logger.Info(ctx, "Restoring message from trash", "id", id)
	return s.repos.Messages(s.db).SetTrashed(ctx, id, false)
}

// BulkSetTrashed applies the trash flag to every listed message, logging and
// skipping individual failures. Returns the number of messages updated.
func (s *MailboxService) BulkSetTrashed(ctx context.Context, ids []string, trashed bool) int {
	count := 0
	for _, id := range ids {
		if err := s.repos.Messages(s.db).SetTrashed(ctx, id, trashed); err != nil {
			s.logger.Error(ctx, "Failed to update trash flag", "id", id, "error", err.Error())
			continue
		}
		count++
	}
	return count
}

// MarkAsRead marks a message read. Read state belongs to the recipient, so
// anyone else gets common.ErrorPermissionDenied.
func (s *MailboxService) MarkAsRead(ctx context.Context, id, userID string) error {
	msg, err := s.repos.Messages(s.db).Get(ctx, id)
	if err != nil {
		return err
	}
	if msg.RecipientID != userID {
		return common.ErrorPermissionDenied
	}
	return s.repos.Messages(s.db).SetRead(ctx, id, true)
}

// MarkAsUnread clears the read flag.
func (s *MailboxService) MarkAsUnread(ctx context.Context, id string) error {
	return s.repos.Messages(s.db).SetRead(ctx, id, false)
}

// ToggleStar flips the star flag and returns the new value.
func (s *MailboxService) ToggleStar(ctx context.Context, id string) (bool, error) {
	return s.repos.Messages(s.db).ToggleStar(ctx, id)
}

// PermanentlyDelete removes a trashed message and its attachments for good.
// The caller must be the sender or the recipient, and the message must be in
// the trash first.
func (s *MailboxService) PermanentlyDelete(ctx context.Context, id, userID string) error {
	s.logger.Info(ctx, "Permanently deleting message", "id", id, "user", userID)

	msg, err := s.repos.Messages(s.db).Get(ctx, id)
	if err != nil {
		return err
	}
	if msg.SenderID != userID && msg.RecipientID != userID {
		return common.ErrorPermissionDenied
	}
	if !msg.Trashed {
		return common.ErrorNotInTrash
	}

	return s.deleteMessage(ctx, id)
}

// EmptyTrash permanently deletes every trashed message the user sent or
// received, logging and skipping individual failures. Returns the number of
// messages deleted. A message trashed by its sender disappears for the
// recipient too; emptying trash draws no distinction between the two.
func (s *MailboxService) EmptyTrash(ctx context.Context, userID string) (int, error) {
	s.logger.Info(ctx, "Emptying trash", "user", userID)

	ids, err := s.repos.Messages(s.db).TrashIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		if err := s.deleteMessage(ctx, id); err != nil {
			s.logger.Error(ctx, "Failed to delete trashed message", "id", id, "error", err.Error())
			continue
		}
		count++
	}

	s.logger.Info(ctx, "Emptied trash", "user", userID, "deleted", count)
	return count, nil
}

// deleteMessage deletes the row (attachment rows cascade) and then removes
// any payload blobs that lost their last reference.
func (s *MailboxService) deleteMessage(ctx context.Context, id string) error {
	atts, err := s.attachments.ListByMessage(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repos.Messages(s.db).Delete(ctx, id); err != nil {
		return err
	}

	keys := make([]string, 0, len(atts))
	for _, a := range atts {
		keys = append(keys, a.StorageKey)
	}
	s.attachments.CleanupBlobs(ctx, keys)
	return nil
}

// Inbox lists messages received and not trashed, newest first.
func (s *MailboxService) Inbox(ctx context.Context, userID string, page int) (*models.MessagePage, error) {
	return s.repos.Messages(s.db).Inbox(ctx, userID, page, s.pageSize)
}

// Sent lists messages sent and not trashed.
func (s *MailboxService) Sent(ctx context.Context, userID string, page int) (*models.MessagePage, error) {
	return s.repos.Messages(s.db).Sent(ctx, userID, page, s.pageSize)
}

// Drafts lists unsent drafts not trashed.
func (s *MailboxService) Drafts(ctx context.Context, userID string, page int) (*models.MessagePage, error) {
	return s.repos.Messages(s.db).Drafts(ctx, userID, page, s.pageSize)
}

// Trash lists trashed messages the user sent or received.
func (s *MailboxService) Trash(ctx context.Context, userID string, page int) (*models.MessagePage, error) {
	return s.repos.Messages(s.db).Trash(ctx, userID, page, s.pageSize)
}

// UnreadCount counts unread, untrashed messages in the user's inbox.
func (s *MailboxService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repos.Messages(s.db).CountUnread(ctx, userID)
}

func (s *MailboxService) validateSubject(subject string) error {
	if s.subjectMax > 0 && len(subject) > s.subjectMax {
		return common.ErrorSubjectTooLong
	}
	return nil
}
