// Package httpapi exposes the mailbox over a JSON HTTP API: session
// endpoints, the four folder listings, compose and draft handling, message
// state changes, and attachment downloads.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/webmail/internal/logging"
	"github.com/dmitrijs2005/webmail/internal/server/models"
	"github.com/dmitrijs2005/webmail/internal/server/services"
)

type userSvc interface {
	Register(ctx context.Context, req *services.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, *models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, req *services.RegisterRequest) (*models.User, error)
}

type mailboxSvc interface {
	Send(ctx context.Context, senderID string, req *services.ComposeRequest) ([]*models.Message, error)
	SaveDraft(ctx context.Context, senderID string, req *services.ComposeRequest) (*models.Message, error)
	GetMessage(ctx context.Context, id, userID string) (*models.Message, []*models.Attachment, error)
	MoveToTrash(ctx context.Context, id string) error
	RestoreFromTrash(ctx context.Context, id string) error
	BulkSetTrashed(ctx context.Context, ids []string, trashed bool) int
	MarkAsRead(ctx context.Context, id, userID string) error
	MarkAsUnread(ctx context.Context, id string) error
	ToggleStar(ctx context.Context, id string) (bool, error)
	PermanentlyDelete(ctx context.Context, id, userID string) error
	EmptyTrash(ctx context.Context, userID string) (int, error)
	Inbox(ctx context.Context, userID string, page int) (*models.MessagePage, error)
	Sent(ctx context.Context, userID string, page int) (*models.MessagePage, error)
	Drafts(ctx context.Context, userID string, page int) (*models.MessagePage, error)
	Trash(ctx context.Context, userID string, page int) (*models.MessagePage, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type attachmentSvc interface {
	GetAttachment(ctx context.Context, id string) (*models.Attachment, error)
	DownloadURL(ctx context.Context, id string) (*models.Attachment, string, error)
}

type Server struct {
	address     string
	logger      logging.Logger
	users       userSvc
	mailbox     mailboxSvc
	attachments attachmentSvc
	jwtSecret   []byte
}

func NewServer(a string, l logging.Logger, us *services.UserService, ms *services.MailboxService,
	as *services.AttachmentService, secretKey string) *Server {
	return &Server{
		address:     a,
		logger:      l.With("module", "http_server"),
		users:       us,
		mailbox:     ms,
		attachments: as,
		jwtSecret:   []byte(secretKey),
	}
}

// Handler builds the route table. Split from Run so tests can drive the
// mux through httptest without opening a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.Handle("GET /api/profile", s.requireAuth(s.handleGetProfile))
	mux.Handle("PUT /api/profile", s.requireAuth(s.handleUpdateProfile))

	mux.Handle("GET /api/folders/{folder}", s.requireAuth(s.handleFolder))
	mux.Handle("GET /api/unread", s.requireAuth(s.handleUnreadCount))

	mux.Handle("POST /api/messages/send", s.requireAuth(s.handleSend))
	mux.Handle("POST /api/messages/draft", s.requireAuth(s.handleSaveDraft))
	mux.Handle("POST /api/messages/bulk-trash", s.requireAuth(s.handleBulkTrash))
	mux.Handle("GET /api/messages/{id}", s.requireAuth(s.handleGetMessage))
	mux.Handle("DELETE /api/messages/{id}", s.requireAuth(s.handleDeleteMessage))
	mux.Handle("POST /api/messages/{id}/trash", s.requireAuth(s.handleTrash))
	mux.Handle("POST /api/messages/{id}/restore", s.requireAuth(s.handleRestore))
	mux.Handle("POST /api/messages/{id}/read", s.requireAuth(s.handleMarkRead))
	mux.Handle("POST /api/messages/{id}/unread", s.requireAuth(s.handleMarkUnread))
	mux.Handle("POST /api/messages/{id}/star", s.requireAuth(s.handleToggleStar))

	mux.Handle("POST /api/trash/empty", s.requireAuth(s.handleEmptyTrash))

	mux.Handle("GET /api/attachments/{id}", s.requireAuth(s.handleDownloadAttachment))

	return mux
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.address,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown error", "error", err.Error())
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
