package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/webmail/internal/common"
	"github.com/dmitrijs2005/webmail/internal/dbx"
	"github.com/dmitrijs2005/webmail/internal/logging"
	"github.com/dmitrijs2005/webmail/internal/server/config"
	"github.com/dmitrijs2005/webmail/internal/server/models"
	attachmentsrepo "github.com/dmitrijs2005/webmail/internal/server/repositories/attachments"
	messagesrepo "github.com/dmitrijs2005/webmail/internal/server/repositories/messages"
	usersrepo "github.com/dmitrijs2005/webmail/internal/server/repositories/users"
)

// --- stateful fakes backing the service tests ---

type fakeUsersRepo struct {
	mu     sync.Mutex
	byID   map[string]*models.User
	getErr error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byID: map[string]*models.User{}}
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return nil, common.ErrorEmailExists
		}
	}
	cp := *u
	f.byID[u.ID] = &cp
	return u, nil
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := f.GetByEmail(ctx, email)
	if err == nil {
		return true, nil
	}
	return false, nil
}

func (f *fakeUsersRepo) Update(ctx context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[u.ID]; !ok {
		return common.ErrorNotFound
	}
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

type fakeMessagesRepo struct {
	mu        sync.Mutex
	byID      map[string]*models.Message
	users     *fakeUsersRepo
	atts      *fakeAttachmentsRepo
	createErr error
}

func newFakeMessagesRepo(users *fakeUsersRepo, atts *fakeAttachmentsRepo) *fakeMessagesRepo {
	return &fakeMessagesRepo{byID: map[string]*models.Message{}, users: users, atts: atts}
}

func (f *fakeMessagesRepo) Create(ctx context.Context, msg *models.Message) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *msg
	f.byID[msg.ID] = &cp
	return nil
}

func (f *fakeMessagesRepo) Get(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	msg, ok := f.byID[id]
	f.mu.Unlock()
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *msg
	f.populate(&cp)
	return &cp, nil
}

func (f *fakeMessagesRepo) populate(msg *models.Message) {
	if s, err := f.users.GetByID(context.Background(), msg.SenderID); err == nil {
		msg.Sender = &models.Party{ID: s.ID, Email: s.Email, FirstName: s.FirstName, LastName: s.LastName}
	}
	if r, err := f.users.GetByID(context.Background(), msg.RecipientID); err == nil {
		msg.Recipient = &models.Party{ID: r.ID, Email: r.Email, FirstName: r.FirstName, LastName: r.LastName}
	}
	if f.atts != nil {
		msg.HasAttachments = len(f.atts.byMessage(msg.ID)) > 0
	}
}

func (f *fakeMessagesRepo) Update(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[msg.ID]; !ok {
		return common.ErrorNotFound
	}
	cp := *msg
	cp.Sender, cp.Recipient = nil, nil
	f.byID[msg.ID] = &cp
	return nil
}

func (f *fakeMessagesRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byID, id)
	if f.atts != nil {
		f.atts.cascadeDelete(id)
	}
	return nil
}

func (f *fakeMessagesRepo) SetTrashed(ctx context.Context, id string, trashed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	msg.Trashed = trashed
	return nil
}

func (f *fakeMessagesRepo) SetRead(ctx context.Context, id string, read bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	msg.Read = read
	return nil
}

func (f *fakeMessagesRepo) ToggleStar(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.byID[id]
	if !ok {
		return false, common.ErrorNotFound
	}
	msg.Starred = !msg.Starred
	return msg.Starred, nil
}

func (f *fakeMessagesRepo) page(match func(*models.Message) bool, page, pageSize int) *models.MessagePage {
	f.mu.Lock()
	var items []*models.Message
	for _, msg := range f.byID {
		if match(msg) {
			cp := *msg
			items = append(items, &cp)
		}
	}
	f.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	result := &models.MessagePage{Page: page, PageSize: pageSize, TotalCount: int64(len(items))}
	start := page * pageSize
	if start >= len(items) {
		return result
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	for _, msg := range items[start:end] {
		f.populate(msg)
		result.Items = append(result.Items, msg)
	}
	return result
}

func (f *fakeMessagesRepo) Inbox(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error) {
	return f.page(func(m *models.Message) bool {
		return m.RecipientID == userID && m.Phase == models.PhaseSent && !m.Trashed
	}, page, pageSize), nil
}

func (f *fakeMessagesRepo) Sent(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error) {
	return f.page(func(m *models.Message) bool {
		return m.SenderID == userID && m.Phase == models.PhaseSent && !m.Trashed
	}, page, pageSize), nil
}

func (f *fakeMessagesRepo) Drafts(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error) {
	return f.page(func(m *models.Message) bool {
		return m.SenderID == userID && m.Phase == models.PhaseDraft && !m.Trashed
	}, page, pageSize), nil
}

func (f *fakeMessagesRepo) Trash(ctx context.Context, userID string, page, pageSize int) (*models.MessagePage, error) {
	return f.page(func(m *models.Message) bool {
		return m.Trashed && (m.SenderID == userID || m.RecipientID == userID)
	}, page, pageSize), nil
}

func (f *fakeMessagesRepo) CountUnread(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.byID {
		if m.RecipientID == userID && m.Phase == models.PhaseSent && !m.Read && !m.Trashed {
			n++
		}
	}
	return n, nil
}

func (f *fakeMessagesRepo) TrashIDs(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, m := range f.byID {
		if m.Trashed && (m.SenderID == userID || m.RecipientID == userID) {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

type fakeAttachmentsRepo struct {
	mu   sync.Mutex
	byID map[string]*models.Attachment
}

func newFakeAttachmentsRepo() *fakeAttachmentsRepo {
	return &fakeAttachmentsRepo{byID: map[string]*models.Attachment{}}
}

func (f *fakeAttachmentsRepo) byMessage(messageID string) []*models.Attachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Attachment
	for _, a := range f.byID {
		if a.MessageID == messageID {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result
}

func (f *fakeAttachmentsRepo) cascadeDelete(messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, a := range f.byID {
		if a.MessageID == messageID {
			delete(f.byID, id)
		}
	}
}

func (f *fakeAttachmentsRepo) Create(ctx context.Context, att *models.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *att
	f.byID[att.ID] = &cp
	return nil
}

func (f *fakeAttachmentsRepo) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.byID[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeAttachmentsRepo) ListByMessage(ctx context.Context, messageID string) ([]*models.Attachment, error) {
	return f.byMessage(messageID), nil
}

func (f *fakeAttachmentsRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeAttachmentsRepo) HasAttachments(ctx context.Context, messageIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		result[id] = len(f.byMessage(id)) > 0
	}
	return result, nil
}

func (f *fakeAttachmentsRepo) CountByStorageKey(ctx context.Context, storageKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.byID {
		if a.StorageKey == storageKey {
			n++
		}
	}
	return n, nil
}

type fakeRepoManager struct {
	users *fakeUsersRepo
	msgs  *fakeMessagesRepo
	atts  *fakeAttachmentsRepo
}

func (f *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (f *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository             { return f.users }
func (f *fakeRepoManager) Messages(db dbx.DBTX) messagesrepo.Repository       { return f.msgs }
func (f *fakeRepoManager) Attachments(db dbx.DBTX) attachmentsrepo.Repository { return f.atts }

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeBlobStore) PresignGet(ctx context.Context, key string) (string, error) {
	return "https://blobs.test/" + key, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

// --- shared test environment ---

type mailboxEnv struct {
	db       *sql.DB
	users    *fakeUsersRepo
	msgs     *fakeMessagesRepo
	atts     *fakeAttachmentsRepo
	blobs    *fakeBlobStore
	mailbox  *MailboxService
	attSvc   *AttachmentService
	userSvc  *UserService
	resolver *Resolver
}

// newMailboxEnv wires the services against stateful fakes. A real sqlite
// connection backs dbx.WithTx; the fakes ignore the handle they are given.
func newMailboxEnv(t *testing.T) *mailboxEnv {
	t.Helper()

	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	users := newFakeUsersRepo()
	atts := newFakeAttachmentsRepo()
	msgs := newFakeMessagesRepo(users, atts)
	rm := &fakeRepoManager{users: users, msgs: msgs, atts: atts}
	blobs := newFakeBlobStore()

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	cfg := &config.Config{
		SecretKey:                   "k",
		AccessTokenValidityDuration: time.Hour,
		PageSize:                    20,
		SubjectMaxLength:            255,
	}

	resolver := NewResolver(rm)
	attSvc := NewAttachmentService(db, rm, blobs, logger)
	mailbox := NewMailboxService(db, rm, resolver, attSvc, logger, cfg)
	userSvc := NewUserService(db, rm, logger, cfg)

	return &mailboxEnv{
		db: db, users: users, msgs: msgs, atts: atts, blobs: blobs,
		mailbox: mailbox, attSvc: attSvc, userSvc: userSvc, resolver: resolver,
	}
}

func (e *mailboxEnv) addUser(t *testing.T, id, email string) *models.User {
	t.Helper()
	u := &models.User{ID: id, Email: email, Active: true}
	_, err := e.users.Create(context.Background(), u)
	require.NoError(t, err)
	return u
}
