package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/webmail/internal/common"
	"github.com/dmitrijs2005/webmail/internal/server/models"
	"github.com/dmitrijs2005/webmail/internal/server/services"
)

// maxUploadBytes caps the in-memory part of a multipart compose request.
const maxUploadBytes = 32 << 20

type credentialsRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
}

type partyResponse struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type messageResponse struct {
	ID             string         `json:"id"`
	Subject        string         `json:"subject"`
	Content        string         `json:"content,omitempty"`
	CreatedAt      string         `json:"created_at"`
	Phase          string         `json:"phase"`
	Read           bool           `json:"read"`
	Starred        bool           `json:"starred"`
	Trashed        bool           `json:"trashed"`
	HasAttachments bool           `json:"has_attachments"`
	Sender         *partyResponse `json:"sender,omitempty"`
	Recipient      *partyResponse `json:"recipient,omitempty"`
}

type pageResponse struct {
	Items      []*messageResponse `json:"items"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalCount int64              `json:"total_count"`
	TotalPages int                `json:"total_pages"`
}

type attachmentResponse struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

func toUserResponse(u *models.User) *userResponse {
	return &userResponse{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		DisplayName: u.DisplayName(),
	}
}

func toPartyResponse(p *models.Party) *partyResponse {
	if p == nil {
		return nil
	}
	name := (&models.User{Email: p.Email, FirstName: p.FirstName, LastName: p.LastName}).DisplayName()
	return &partyResponse{Email: p.Email, DisplayName: name}
}

func toMessageResponse(m *models.Message, includeContent bool) *messageResponse {
	resp := &messageResponse{
		ID:             m.ID,
		Subject:        m.Subject,
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339),
		Phase:          m.Phase.String(),
		Read:           m.Read,
		Starred:        m.Starred,
		Trashed:        m.Trashed,
		HasAttachments: m.HasAttachments,
		Sender:         toPartyResponse(m.Sender),
		Recipient:      toPartyResponse(m.Recipient),
	}
	if includeContent {
		resp.Content = m.Content
	}
	return resp
}

func toPageResponse(p *models.MessagePage) *pageResponse {
	resp := &pageResponse{
		Items:      make([]*messageResponse, 0, len(p.Items)),
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalCount: p.TotalCount,
		TotalPages: p.TotalPages(),
	}
	for _, m := range p.Items {
		resp.Items = append(resp.Items, toMessageResponse(m, false))
	}
	return resp
}

func toAttachmentResponses(atts []*models.Attachment) []*attachmentResponse {
	result := make([]*attachmentResponse, 0, len(atts))
	for _, a := range atts {
		result = append(result, &attachmentResponse{
			ID:          a.ID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrorPermissionDenied):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, common.ErrorUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, common.ErrorEmailExists):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, common.ErrorNoValidRecipients):
		writeError(w, http.StatusBadRequest, "no valid recipients")
	case errors.Is(err, common.ErrorSubjectTooLong):
		writeError(w, http.StatusBadRequest, "subject too long")
	case errors.Is(err, common.ErrorNotInTrash):
		writeError(w, http.StatusBadRequest, "message is not in trash")
	default:
		s.logger.Error(r.Context(), "Request failed", "path", r.URL.Path, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := s.users.Register(r.Context(), &services.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	token, user, err := s.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"user":         toUserResponse(user),
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetUser(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	user, err := s.users.UpdateProfile(r.Context(), userIDFromContext(r.Context()), &services.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleFolder(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 0 {
		page = 0
	}

	var (
		result *models.MessagePage
		err    error
	)
	switch folder := r.PathValue("folder"); folder {
	case "inbox":
		result, err = s.mailbox.Inbox(r.Context(), userID, page)
	case "sent":
		result, err = s.mailbox.Sent(r.Context(), userID, page)
	case "drafts":
		result, err = s.mailbox.Drafts(r.Context(), userID, page)
	case "trash":
		result, err = s.mailbox.Trash(r.Context(), userID, page)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown folder %q", folder))
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPageResponse(result))
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.mailbox.UnreadCount(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": count})
}

// composeRequestFromMultipart reads the compose form: text fields plus any
// number of "attachments" file parts.
func composeRequestFromMultipart(r *http.Request) (*services.ComposeRequest, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, err
	}

	req := &services.ComposeRequest{
		DraftID:    r.FormValue("draft_id"),
		Recipients: r.FormValue("recipients"),
		Subject:    r.FormValue("subject"),
		Content:    r.FormValue("content"),
	}

	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["attachments"] {
			f, err := header.Open()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, err
			}
			req.Files = append(req.Files, &models.FileUpload{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}

	return req, nil
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	req, err := composeRequestFromMultipart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	sent, err := s.mailbox.Send(r.Context(), userIDFromContext(r.Context()), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	items := make([]*messageResponse, 0, len(sent))
	for _, m := range sent {
		items = append(items, toMessageResponse(m, false))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sent": items})
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	req, err := composeRequestFromMultipart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	draft, err := s.mailbox.SaveDraft(r.Context(), userIDFromContext(r.Context()), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(draft, true))
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, atts, err := s.mailbox.GetMessage(r.Context(), r.PathValue("id"), userIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := toMessageResponse(msg, true)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     resp,
		"attachments": toAttachmentResponses(atts),
	})
}

func (s *Server) handleTrash(w http.ResponseWriter, r *http.Request) {
	if err := s.mailbox.MoveToTrash(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if err := s.mailbox.RestoreFromTrash(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulkTrash(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs     []string `json:"ids"`
		Trashed bool     `json:"trashed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	count := s.mailbox.BulkSetTrashed(r.Context(), req.IDs, req.Trashed)
	writeJSON(w, http.StatusOK, map[string]int{"updated": count})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.mailbox.MarkAsRead(r.Context(), r.PathValue("id"), userIDFromContext(r.Context())); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkUnread(w http.ResponseWriter, r *http.Request) {
	if err := s.mailbox.MarkAsUnread(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleStar(w http.ResponseWriter, r *http.Request) {
	starred, err := s.mailbox.ToggleStar(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"starred": starred})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.mailbox.PermanentlyDelete(r.Context(), r.PathValue("id"), userIDFromContext(r.Context())); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEmptyTrash(w http.ResponseWriter, r *http.Request) {
	count, err := s.mailbox.EmptyTrash(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

// handleDownloadAttachment redirects to a presigned object storage URL, so
// payload bytes never pass through the API server. Access follows message
// access: the caller must be a party to the owning message.
func (s *Server) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	att, err := s.attachments.GetAttachment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if _, _, err := s.mailbox.GetMessage(r.Context(), att.MessageID, userIDFromContext(r.Context())); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	att, url, err := s.attachments.DownloadURL(r.Context(), att.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
	http.Redirect(w, r, url, http.StatusFound)
}
