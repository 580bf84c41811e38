package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scribe/api/internal/auth"
	"scribe/api/internal/authpw"
	"scribe/api/internal/docs"
	"scribe/api/internal/export"
	"scribe/api/internal/store"
)

const maxUploadBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/users/me" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"userId":      session.UserID,
			"displayName": session.UserName,
			"email":       session.Email,
			"role":        session.Role,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "users" {
		if r.Method == http.MethodDelete && len(parts) == 3 {
			session, ok := s.requireSession(w, r)
			if !ok {
				return
			}
			if err := s.service.DeleteUser(r.Context(), session, parts[2]); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocuments(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleDocuments routes everything under /api/documents.
func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		s.handleListDocuments(w, r)
	case len(rest) == 0 && r.Method == http.MethodPost:
		s.handleCreateDocument(w, r)
	case len(rest) == 1 && r.Method == http.MethodGet:
		s.handleGetDocument(w, r, rest[0])
	case len(rest) == 1 && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		s.handleUpdateDocument(w, r, rest[0])
	case len(rest) == 1 && r.Method == http.MethodDelete:
		s.handleDeleteDocument(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "versions" && r.Method == http.MethodGet:
		s.handleListVersions(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "permissions" && r.Method == http.MethodGet:
		s.handleListCollaborators(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "permissions" && r.Method == http.MethodPost:
		s.handleGrantPermission(w, r, rest[0])
	case len(rest) == 3 && rest[1] == "permissions" && r.Method == http.MethodDelete:
		s.handleRevokePermission(w, r, rest[0], rest[2])
	case len(rest) == 2 && rest[1] == "export" && r.Method == http.MethodGet:
		s.handleExportDocument(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "attachments" && r.Method == http.MethodGet:
		s.handleListAttachments(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "attachments" && r.Method == http.MethodPost:
		s.handleUploadAttachment(w, r, rest[0])
	case len(rest) == 3 && rest[1] == "attachments" && r.Method == http.MethodGet:
		s.handleDownloadAttachment(w, r, rest[0], rest[2])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	documents, err := s.service.ListDocuments(r.Context(), session, ListDocumentsInput{
		Status:  query.Get("status"),
		Privacy: query.Get("privacy"),
		Tag:     query.Get("tag"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, documentSummary(doc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": items})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var input CreateDocumentInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), session, input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, documentResponse(doc))
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	viewerID := s.optionalViewer(r)
	doc, err := s.service.GetDocument(r.Context(), viewerID, documentID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse(doc))
}

func (s *HTTPServer) handleUpdateDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var input UpdateDocumentInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.UpdateDocument(r.Context(), session, documentID, input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse(doc))
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteDocument(r.Context(), session, documentID); err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request, documentID string) {
	viewerID := s.optionalViewer(r)
	versions, err := s.service.ListVersions(r.Context(), viewerID, documentID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, map[string]any{
			"versionNumber": v.VersionNumber,
			"title":         v.Title,
			"content":       v.Content,
			"changedBy":     v.ChangedBy,
			"changedAt":     v.ChangedAt,
			"note":          v.Note,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": items})
}

func (s *HTTPServer) handleListCollaborators(w http.ResponseWriter, r *http.Request, documentID string) {
	viewerID := s.optionalViewer(r)
	doc, err := s.service.GetDocument(r.Context(), viewerID, documentID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collaborators": doc.Collaborators(),
		"permissions":   permissionsResponse(doc),
	})
}

func (s *HTTPServer) handleGrantPermission(w http.ResponseWriter, r *http.Request, documentID string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var input GrantInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.GrantCollaborator(r.Context(), session, documentID, input)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collaborators": doc.Collaborators(),
		"permissions":   permissionsResponse(doc),
	})
}

func (s *HTTPServer) handleRevokePermission(w http.ResponseWriter, r *http.Request, documentID, userID string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	doc, err := s.service.RevokeCollaborator(r.Context(), session, documentID, userID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collaborators": doc.Collaborators(),
		"permissions":   permissionsResponse(doc),
	})
}

func (s *HTTPServer) handleExportDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	viewerID := s.optionalViewer(r)
	query := r.URL.Query()
	format := export.Format(query.Get("format"))
	if format == "" {
		format = export.FormatPDF
	}
	version := 0
	if raw := query.Get("version"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version must be a positive integer", nil)
			return
		}
		version = parsed
	}

	result, err := s.service.ExportDocument(r.Context(), viewerID, documentID, version, format)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleListAttachments(w http.ResponseWriter, r *http.Request, documentID string) {
	viewerID := s.optionalViewer(r)
	items, err := s.service.ListAttachments(r.Context(), viewerID, documentID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, attachmentResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": payload})
}

func (s *HTTPServer) handleUploadAttachment(w http.ResponseWriter, r *http.Request, documentID string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form with a file field", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
		return
	}
	defer file.Close()

	item, err := s.service.UploadAttachment(r.Context(), session, documentID, UploadAttachmentInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attachmentResponse(item))
}

func (s *HTTPServer) handleDownloadAttachment(w http.ResponseWriter, r *http.Request, documentID, attachmentID string) {
	viewerID := s.optionalViewer(r)
	item, reader, err := s.service.DownloadAttachment(r.Context(), viewerID, documentID, attachmentID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", item.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", item.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	viewerID := s.optionalViewer(r)
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	resp, err := s.service.Search(r.Context(), viewerID, query.Get("q"), limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	response := map[string]any{
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	if s.service.SMTPConfigured() {
		s.service.SendVerificationEmail(body.Email, body.DisplayName, resp.VerificationToken)
	} else {
		// Dev bypass: surface the token when no mailer is wired up.
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}

	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := authSvc.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailNotVerified) {
			writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
			return
		}
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	_, token, _ := authSvc.RequestPasswordReset(r.Context(), body.Email)

	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if token != "" {
		if s.service.SMTPConfigured() {
			if user, err := s.service.UserByEmail(r.Context(), body.Email); err == nil {
				s.service.SendPasswordResetEmail(user.Email, user.DisplayName, token)
			}
		} else {
			response["devResetToken"] = token
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

// requireSession rejects the request unless a valid bearer token is present.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// optionalViewer returns the session user ID, or "" for anonymous requests.
func (s *HTTPServer) optionalViewer(r *http.Request) string {
	token := bearerToken(r)
	if token == "" {
		return ""
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return ""
	}
	return session.UserID
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func documentSummary(doc *docs.Document) map[string]any {
	return map[string]any{
		"id":             doc.ID,
		"title":          doc.Title,
		"status":         doc.Status,
		"privacy":        doc.Privacy,
		"tags":           doc.Tags,
		"authorId":       doc.AuthorID,
		"lastModifiedBy": doc.LastModifiedBy,
		"currentVersion": doc.CurrentVersion,
		"collaborators":  doc.Collaborators(),
		"updatedAt":      doc.UpdatedAt,
	}
}

func documentResponse(doc *docs.Document) map[string]any {
	payload := documentSummary(doc)
	payload["content"] = doc.Content
	payload["permissions"] = permissionsResponse(doc)
	payload["createdAt"] = doc.CreatedAt
	return payload
}

func permissionsResponse(doc *docs.Document) map[string]any {
	payload := make(map[string]any, len(doc.Permissions))
	for userID, p := range doc.Permissions {
		payload[userID] = map[string]any{
			"level":     p.Level.String(),
			"grantedBy": p.GrantedBy,
			"grantedAt": p.GrantedAt,
		}
	}
	return payload
}

func attachmentResponse(item store.Attachment) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"documentId":  item.DocumentID,
		"fileName":    item.FileName,
		"contentType": item.ContentType,
		"size":        item.Size,
		"uploadedBy":  item.UploadedBy,
		"createdAt":   item.CreatedAt,
	}
}

func sessionResponse(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrVersionConflict) {
		return http.StatusConflict, "VERSION_CONFLICT", "The document was modified by someone else; reload and retry", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
