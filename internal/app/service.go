package app

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"scribe/api/internal/access"
	"scribe/api/internal/attachments"
	"scribe/api/internal/auth"
	"scribe/api/internal/authpw"
	"scribe/api/internal/config"
	"scribe/api/internal/docs"
	"scribe/api/internal/export"
	"scribe/api/internal/mention"
	"scribe/api/internal/search"
	"scribe/api/internal/store"
	"scribe/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

const maxTitleLength = 200

type CreateDocumentInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Status  string   `json:"status"`
	Privacy string   `json:"privacy"`
	Tags    []string `json:"tags"`
}

// UpdateDocumentInput uses pointers so absent fields are left untouched.
type UpdateDocumentInput struct {
	Title   *string   `json:"title"`
	Content *string   `json:"content"`
	Status  *string   `json:"status"`
	Privacy *string   `json:"privacy"`
	Tags    *[]string `json:"tags"`
	Note    string    `json:"note"`
}

type GrantInput struct {
	UserID string `json:"userId"`
	Level  string `json:"level"`
}

type ListDocumentsInput struct {
	Status  string
	Privacy string
	Tag     string
	Limit   int
	Offset  int
}

type UploadAttachmentInput struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	FindUserByFragment(ctx context.Context, fragment string) (mention.ResolvedUser, bool, error)
	DeactivateUser(ctx context.Context, userID string) error

	InsertDocument(ctx context.Context, doc *docs.Document) error
	GetDocument(ctx context.Context, documentID string) (*docs.Document, error)
	SaveDocument(ctx context.Context, doc *docs.Document, expectedVersion int) error
	ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]*docs.Document, error)

	InsertAttachment(ctx context.Context, item store.Attachment) error
	ListAttachments(ctx context.Context, documentID string) ([]store.Attachment, error)
	GetAttachment(ctx context.Context, documentID, attachmentID string) (store.Attachment, error)

	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendMentionEmail(to, userName, mentionedBy, documentTitle, documentURL string) error
}

type blobStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// Deps carries the optional collaborators. Any of them may be nil; the
// service degrades to skipping that feature.
type Deps struct {
	Search   searcher
	Mail     mailer
	Blobs    blobStore
	Exporter *export.Service
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	search   searcher
	mail     mailer
	blobs    blobStore
	exporter *export.Service
}

func New(cfg config.Config, st dataStore, sessions sessionStore, authService *authpw.Service, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		authpw:   authService,
		search:   deps.Search,
		mail:     deps.Mail,
		blobs:    deps.Blobs,
		exporter: deps.Exporter,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AuthPasswordService exposes the email/password auth flows to the HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) UserByEmail(ctx context.Context, email string) (store.User, error) {
	return s.store.GetUserByEmail(ctx, email)
}

// CreateSession issues a fresh access/refresh token pair for a verified user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued. The user is re-read so role changes take effect here.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// CreateDocument builds a fresh document, shares it with everyone mentioned
// in the content, and indexes it for search.
func (s *Service) CreateDocument(ctx context.Context, session Session, input CreateDocumentInput) (*docs.Document, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "title is required", nil)
	}
	if len(title) > maxTitleLength {
		return nil, domainError(422, "VALIDATION_ERROR", "title is too long", map[string]any{"max": maxTitleLength})
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "content is required", nil)
	}
	status := input.Status
	if status == "" {
		status = docs.StatusDraft
	}
	if !docs.ValidStatus(status) {
		return nil, domainError(422, "VALIDATION_ERROR", "invalid status", map[string]any{"status": status})
	}
	privacy := input.Privacy
	if privacy == "" {
		privacy = access.PrivacyPrivate
	}
	if !docs.ValidPrivacy(privacy) {
		return nil, domainError(422, "VALIDATION_ERROR", "invalid privacy", map[string]any{"privacy": privacy})
	}

	now := time.Now()
	doc := docs.New(util.NewID("doc"), title, input.Content, status, privacy, normalizeTags(input.Tags), session.UserID, now)

	granted, err := s.processMentions(ctx, doc, session, now)
	if err != nil {
		return nil, err
	}

	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	s.indexDocument(doc)
	s.notifyMentions(doc, session, granted)
	return doc, nil
}

// GetDocument returns the document if the viewer may see it. viewerID may
// be empty for anonymous requests, which only reach public documents.
func (s *Service) GetDocument(ctx context.Context, viewerID, documentID string) (*docs.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !access.HasPermission(doc.Subject(), viewerID, access.LevelView) {
		if viewerID == "" {
			return nil, domainError(401, "UNAUTHENTICATED", "Sign in to access this document", nil)
		}
		return nil, domainError(403, "FORBIDDEN", "You do not have access to this document", nil)
	}
	return doc, nil
}

// UpdateDocument applies a partial update. A snapshot of the previous title
// and content is recorded before any title or content change, so history
// survives the overwrite. Concurrent writers lose with a version conflict.
func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, input UpdateDocumentInput) (*docs.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !access.HasPermission(doc.Subject(), session.UserID, access.LevelEdit) {
		return nil, domainError(403, "FORBIDDEN", "You do not have edit access to this document", nil)
	}

	if input.Title != nil {
		if strings.TrimSpace(*input.Title) == "" {
			return nil, domainError(422, "VALIDATION_ERROR", "title cannot be empty", nil)
		}
		if len(strings.TrimSpace(*input.Title)) > maxTitleLength {
			return nil, domainError(422, "VALIDATION_ERROR", "title is too long", map[string]any{"max": maxTitleLength})
		}
	}
	if input.Status != nil && !docs.ValidStatus(*input.Status) {
		return nil, domainError(422, "VALIDATION_ERROR", "invalid status", map[string]any{"status": *input.Status})
	}
	if input.Privacy != nil && !docs.ValidPrivacy(*input.Privacy) {
		return nil, domainError(422, "VALIDATION_ERROR", "invalid privacy", map[string]any{"privacy": *input.Privacy})
	}
	if input.Privacy != nil && *input.Privacy != doc.Privacy {
		if !access.HasPermission(doc.Subject(), session.UserID, access.LevelAdmin) && !access.IsPlatformAdmin(session.Role) {
			return nil, domainError(403, "FORBIDDEN", "Only document admins can change privacy", nil)
		}
	}

	now := time.Now()
	expected := doc.CurrentVersion

	contentChanged := input.Content != nil && *input.Content != doc.Content
	titleChanged := input.Title != nil && strings.TrimSpace(*input.Title) != doc.Title
	if contentChanged || titleChanged {
		doc.Snapshot(session.UserID, input.Note, now)
	}

	if input.Title != nil {
		doc.Title = strings.TrimSpace(*input.Title)
	}
	if input.Content != nil {
		doc.Content = *input.Content
	}
	if input.Status != nil {
		doc.Status = *input.Status
	}
	if input.Privacy != nil {
		doc.Privacy = *input.Privacy
	}
	if input.Tags != nil {
		doc.Tags = normalizeTags(*input.Tags)
	}
	doc.LastModifiedBy = session.UserID
	doc.UpdatedAt = now

	var granted []string
	if contentChanged {
		granted, err = s.processMentions(ctx, doc, session, now)
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveDocument(ctx, doc, expected); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, domainError(409, "VERSION_CONFLICT", "The document was modified by someone else; reload and retry", nil)
		}
		return nil, err
	}

	s.indexDocument(doc)
	s.notifyMentions(doc, session, granted)
	return doc, nil
}

// DeleteDocument soft-deletes. Only the author or a platform admin may do it.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.AuthorID != session.UserID && !access.IsPlatformAdmin(session.Role) {
		return domainError(403, "FORBIDDEN", "Only the author can delete this document", nil)
	}

	expected := doc.CurrentVersion
	doc.SoftDelete(time.Now())
	if err := s.store.SaveDocument(ctx, doc, expected); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteDocument(doc.ID)
	}
	return nil
}

// ListDocuments returns documents visible to the session user. Platform
// admins see everything.
func (s *Service) ListDocuments(ctx context.Context, session Session, input ListDocumentsInput) ([]*docs.Document, error) {
	filter := store.DocumentFilter{
		ViewerID:   session.UserID,
		IncludeAll: access.IsPlatformAdmin(session.Role),
		Status:     input.Status,
		Privacy:    input.Privacy,
		Tag:        input.Tag,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}
	return s.store.ListDocuments(ctx, filter)
}

// GrantCollaborator adds or updates a permission entry on the document.
func (s *Service) GrantCollaborator(ctx context.Context, session Session, documentID string, input GrantInput) (*docs.Document, error) {
	level, ok := access.ParseLevel(input.Level)
	if !ok {
		return nil, domainError(422, "VALIDATION_ERROR", "invalid permission level", map[string]any{"level": input.Level})
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !s.canManagePermissions(doc, session) {
		return nil, domainError(403, "FORBIDDEN", "Only document admins can manage collaborators", nil)
	}
	if input.UserID == doc.AuthorID {
		return nil, domainError(422, "VALIDATION_ERROR", "the author already has full access", nil)
	}
	if _, err := s.store.GetUserByID(ctx, input.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainError(404, "NOT_FOUND", "User not found", nil)
		}
		return nil, err
	}

	expected := doc.CurrentVersion
	doc.Grant(input.UserID, level, session.UserID, time.Now())
	if err := s.store.SaveDocument(ctx, doc, expected); err != nil {
		return nil, err
	}
	s.indexDocument(doc)
	return doc, nil
}

// RevokeCollaborator removes a permission entry. Revoking a user who holds
// no entry is a no-op, not an error.
func (s *Service) RevokeCollaborator(ctx context.Context, session Session, documentID, userID string) (*docs.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !s.canManagePermissions(doc, session) {
		return nil, domainError(403, "FORBIDDEN", "Only document admins can manage collaborators", nil)
	}

	expected := doc.CurrentVersion
	doc.Revoke(userID)
	if err := s.store.SaveDocument(ctx, doc, expected); err != nil {
		return nil, err
	}
	s.indexDocument(doc)
	return doc, nil
}

// Only the author or a platform admin may manage collaborators. A
// document-level admin grant confers full content access, not the right to
// hand out access to others.
func (s *Service) canManagePermissions(doc *docs.Document, session Session) bool {
	return doc.AuthorID == session.UserID || access.IsPlatformAdmin(session.Role)
}

// ListVersions returns the document's history, oldest first.
func (s *Service) ListVersions(ctx context.Context, viewerID, documentID string) ([]docs.Version, error) {
	doc, err := s.GetDocument(ctx, viewerID, documentID)
	if err != nil {
		return nil, err
	}
	versions := make([]docs.Version, len(doc.Versions))
	copy(versions, doc.Versions)
	sort.Slice(versions, func(i, j int) bool { return versions[i].VersionNumber < versions[j].VersionNumber })
	return versions, nil
}

// ExportDocument renders the requested version. version 0 means current.
func (s *Service) ExportDocument(ctx context.Context, viewerID, documentID string, version int, format export.Format) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	if !export.ValidFormat(format) {
		return nil, domainError(422, "VALIDATION_ERROR", "invalid export format", map[string]any{"format": format})
	}
	doc, err := s.GetDocument(ctx, viewerID, documentID)
	if err != nil {
		return nil, err
	}

	title, content := doc.Title, doc.Content
	versionNumber := doc.CurrentVersion
	if version != 0 && version != doc.CurrentVersion {
		// Entry N+1 preserves what version N looked like before the edit.
		found := false
		for _, v := range doc.Versions {
			if v.VersionNumber == version+1 {
				title, content, versionNumber = v.Title, v.Content, version
				found = true
				break
			}
		}
		if !found {
			return nil, domainError(404, "NOT_FOUND", "Version not found", nil)
		}
	}

	authorName := doc.AuthorID
	if author, err := s.store.GetUserByID(ctx, doc.AuthorID); err == nil {
		authorName = author.DisplayName
	}

	return s.exporter.Export(export.Document{
		ID:        doc.ID,
		Title:     title,
		Content:   content,
		Status:    doc.Status,
		Tags:      doc.Tags,
		Author:    authorName,
		Version:   versionNumber,
		UpdatedAt: doc.UpdatedAt,
	}, format)
}

// UploadAttachment stores the bytes in object storage and the metadata in
// the database. Edit access is required.
func (s *Service) UploadAttachment(ctx context.Context, session Session, documentID string, input UploadAttachmentInput) (store.Attachment, error) {
	if s.blobs == nil {
		return store.Attachment{}, domainError(503, "ATTACHMENTS_UNAVAILABLE", "Attachment storage is not configured", nil)
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Attachment{}, err
	}
	if !access.HasPermission(doc.Subject(), session.UserID, access.LevelEdit) {
		return store.Attachment{}, domainError(403, "FORBIDDEN", "You do not have edit access to this document", nil)
	}
	if input.FileName == "" {
		return store.Attachment{}, domainError(422, "VALIDATION_ERROR", "file name is required", nil)
	}

	key := attachments.ObjectKey(doc.ID, input.FileName)
	if err := s.blobs.Upload(ctx, key, input.Body, input.Size, input.ContentType); err != nil {
		return store.Attachment{}, err
	}

	item := store.Attachment{
		ID:          util.NewID("att"),
		DocumentID:  doc.ID,
		FileName:    input.FileName,
		ContentType: input.ContentType,
		Size:        input.Size,
		ObjectKey:   key,
		UploadedBy:  session.UserID,
		CreatedAt:   time.Now(),
	}
	if err := s.store.InsertAttachment(ctx, item); err != nil {
		return store.Attachment{}, err
	}
	return item, nil
}

// ListAttachments requires view access.
func (s *Service) ListAttachments(ctx context.Context, viewerID, documentID string) ([]store.Attachment, error) {
	if _, err := s.GetDocument(ctx, viewerID, documentID); err != nil {
		return nil, err
	}
	return s.store.ListAttachments(ctx, documentID)
}

// DownloadAttachment opens the stored bytes. View access is required.
func (s *Service) DownloadAttachment(ctx context.Context, viewerID, documentID, attachmentID string) (store.Attachment, io.ReadCloser, error) {
	if s.blobs == nil {
		return store.Attachment{}, nil, domainError(503, "ATTACHMENTS_UNAVAILABLE", "Attachment storage is not configured", nil)
	}
	if _, err := s.GetDocument(ctx, viewerID, documentID); err != nil {
		return store.Attachment{}, nil, err
	}
	item, err := s.store.GetAttachment(ctx, documentID, attachmentID)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	reader, err := s.blobs.Download(ctx, item.ObjectKey)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	return item, reader, nil
}

// Search queries the search backend scoped to the viewer.
func (s *Service) Search(ctx context.Context, viewerID, text string, limit int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(ctx, search.Query{Text: text, ViewerID: viewerID, Limit: limit}), nil
}

// DeleteUser deactivates an account. The user themself or a platform admin
// may do it. Authored documents are soft-deleted and their permission
// entries stripped in the same transaction.
func (s *Service) DeleteUser(ctx context.Context, session Session, userID string) error {
	if session.UserID != userID && !access.IsPlatformAdmin(session.Role) {
		return domainError(403, "FORBIDDEN", "You cannot delete another user's account", nil)
	}

	// Sweep every document the user touches before deactivation removes
	// their footprint: authored documents get de-indexed, documents where
	// they only held a permission get re-indexed without them.
	var authoredIDs, sharedIDs []string
	if s.search != nil {
		const pageSize = 100
		for offset := 0; ; offset += pageSize {
			batch, err := s.store.ListDocuments(ctx, store.DocumentFilter{ViewerID: userID, Limit: pageSize, Offset: offset})
			if err != nil {
				log.Printf("delete user: list documents for %s: %v", userID, err)
				break
			}
			for _, doc := range batch {
				if doc.AuthorID == userID {
					authoredIDs = append(authoredIDs, doc.ID)
				} else if _, ok := doc.Permissions[userID]; ok {
					sharedIDs = append(sharedIDs, doc.ID)
				}
			}
			if len(batch) < pageSize {
				break
			}
		}
	}

	if err := s.store.DeactivateUser(ctx, userID); err != nil {
		return err
	}
	for _, id := range authoredIDs {
		s.search.DeleteDocument(id)
	}
	for _, id := range sharedIDs {
		doc, err := s.store.GetDocument(ctx, id)
		if err != nil {
			log.Printf("delete user: reload %s for reindex: %v", id, err)
			continue
		}
		s.indexDocument(doc)
	}
	return nil
}

// processMentions extracts @tokens from the document content, resolves them
// to users, and grants view access to anyone mentioned for the first time.
// Returns the newly granted user IDs.
func (s *Service) processMentions(ctx context.Context, doc *docs.Document, session Session, now time.Time) ([]string, error) {
	tokens := mention.Extract(doc.Content)
	if len(tokens) == 0 {
		return nil, nil
	}
	resolved, err := mention.Resolve(ctx, tokens, s.store)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resolved))
	for _, user := range resolved {
		ids = append(ids, user.ID)
	}
	return doc.ApplyMentions(ids, session.UserID, now), nil
}

func (s *Service) indexDocument(doc *docs.Document) {
	if s.search == nil || doc.IsDeleted {
		return
	}
	allowed := append([]string{doc.AuthorID}, doc.Collaborators()...)
	s.search.IndexDocument(search.DocumentRecord{
		ID:             doc.ID,
		Title:          doc.Title,
		Content:        doc.Content,
		Status:         doc.Status,
		Privacy:        doc.Privacy,
		Tags:           doc.Tags,
		AuthorID:       doc.AuthorID,
		AllowedUserIDs: allowed,
		UpdatedAt:      doc.UpdatedAt.Format(time.RFC3339),
	})
}

// SendVerificationEmail mails the account activation link in the background.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/verify-email?token=" + token
	go func() {
		if err := s.mail.SendVerificationEmail(to, userName, url); err != nil {
			log.Printf("verification email: send to %s: %v", to, err)
		}
	}()
}

// SendPasswordResetEmail mails the reset link in the background.
func (s *Service) SendPasswordResetEmail(to, userName, token string) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/reset-password?token=" + token
	go func() {
		if err := s.mail.SendPasswordResetEmail(to, userName, url); err != nil {
			log.Printf("password reset email: send to %s: %v", to, err)
		}
	}()
}

// notifyMentions emails newly mentioned users in the background. Failures
// are logged and never affect the request.
func (s *Service) notifyMentions(doc *docs.Document, session Session, grantedIDs []string) {
	if s.mail == nil || !s.mail.IsConfigured() || len(grantedIDs) == 0 {
		return
	}
	documentURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/documents/" + doc.ID
	title := doc.Title
	mentionedBy := session.UserName

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, userID := range grantedIDs {
			user, err := s.store.GetUserByID(ctx, userID)
			if err != nil {
				log.Printf("mention email: lookup %s: %v", userID, err)
				continue
			}
			if err := s.mail.SendMentionEmail(user.Email, user.DisplayName, mentionedBy, title, documentURL); err != nil {
				log.Printf("mention email: send to %s: %v", user.Email, err)
			}
		}
	}()
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
