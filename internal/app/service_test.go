package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"scribe/api/internal/access"
	"scribe/api/internal/config"
	"scribe/api/internal/docs"
	"scribe/api/internal/export"
	"scribe/api/internal/mention"
	"scribe/api/internal/search"
	"scribe/api/internal/store"
)

type fakeStore struct {
	users       map[string]store.User
	documents   map[string]*docs.Document
	attachments map[string]store.Attachment
	revokedJTI  map[string]bool
	deactivated map[string]bool

	saveDocumentFn func(context.Context, *docs.Document, int) error
	getDocumentFn  func(context.Context, string) (*docs.Document, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]store.User),
		documents:   make(map[string]*docs.Document),
		attachments: make(map[string]store.Attachment),
		revokedJTI:  make(map[string]bool),
		deactivated: make(map[string]bool),
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	user, ok := f.users[userID]
	if !ok || f.deactivated[userID] {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, user := range f.users {
		if user.Email == email && !f.deactivated[user.ID] {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) FindUserByFragment(_ context.Context, fragment string) (mention.ResolvedUser, bool, error) {
	fragment = strings.ToLower(fragment)
	var matches []store.User
	for _, user := range f.users {
		if f.deactivated[user.ID] {
			continue
		}
		if strings.HasPrefix(strings.ToLower(user.DisplayName), fragment) ||
			strings.HasPrefix(strings.ToLower(user.Email), fragment) {
			matches = append(matches, user)
		}
	}
	if len(matches) == 0 {
		return mention.ResolvedUser{}, false, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := strings.ToLower(matches[i].DisplayName), strings.ToLower(matches[j].DisplayName)
		if a != b {
			return a < b
		}
		return matches[i].ID < matches[j].ID
	})
	winner := matches[0]
	return mention.ResolvedUser{ID: winner.ID, DisplayName: winner.DisplayName, Email: winner.Email}, true, nil
}

func (f *fakeStore) DeactivateUser(_ context.Context, userID string) error {
	if _, ok := f.users[userID]; !ok || f.deactivated[userID] {
		return store.ErrNotFound
	}
	f.deactivated[userID] = true
	for _, doc := range f.documents {
		if doc.AuthorID == userID {
			doc.IsDeleted = true
		}
		delete(doc.Permissions, userID)
	}
	return nil
}

func (f *fakeStore) InsertDocument(_ context.Context, doc *docs.Document) error {
	f.documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (f *fakeStore) GetDocument(ctx context.Context, documentID string) (*docs.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, documentID)
	}
	doc, ok := f.documents[documentID]
	if !ok || doc.IsDeleted {
		return nil, store.ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (f *fakeStore) SaveDocument(ctx context.Context, doc *docs.Document, expectedVersion int) error {
	if f.saveDocumentFn != nil {
		return f.saveDocumentFn(ctx, doc, expectedVersion)
	}
	current, ok := f.documents[doc.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.CurrentVersion != expectedVersion {
		return store.ErrVersionConflict
	}
	f.documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (f *fakeStore) ListDocuments(_ context.Context, filter store.DocumentFilter) ([]*docs.Document, error) {
	var out []*docs.Document
	for _, doc := range f.documents {
		if doc.IsDeleted {
			continue
		}
		if !filter.IncludeAll {
			visible := doc.Privacy == access.PrivacyPublic || doc.AuthorID == filter.ViewerID
			if _, ok := doc.Permissions[filter.ViewerID]; ok {
				visible = true
			}
			if !visible {
				continue
			}
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		out = append(out, cloneDocument(doc))
	}
	// Same limit clamping and paging as the Postgres store.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []*docs.Document{}, nil
	}
	if end := offset + limit; end < len(out) {
		out = out[:end]
	}
	return out[offset:], nil
}

func (f *fakeStore) InsertAttachment(_ context.Context, item store.Attachment) error {
	f.attachments[item.ID] = item
	return nil
}

func (f *fakeStore) ListAttachments(_ context.Context, documentID string) ([]store.Attachment, error) {
	var out []store.Attachment
	for _, item := range f.attachments {
		if item.DocumentID == documentID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAttachment(_ context.Context, documentID, attachmentID string) (store.Attachment, error) {
	item, ok := f.attachments[attachmentID]
	if !ok || item.DocumentID != documentID {
		return store.Attachment{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.revokedJTI[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	return f.revokedJTI[jti], nil
}

func cloneDocument(doc *docs.Document) *docs.Document {
	clone := *doc
	clone.Tags = append([]string(nil), doc.Tags...)
	clone.Versions = append([]docs.Version(nil), doc.Versions...)
	clone.Permissions = make(map[string]docs.Permission, len(doc.Permissions))
	for k, v := range doc.Permissions {
		clone.Permissions[k] = v
	}
	clone.Mentions = make(map[string]time.Time, len(doc.Mentions))
	for k, v := range doc.Mentions {
		clone.Mentions[k] = v
	}
	return &clone
}

type fakeSessions struct {
	refresh map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: make(map[string]string)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return store.User{ID: userID}, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.refresh, tokenHash)
	return nil
}

type fakeSearch struct {
	indexed []search.DocumentRecord
	deleted []string
}

func (f *fakeSearch) Search(context.Context, search.Query) search.Response {
	return search.Response{Results: []search.Result{}}
}
func (f *fakeSearch) IndexDocument(doc search.DocumentRecord) { f.indexed = append(f.indexed, doc) }
func (f *fakeSearch) DeleteDocument(id string)                { f.deleted = append(f.deleted, id) }

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		BaseURL:    "http://localhost:3000",
	}
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeSearch) {
	t.Helper()
	st := newFakeStore()
	st.users["usr_author"] = store.User{ID: "usr_author", DisplayName: "Avery", Email: "avery@example.com", Role: "user"}
	st.users["usr_alice"] = store.User{ID: "usr_alice", DisplayName: "alice", Email: "alice@example.com", Role: "user"}
	st.users["usr_bob"] = store.User{ID: "usr_bob", DisplayName: "bob", Email: "bob@example.com", Role: "user"}
	st.users["usr_admin"] = store.User{ID: "usr_admin", DisplayName: "Morgan", Email: "morgan@example.com", Role: "admin"}
	sv := &fakeSearch{}
	service := New(testConfig(), st, newFakeSessions(), nil, Deps{Search: sv, Exporter: export.NewService()})
	return service, st, sv
}

func sessionFor(userID, name, role string) Session {
	return Session{UserID: userID, UserName: name, Role: role}
}

func TestCreateDocumentSharesWithMentionedUsers(t *testing.T) {
	service, st, sv := newTestService(t)
	ctx := context.Background()

	doc, err := service.CreateDocument(ctx, sessionFor("usr_author", "Avery", "user"), CreateDocumentInput{
		Title:   "Welcome",
		Content: "Welcome @alice and @bob to the project.",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	saved := st.documents[doc.ID]
	for _, userID := range []string{"usr_alice", "usr_bob"} {
		entry, ok := saved.Permissions[userID]
		if !ok {
			t.Fatalf("expected %s to be granted access", userID)
		}
		if entry.Level != access.LevelView {
			t.Errorf("%s level = %v, want view", userID, entry.Level)
		}
		if _, ok := saved.Mentions[userID]; !ok {
			t.Errorf("expected mention record for %s", userID)
		}
	}

	if len(sv.indexed) != 1 {
		t.Fatalf("expected 1 index call, got %d", len(sv.indexed))
	}
	allowed := sv.indexed[0].AllowedUserIDs
	if len(allowed) != 3 {
		t.Errorf("indexed allowedUserIds = %v, want author plus two collaborators", allowed)
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	cases := []struct {
		name  string
		input CreateDocumentInput
	}{
		{"missing title", CreateDocumentInput{Content: "body"}},
		{"blank title", CreateDocumentInput{Title: "   ", Content: "body"}},
		{"long title", CreateDocumentInput{Title: strings.Repeat("x", 201), Content: "body"}},
		{"missing content", CreateDocumentInput{Title: "Plan"}},
		{"bad status", CreateDocumentInput{Title: "Plan", Content: "body", Status: "frozen"}},
		{"bad privacy", CreateDocumentInput{Title: "Plan", Content: "body", Privacy: "secret"}},
	}
	for _, tc := range cases {
		_, err := service.CreateDocument(ctx, author, tc.input)
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 422 {
			t.Errorf("%s: expected 422 DomainError, got %v", tc.name, err)
		}
	}
}

func TestPrivateDocumentAccess(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	doc, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Secret", Content: "internal notes"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if _, err := service.GetDocument(ctx, "usr_alice", doc.ID); err == nil {
		t.Fatal("expected forbidden for non-collaborator on private document")
	} else {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 403 {
			t.Fatalf("expected 403 DomainError, got %v", err)
		}
	}

	if _, err := service.GrantCollaborator(ctx, author, doc.ID, GrantInput{UserID: "usr_alice", Level: "view"}); err != nil {
		t.Fatalf("GrantCollaborator: %v", err)
	}
	if _, err := service.GetDocument(ctx, "usr_alice", doc.ID); err != nil {
		t.Fatalf("expected access after grant, got %v", err)
	}

	// Anonymous viewers still reach public documents only.
	if _, err := service.GetDocument(ctx, "", doc.ID); err == nil {
		t.Fatal("expected forbidden for anonymous viewer on private document")
	}
}

func TestUpdateRecordsVersionHistory(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	doc, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Plan", Content: "v1 content"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	newContent := "v2 content"
	updated, err := service.UpdateDocument(ctx, author, doc.ID, UpdateDocumentInput{Content: &newContent, Note: "expanded"})
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	if updated.CurrentVersion != 2 {
		t.Errorf("current version = %d, want 2", updated.CurrentVersion)
	}
	if len(updated.Versions) != 1 {
		t.Fatalf("versions = %d, want 1", len(updated.Versions))
	}
	snapshot := updated.Versions[0]
	if snapshot.VersionNumber != 2 {
		t.Errorf("snapshot version = %d, want 2", snapshot.VersionNumber)
	}
	if snapshot.Content != "v1 content" {
		t.Errorf("snapshot content = %q, want the pre-edit content", snapshot.Content)
	}
	if snapshot.Note != "expanded" {
		t.Errorf("snapshot note = %q", snapshot.Note)
	}
	if st.documents[doc.ID].Content != "v2 content" {
		t.Error("saved document should carry the new content")
	}
}

func TestUpdateVersionConflict(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	doc, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Plan", Content: "first"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	st.saveDocumentFn = func(context.Context, *docs.Document, int) error {
		return store.ErrVersionConflict
	}
	title := "Renamed"
	_, err = service.UpdateDocument(ctx, author, doc.ID, UpdateDocumentInput{Title: &title})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 409 {
		t.Fatalf("expected 409 DomainError, got %v", err)
	}
}

func TestUpdateRequiresEditAccess(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	doc, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Plan", Content: "first"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := service.GrantCollaborator(ctx, author, doc.ID, GrantInput{UserID: "usr_alice", Level: "view"}); err != nil {
		t.Fatalf("GrantCollaborator: %v", err)
	}

	content := "changed"
	_, err = service.UpdateDocument(ctx, sessionFor("usr_alice", "alice", "user"), doc.ID, UpdateDocumentInput{Content: &content})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for view-only collaborator, got %v", err)
	}
}

func TestPrivacyChangeRequiresAdminLevel(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	doc, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Plan", Content: "body"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := service.GrantCollaborator(ctx, author, doc.ID, GrantInput{UserID: "usr_bob", Level: "edit"}); err != nil {
		t.Fatalf("GrantCollaborator: %v", err)
	}

	public := access.PrivacyPublic
	_, err = service.UpdateDocument(ctx, sessionFor("usr_bob", "bob", "user"), doc.ID, UpdateDocumentInput{Privacy: &public})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for editor changing privacy, got %v", err)
	}

	if _, err := service.UpdateDocument(ctx, author, doc.ID, UpdateDocumentInput{Privacy: &public}); err != nil {
		t.Fatalf("author should be able to change privacy: %v", err)
	}
}

func TestMentionOnUpdateNeverDowngrades(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	doc, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Plan", Content: "plain"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := service.GrantCollaborator(ctx, author, doc.ID, GrantInput{UserID: "usr_alice", Level: "edit"}); err != nil {
		t.Fatalf("GrantCollaborator: %v", err)
	}

	content := "ping @alice again"
	if _, err := service.UpdateDocument(ctx, author, doc.ID, UpdateDocumentInput{Content: &content}); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	entry := st.documents[doc.ID].Permissions["usr_alice"]
	if entry.Level != access.LevelEdit {
		t.Errorf("mention downgraded alice to %v, want edit retained", entry.Level)
	}
}

func TestDeleteDocumentAuthorOrPlatformAdmin(t *testing.T) {
	service, st, sv := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	doc, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Plan", Content: "body"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	err = service.DeleteDocument(ctx, sessionFor("usr_bob", "bob", "user"), doc.ID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for non-author delete, got %v", err)
	}

	if err := service.DeleteDocument(ctx, sessionFor("usr_admin", "Morgan", "admin"), doc.ID); err != nil {
		t.Fatalf("platform admin delete: %v", err)
	}
	if !st.documents[doc.ID].IsDeleted {
		t.Error("document should be soft-deleted")
	}
	if len(sv.deleted) != 1 || sv.deleted[0] != doc.ID {
		t.Errorf("expected search delete for %s, got %v", doc.ID, sv.deleted)
	}

	if _, err := service.GetDocument(ctx, "usr_author", doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted document should be gone, got %v", err)
	}
}

func TestRevokeCollaboratorIsIdempotent(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	doc, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Plan", Content: "body"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := service.GrantCollaborator(ctx, author, doc.ID, GrantInput{UserID: "usr_alice", Level: "view"}); err != nil {
		t.Fatalf("GrantCollaborator: %v", err)
	}
	if _, err := service.RevokeCollaborator(ctx, author, doc.ID, "usr_alice"); err != nil {
		t.Fatalf("RevokeCollaborator: %v", err)
	}
	if _, err := service.RevokeCollaborator(ctx, author, doc.ID, "usr_alice"); err != nil {
		t.Fatalf("second revoke should be a no-op, got %v", err)
	}
	if _, ok := st.documents[doc.ID].Permissions["usr_alice"]; ok {
		t.Error("permission entry should be gone")
	}
}

func TestGrantValidations(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	doc, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Plan", Content: "body"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	cases := []struct {
		name   string
		input  GrantInput
		status int
	}{
		{"bad level", GrantInput{UserID: "usr_alice", Level: "owner"}, 422},
		{"author target", GrantInput{UserID: "usr_author", Level: "view"}, 422},
		{"unknown user", GrantInput{UserID: "usr_ghost", Level: "view"}, 404},
	}
	for _, tc := range cases {
		_, err := service.GrantCollaborator(ctx, author, doc.ID, tc.input)
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != tc.status {
			t.Errorf("%s: expected %d DomainError, got %v", tc.name, tc.status, err)
		}
	}
}

func TestManageCollaboratorsAuthorOrPlatformAdmin(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	doc, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Plan", Content: "body"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := service.GrantCollaborator(ctx, author, doc.ID, GrantInput{UserID: "usr_alice", Level: "admin"}); err != nil {
		t.Fatalf("GrantCollaborator: %v", err)
	}

	// An admin-level grant gives full content access, not the right to
	// share the document with others.
	_, err = service.GrantCollaborator(ctx, sessionFor("usr_alice", "alice", "user"), doc.ID, GrantInput{UserID: "usr_bob", Level: "view"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for non-author grant, got %v", err)
	}
	_, err = service.RevokeCollaborator(ctx, sessionFor("usr_alice", "alice", "user"), doc.ID, "usr_alice")
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for non-author revoke, got %v", err)
	}

	if _, err := service.GrantCollaborator(ctx, sessionFor("usr_admin", "Morgan", "admin"), doc.ID, GrantInput{UserID: "usr_bob", Level: "view"}); err != nil {
		t.Fatalf("platform admin grant: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	service, st, _ := newTestService(t)
	ctx := context.Background()

	session, err := service.CreateSession(ctx, "usr_author")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	parsed, err := service.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != "usr_author" || parsed.UserName != "Avery" {
		t.Errorf("parsed session = %+v", parsed)
	}

	refreshed, err := service.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.Token == session.Token {
		t.Error("refresh should mint a new access token")
	}
	if _, err := service.Refresh(ctx, session.RefreshToken); err == nil {
		t.Error("old refresh token should be single-use")
	}

	if err := service.Logout(ctx, refreshed, refreshed.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !st.revokedJTI[refreshed.JTI] {
		t.Error("logout should revoke the access token")
	}
	if _, err := service.SessionFromToken(ctx, refreshed.Token); err == nil {
		t.Error("revoked access token should be rejected")
	}
}

func TestDeleteUserCascades(t *testing.T) {
	service, st, sv := newTestService(t)
	ctx := context.Background()
	alice := sessionFor("usr_alice", "alice", "user")

	doc, err := service.CreateDocument(ctx, alice, CreateDocumentInput{Title: "Mine", Content: "body"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	other, err := service.CreateDocument(ctx, sessionFor("usr_author", "Avery", "user"), CreateDocumentInput{Title: "Shared", Content: "body"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := service.GrantCollaborator(ctx, sessionFor("usr_author", "Avery", "user"), other.ID, GrantInput{UserID: "usr_alice", Level: "edit"}); err != nil {
		t.Fatalf("GrantCollaborator: %v", err)
	}

	if err := service.DeleteUser(ctx, sessionFor("usr_bob", "bob", "user"), "usr_alice"); err == nil {
		t.Fatal("expected forbidden for unrelated user")
	}
	if err := service.DeleteUser(ctx, alice, "usr_alice"); err != nil {
		t.Fatalf("self delete: %v", err)
	}

	if !st.deactivated["usr_alice"] {
		t.Error("user should be deactivated")
	}
	if !st.documents[doc.ID].IsDeleted {
		t.Error("authored document should be soft-deleted")
	}
	if _, ok := st.documents[other.ID].Permissions["usr_alice"]; ok {
		t.Error("permission entries for the deleted user should be stripped")
	}
	found := false
	for _, id := range sv.deleted {
		if id == doc.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("authored document should be dropped from the search index, got %v", sv.deleted)
	}
}

func TestDeleteUserSweepsWholeSearchIndex(t *testing.T) {
	service, _, sv := newTestService(t)
	ctx := context.Background()
	alice := sessionFor("usr_alice", "alice", "user")
	avery := sessionFor("usr_author", "Avery", "user")

	// More authored documents than one list page holds.
	var authored []string
	for i := 0; i < 25; i++ {
		doc, err := service.CreateDocument(ctx, alice, CreateDocumentInput{
			Title:   fmt.Sprintf("Note %02d", i),
			Content: "body",
		})
		if err != nil {
			t.Fatalf("CreateDocument %d: %v", i, err)
		}
		authored = append(authored, doc.ID)
	}

	shared, err := service.CreateDocument(ctx, avery, CreateDocumentInput{Title: "Shared", Content: "body"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := service.GrantCollaborator(ctx, avery, shared.ID, GrantInput{UserID: "usr_alice", Level: "edit"}); err != nil {
		t.Fatalf("GrantCollaborator: %v", err)
	}

	sv.indexed = nil
	if err := service.DeleteUser(ctx, sessionFor("usr_admin", "Morgan", "admin"), "usr_alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	deleted := make(map[string]bool, len(sv.deleted))
	for _, id := range sv.deleted {
		deleted[id] = true
	}
	for _, id := range authored {
		if !deleted[id] {
			t.Errorf("authored document %s should be dropped from the search index", id)
		}
	}

	if len(sv.indexed) != 1 || sv.indexed[0].ID != shared.ID {
		t.Fatalf("expected the shared document to be re-indexed, got %v", sv.indexed)
	}
	for _, id := range sv.indexed[0].AllowedUserIDs {
		if id == "usr_alice" {
			t.Error("re-indexed document should no longer allow the deleted user")
		}
	}
}

func TestListDocumentsScopedToViewer(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	if _, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Private", Content: "x"}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Public", Content: "x", Privacy: access.PrivacyPublic}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	visible, err := service.ListDocuments(ctx, sessionFor("usr_bob", "bob", "user"), ListDocumentsInput{})
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(visible) != 1 || visible[0].Title != "Public" {
		t.Errorf("bob should see only the public document, got %d", len(visible))
	}

	all, err := service.ListDocuments(ctx, sessionFor("usr_admin", "Morgan", "admin"), ListDocumentsInput{})
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("platform admin should see both documents, got %d", len(all))
	}
}

func TestExportVersionSelection(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	author := sessionFor("usr_author", "Avery", "user")

	doc, err := service.CreateDocument(ctx, author, CreateDocumentInput{Title: "Plan", Content: "first draft"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	content := "second draft"
	if _, err := service.UpdateDocument(ctx, author, doc.ID, UpdateDocumentInput{Content: &content}); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	current, err := service.ExportDocument(ctx, "usr_author", doc.ID, 0, export.FormatHTML)
	if err != nil {
		t.Fatalf("ExportDocument current: %v", err)
	}
	if !strings.Contains(string(current.Data), "second draft") {
		t.Error("current export should carry latest content")
	}

	old, err := service.ExportDocument(ctx, "usr_author", doc.ID, 1, export.FormatHTML)
	if err != nil {
		t.Fatalf("ExportDocument v1: %v", err)
	}
	if !strings.Contains(string(old.Data), "first draft") {
		t.Error("historical export should carry snapshot content")
	}

	_, err = service.ExportDocument(ctx, "usr_author", doc.ID, 99, export.FormatHTML)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 for missing version, got %v", err)
	}
}
