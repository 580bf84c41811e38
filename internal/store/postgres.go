package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"scribe/api/internal/docs"
	"scribe/api/internal/mention"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, userQuery+` WHERE id=$1 AND deactivated_at IS NULL`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, userQuery+` WHERE email=LOWER($1) AND deactivated_at IS NULL`, email))
}

const userQuery = `
	SELECT id, display_name, email, password_hash, role, is_email_verified,
	       COALESCE(verification_token, ''), verification_expires_at, deactivated_at, created_at, updated_at
	FROM users
`

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role,
		&user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
		&user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

// FindUserByFragment resolves a mention token: case-insensitive substring
// match on display name or email, ordered by lowercased display name then
// ID so that ambiguous tokens resolve the same way every time.
func (s *PostgresStore) FindUserByFragment(ctx context.Context, fragment string) (mention.ResolvedUser, bool, error) {
	pattern := "%" + strings.ToLower(fragment) + "%"
	var user mention.ResolvedUser
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email
		FROM users
		WHERE deactivated_at IS NULL
		  AND (LOWER(display_name) LIKE $1 OR LOWER(email) LIKE $1)
		ORDER BY LOWER(display_name), id
		LIMIT 1
	`, pattern).Scan(&user.ID, &user.DisplayName, &user.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return mention.ResolvedUser{}, false, nil
	}
	if err != nil {
		return mention.ResolvedUser{}, false, fmt.Errorf("resolve mention: %w", err)
	}
	return user, true, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// DeactivateUser removes a user from the platform: their account is
// deactivated, every document they authored is soft-deleted, and their
// permission entries are stripped from all other documents. Recorded
// mentions stay, the mention set is historical. One transaction so a crash
// cannot leave a half-removed user.
func (s *PostgresStore) DeactivateUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deactivate user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET deactivated_at=NOW(), updated_at=NOW() WHERE id=$1 AND deactivated_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate user rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET is_deleted=TRUE, updated_at=NOW() WHERE author_id=$1 AND NOT is_deleted
	`, userID); err != nil {
		return fmt.Errorf("soft delete authored documents: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET permissions = permissions - $1, updated_at=NOW() WHERE permissions ? $1
	`, userID); err != nil {
		return fmt.Errorf("strip user permissions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deactivate user: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Documents
//
// A document row carries its permission map, version log, and mention set
// as JSONB, so every mutation is one atomic row write. SaveDocument guards
// against lost updates with the version the caller loaded.

func (s *PostgresStore) InsertDocument(ctx context.Context, doc *docs.Document) error {
	tags, permissions, versions, mentions, err := marshalAggregates(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (
			id, title, content, status, privacy, tags, author_id, last_modified_by,
			current_version, permissions, versions, mentions, is_deleted, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	`, doc.ID, doc.Title, doc.Content, doc.Status, doc.Privacy, tags,
		doc.AuthorID, doc.LastModifiedBy, doc.CurrentVersion, permissions, versions, mentions, doc.IsDeleted)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const documentQuery = `
	SELECT id, title, content, status, privacy, tags, author_id, last_modified_by,
	       current_version, permissions, versions, mentions, is_deleted, created_at, updated_at
	FROM documents
`

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (*docs.Document, error) {
	row := s.db.QueryRowContext(ctx, documentQuery+` WHERE id=$1 AND NOT is_deleted`, documentID)
	return scanDocument(row.Scan)
}

// SaveDocument replaces the whole aggregate. expectedVersion is the
// current_version the mutation was computed against; a mismatch means a
// concurrent writer got there first and the caller's snapshot or grant
// would be lost, so the write is refused with ErrVersionConflict.
func (s *PostgresStore) SaveDocument(ctx context.Context, doc *docs.Document, expectedVersion int) error {
	tags, permissions, versions, mentions, err := marshalAggregates(doc)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, content=$3, status=$4, privacy=$5, tags=$6, last_modified_by=$7,
		    current_version=$8, permissions=$9, versions=$10, mentions=$11, is_deleted=$12, updated_at=NOW()
		WHERE id=$1 AND current_version=$13
	`, doc.ID, doc.Title, doc.Content, doc.Status, doc.Privacy, tags,
		doc.LastModifiedBy, doc.CurrentVersion, permissions, versions, mentions, doc.IsDeleted, expectedVersion)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save document rows: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or another writer moved current_version.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id=$1)`, doc.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check document: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*docs.Document, error) {
	where := []string{"NOT is_deleted"}
	args := []any{}
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.IncludeAll {
		if filter.ViewerID == "" {
			where = append(where, "privacy='public'")
		} else {
			viewer := arg(filter.ViewerID)
			where = append(where, fmt.Sprintf("(privacy='public' OR author_id=%s OR permissions ? %s)", viewer, viewer))
		}
	}
	if filter.Status != "" {
		where = append(where, "status="+arg(filter.Status))
	}
	if filter.Privacy != "" {
		where = append(where, "privacy="+arg(filter.Privacy))
	}
	if filter.Tag != "" {
		// tags is a JSONB array of strings; ? tests element membership.
		where = append(where, "tags ? "+arg(filter.Tag))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := documentQuery + " WHERE " + strings.Join(where, " AND ") +
		" ORDER BY updated_at DESC LIMIT " + arg(limit) + " OFFSET " + arg(offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]*docs.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func marshalAggregates(doc *docs.Document) (tags, permissions, versions, mentions []byte, err error) {
	tagList := doc.Tags
	if tagList == nil {
		tagList = []string{}
	}
	if tags, err = json.Marshal(tagList); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal tags: %w", err)
	}
	perms := doc.Permissions
	if perms == nil {
		perms = map[string]docs.Permission{}
	}
	if permissions, err = json.Marshal(perms); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal permissions: %w", err)
	}
	vers := doc.Versions
	if vers == nil {
		vers = []docs.Version{}
	}
	if versions, err = json.Marshal(vers); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal versions: %w", err)
	}
	ments := doc.Mentions
	if ments == nil {
		ments = map[string]time.Time{}
	}
	if mentions, err = json.Marshal(ments); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal mentions: %w", err)
	}
	return tags, permissions, versions, mentions, nil
}

func scanDocument(scan func(...any) error) (*docs.Document, error) {
	var (
		doc         docs.Document
		tags        []byte
		permissions []byte
		versions    []byte
		mentions    []byte
	)
	err := scan(
		&doc.ID, &doc.Title, &doc.Content, &doc.Status, &doc.Privacy, &tags,
		&doc.AuthorID, &doc.LastModifiedBy, &doc.CurrentVersion,
		&permissions, &versions, &mentions, &doc.IsDeleted, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	if err := json.Unmarshal(tags, &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal(permissions, &doc.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	if err := json.Unmarshal(versions, &doc.Versions); err != nil {
		return nil, fmt.Errorf("unmarshal versions: %w", err)
	}
	if err := json.Unmarshal(mentions, &doc.Mentions); err != nil {
		return nil, fmt.Errorf("unmarshal mentions: %w", err)
	}
	return &doc, nil
}

// ---------------------------------------------------------------------------
// Attachments

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, document_id, file_name, content_type, size, object_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.DocumentID, item.FileName, item.ContentType, item.Size, item.ObjectKey, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, documentID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, file_name, content_type, size, object_key, uploaded_by, created_at
		FROM attachments
		WHERE document_id=$1
		ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.FileName, &item.ContentType,
			&item.Size, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, documentID, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, file_name, content_type, size, object_key, uploaded_by, created_at
		FROM attachments
		WHERE id=$1 AND document_id=$2
	`, attachmentID, documentID).Scan(&item.ID, &item.DocumentID, &item.FileName, &item.ContentType,
		&item.Size, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Attachment{}, ErrNotFound
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("get attachment: %w", err)
	}
	return item, nil
}

// ---------------------------------------------------------------------------
// Refresh sessions and token revocation (Postgres fallback when Redis is
// not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
			AND u.deactivated_at IS NULL
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
