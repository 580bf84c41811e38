package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Attachment is the metadata row for a file stored in object storage. The
// bytes live in MinIO under ObjectKey.
type Attachment struct {
	ID          string
	DocumentID  string
	FileName    string
	ContentType string
	Size        int64
	ObjectKey   string
	UploadedBy  string
	CreatedAt   time.Time
}

// DocumentFilter narrows ListDocuments. ViewerID scopes visibility: without
// IncludeAll, results are public documents plus those the viewer authors or
// holds a permission entry on.
type DocumentFilter struct {
	ViewerID   string
	IncludeAll bool
	Status     string
	Privacy    string
	Tag        string
	Limit      int
	Offset     int
}
