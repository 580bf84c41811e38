// Package docs holds the document aggregate: the permission map, the
// append-only version log, and the mention set, together with the mutators
// that keep their invariants. Everything here is in-memory; the store
// persists whole aggregates atomically.
package docs

import (
	"sort"
	"time"

	"scribe/api/internal/access"
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

func ValidStatus(status string) bool {
	switch status {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	default:
		return false
	}
}

func ValidPrivacy(privacy string) bool {
	return privacy == access.PrivacyPublic || privacy == access.PrivacyPrivate
}

// Permission is one explicit grant, keyed by user ID in Document.Permissions.
// The map key guarantees at most one entry per user.
type Permission struct {
	Level     access.Level `json:"level"`
	GrantedBy string       `json:"grantedBy"`
	GrantedAt time.Time    `json:"grantedAt"`
}

// Version is an immutable snapshot of title and content as they were just
// before an edit.
type Version struct {
	VersionNumber int       `json:"versionNumber"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	ChangedBy     string    `json:"changedBy"`
	ChangedAt     time.Time `json:"changedAt"`
	Note          string    `json:"note,omitempty"`
}

type Document struct {
	ID             string
	Title          string
	Content        string
	Status         string
	Privacy        string
	Tags           []string
	AuthorID       string
	LastModifiedBy string
	CurrentVersion int
	Permissions    map[string]Permission
	Versions       []Version
	Mentions       map[string]time.Time
	IsDeleted      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// New returns a fresh aggregate at implicit version 1 with no recorded
// snapshots. The first edit after creation produces version 2.
func New(id, title, content, status, privacy string, tags []string, authorID string, now time.Time) *Document {
	return &Document{
		ID:             id,
		Title:          title,
		Content:        content,
		Status:         status,
		Privacy:        privacy,
		Tags:           tags,
		AuthorID:       authorID,
		LastModifiedBy: authorID,
		CurrentVersion: 1,
		Permissions:    make(map[string]Permission),
		Mentions:       make(map[string]time.Time),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Subject adapts the aggregate for permission checks.
func (d *Document) Subject() access.Subject {
	perms := make(map[string]access.Entry, len(d.Permissions))
	for userID, p := range d.Permissions {
		perms[userID] = access.Entry{Level: p.Level, GrantedBy: p.GrantedBy, GrantedAt: p.GrantedAt}
	}
	return access.Subject{AuthorID: d.AuthorID, Privacy: d.Privacy, Permissions: perms}
}

// Grant upserts a permission entry. An existing entry is updated in place
// (level, granting user, and timestamp), so a user can never hold two
// entries on the same document.
func (d *Document) Grant(userID string, level access.Level, grantedBy string, now time.Time) {
	if d.Permissions == nil {
		d.Permissions = make(map[string]Permission)
	}
	d.Permissions[userID] = Permission{Level: level, GrantedBy: grantedBy, GrantedAt: now}
}

// Revoke removes a permission entry. Revoking a never-granted user is a
// no-op, not an error.
func (d *Document) Revoke(userID string) {
	delete(d.Permissions, userID)
}

// Collaborators derives the sorted user ID list from the permission map.
// The map is the single source of truth; nothing stores this list, so it
// can never drift out of sync with the entries.
func (d *Document) Collaborators() []string {
	ids := make([]string, 0, len(d.Permissions))
	for userID := range d.Permissions {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

// ApplyMentions records first-mention timestamps and grants view access to
// mentioned users who hold no entry yet. Users with an existing entry keep
// their level untouched: a re-mention must never downgrade an editor back
// to view. The author is never granted an entry on their own document.
func (d *Document) ApplyMentions(userIDs []string, grantedBy string, now time.Time) []string {
	if d.Mentions == nil {
		d.Mentions = make(map[string]time.Time)
	}
	granted := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		if _, mentioned := d.Mentions[userID]; !mentioned {
			d.Mentions[userID] = now
		}
		if userID == d.AuthorID {
			continue
		}
		if _, exists := d.Permissions[userID]; exists {
			continue
		}
		d.Grant(userID, access.LevelView, grantedBy, now)
		granted = append(granted, userID)
	}
	return granted
}

// Snapshot appends a version entry numbered CurrentVersion+1 holding the
// outgoing title and content, then bumps CurrentVersion for the incoming
// edit. Call it before overwriting either field. Entry numbers start at 2
// and increase by one per recorded edit; entry N+1 preserves what version N
// looked like just before the change. changedBy falls back to
// LastModifiedBy, then the author, when blank.
func (d *Document) Snapshot(changedBy, note string, now time.Time) Version {
	if changedBy == "" {
		changedBy = d.LastModifiedBy
	}
	if changedBy == "" {
		changedBy = d.AuthorID
	}
	entry := Version{
		VersionNumber: d.CurrentVersion + 1,
		Title:         d.Title,
		Content:       d.Content,
		ChangedBy:     changedBy,
		ChangedAt:     now,
		Note:          note,
	}
	d.Versions = append(d.Versions, entry)
	d.CurrentVersion++
	return entry
}

// SoftDelete latches IsDeleted. There is no path back to false.
func (d *Document) SoftDelete(now time.Time) {
	d.IsDeleted = true
	d.UpdatedAt = now
}
