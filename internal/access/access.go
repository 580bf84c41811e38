// Package access decides whether a user may act on a document. It is pure:
// every check runs against an already-loaded document and its permission
// entries, with no store round trip.
package access

import "time"

type Level int

const (
	LevelView  Level = 1
	LevelEdit  Level = 2
	LevelAdmin Level = 3
)

func (l Level) String() string {
	switch l {
	case LevelView:
		return "view"
	case LevelEdit:
		return "edit"
	case LevelAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseLevel maps the wire form of a permission level. ok is false for
// anything outside view/edit/admin.
func ParseLevel(value string) (Level, bool) {
	switch value {
	case "view":
		return LevelView, true
	case "edit":
		return LevelEdit, true
	case "admin":
		return LevelAdmin, true
	default:
		return 0, false
	}
}

const (
	PrivacyPublic  = "public"
	PrivacyPrivate = "private"
)

// Entry is one explicit permission grant on a document.
type Entry struct {
	Level     Level
	GrantedBy string
	GrantedAt time.Time
}

// Subject is the slice of a document that permission checks read.
type Subject struct {
	AuthorID    string
	Privacy     string
	Permissions map[string]Entry
}

// HasPermission reports whether userID holds at least required on the
// document. Public documents are viewable by anyone, including an empty
// userID (no authentication). The author holds implicit admin. Everyone
// else needs an explicit entry at or above the required level.
func HasPermission(doc Subject, userID string, required Level) bool {
	if doc.Privacy == PrivacyPublic && required == LevelView {
		return true
	}
	if userID == "" {
		return false
	}
	if userID == doc.AuthorID {
		return true
	}
	entry, ok := doc.Permissions[userID]
	if !ok {
		return false
	}
	return entry.Level >= required
}

// Platform-wide roles, separate from per-document levels. A platform admin
// can delete any document or user but does not silently gain read access to
// private content.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func NormalizeRole(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}

func IsPlatformAdmin(role string) bool {
	return NormalizeRole(role) == RoleAdmin
}
