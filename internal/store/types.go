// Package store is the persistence gateway: accounts and their moderation
// state, symmetric friend edges, groups and memberships, and the append-only
// message log with ordered retrieval. The production implementation is
// PostgreSQL with an explicit, ordered, idempotent migration list applied
// once at startup.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("store: not found")

// Role is a group membership role.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleMember
}

// Account is a registered identity. The handle is the unique lowercase key
// joining friendship, membership, and presence. Accounts are never deleted;
// moderation only flips the strike and suspension fields.
type Account struct {
	Handle         string
	DisplayName    string
	Bio            string
	Strikes        int
	SuspendedUntil int64 // unix ms; 0 = not suspended
	Permanent      bool  // permanent suspension, never expires
}

// Suspended reports whether the account is suspended at now. A lapsed window
// does not count; callers clear it lazily via ClearSuspension.
func (a Account) Suspended(now time.Time) bool {
	return a.Permanent || (a.SuspendedUntil != 0 && now.UnixMilli() < a.SuspendedUntil)
}

// Group is a named chat group. Exactly one member holds RoleOwner at all
// times; the owning membership row is created in the same transaction as the
// group itself.
type Group struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   int64 // unix ms
}

// Membership binds a handle to a group with a role.
type Membership struct {
	GroupID int64
	Handle  string
	Role    Role
}

// Message is one persisted chat message. The chat context is either a
// private participant pair (Recipient set, GroupID zero) or a group (GroupID
// set, Recipient empty), never both. Messages are immutable once appended.
type Message struct {
	ID        int64
	Sender    string
	Recipient string // private context
	GroupID   int64  // group context
	Text      string
	MediaRef  string
	MediaKind string
	CreatedAt int64 // unix ms
}

// Private reports whether the message belongs to a private pair context.
func (m Message) Private() bool { return m.GroupID == 0 }
