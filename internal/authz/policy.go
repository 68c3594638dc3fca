// Package authz holds the authorization predicates the router consults
// before persisting anything. The predicates are pure reads over persisted
// relationship data; a denial is reported to the sender as a moderation
// notice and never closes the connection.
package authz

import (
	"context"

	"github.com/onemessenger/relay/internal/store"
)

// Relations is the slice of the persistence gateway the predicates read.
type Relations interface {
	FriendEdgeExists(ctx context.Context, from, to string) (bool, error)
	GroupRole(ctx context.Context, groupID int64, handle string) (store.Role, bool, error)
}

// Policy evaluates authorization for sends and role changes.
type Policy struct {
	rel Relations
}

// New returns a Policy reading from rel.
func New(rel Relations) *Policy {
	return &Policy{rel: rel}
}

// CanSendPrivate reports whether sender may message recipient: true iff the
// directed friend edge sender->recipient exists. Edges are stored
// symmetrically, so either direction would do; checking the sender's own row
// keeps the predicate honest if the store were ever corrupted.
func (p *Policy) CanSendPrivate(ctx context.Context, sender, recipient string) (bool, error) {
	return p.rel.FriendEdgeExists(ctx, sender, recipient)
}

// CanSendGroup reports whether sender may post to the group: true iff sender
// holds a membership row of any role.
func (p *Policy) CanSendGroup(ctx context.Context, sender string, groupID int64) (bool, error) {
	_, ok, err := p.rel.GroupRole(ctx, groupID, sender)
	return ok, err
}

// CanChangeRole reports whether actor may set target's role to newRole in
// the group. The actor must hold owner or admin, the target must not be the
// owner, and newRole must be admin or member. Ownership is never granted or
// revoked through role changes.
func (p *Policy) CanChangeRole(ctx context.Context, actor string, groupID int64, target string, newRole store.Role) (bool, error) {
	if newRole != store.RoleAdmin && newRole != store.RoleMember {
		return false, nil
	}

	actorRole, ok, err := p.rel.GroupRole(ctx, groupID, actor)
	if err != nil {
		return false, err
	}
	if !ok || (actorRole != store.RoleOwner && actorRole != store.RoleAdmin) {
		return false, nil
	}

	targetRole, ok, err := p.rel.GroupRole(ctx, groupID, target)
	if err != nil {
		return false, err
	}
	if !ok || targetRole == store.RoleOwner {
		return false, nil
	}
	return true, nil
}
