package authz

import (
	"context"
	"testing"

	"github.com/onemessenger/relay/internal/store"
	"github.com/onemessenger/relay/internal/store/storetest"
)

func seed(t *testing.T) (*Policy, *storetest.Memory, int64) {
	t.Helper()
	ctx := context.Background()
	mem := storetest.New(nil)
	for _, h := range []string{"owner", "admin", "member", "other", "stranger"} {
		if err := mem.CreateAccount(ctx, h, h, ""); err != nil {
			t.Fatal(err)
		}
	}
	g, err := mem.CreateGroup(ctx, "team", "", "owner")
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.AddMember(ctx, g.ID, "admin", store.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	if err := mem.AddMember(ctx, g.ID, "member", store.RoleMember); err != nil {
		t.Fatal(err)
	}
	if err := mem.AddMember(ctx, g.ID, "other", store.RoleMember); err != nil {
		t.Fatal(err)
	}
	return New(mem), mem, g.ID
}

func TestCanSendPrivate(t *testing.T) {
	p, mem, _ := seed(t)
	ctx := context.Background()

	if err := mem.AddFriendEdge(ctx, "owner", "member"); err != nil {
		t.Fatal(err)
	}

	ok, err := p.CanSendPrivate(ctx, "owner", "member")
	if err != nil || !ok {
		t.Errorf("CanSendPrivate(friends) = %v, %v; want true", ok, err)
	}
	ok, err = p.CanSendPrivate(ctx, "member", "owner")
	if err != nil || !ok {
		t.Errorf("CanSendPrivate(reverse direction) = %v, %v; want true", ok, err)
	}
	ok, err = p.CanSendPrivate(ctx, "owner", "stranger")
	if err != nil || ok {
		t.Errorf("CanSendPrivate(not friends) = %v, %v; want false", ok, err)
	}
}

func TestCanSendGroup(t *testing.T) {
	p, _, gid := seed(t)
	ctx := context.Background()

	for _, h := range []string{"owner", "admin", "member"} {
		ok, err := p.CanSendGroup(ctx, h, gid)
		if err != nil || !ok {
			t.Errorf("CanSendGroup(%s) = %v, %v; want true for any role", h, ok, err)
		}
	}

	ok, err := p.CanSendGroup(ctx, "stranger", gid)
	if err != nil || ok {
		t.Errorf("CanSendGroup(stranger) = %v, %v; want false", ok, err)
	}
}

func TestCanChangeRole(t *testing.T) {
	p, _, gid := seed(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   string
		target  string
		newRole store.Role
		want    bool
	}{
		{"owner promotes member", "owner", "member", store.RoleAdmin, true},
		{"admin demotes admin", "admin", "member", store.RoleMember, true},
		{"admin changes member", "admin", "other", store.RoleAdmin, true},
		{"member cannot change roles", "member", "other", store.RoleAdmin, false},
		{"stranger cannot change roles", "stranger", "member", store.RoleAdmin, false},
		{"owner is immune, even to owner", "owner", "owner", store.RoleMember, false},
		{"owner is immune to admin", "admin", "owner", store.RoleMember, false},
		{"cannot grant ownership", "owner", "member", store.RoleOwner, false},
		{"unknown role rejected", "owner", "member", store.Role("superuser"), false},
		{"absent target rejected", "owner", "stranger", store.RoleMember, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := p.CanChangeRole(ctx, tt.actor, gid, tt.target, tt.newRole)
			if err != nil {
				t.Fatalf("CanChangeRole: %v", err)
			}
			if ok != tt.want {
				t.Errorf("CanChangeRole(%s, %s, %s) = %v, want %v",
					tt.actor, tt.target, tt.newRole, ok, tt.want)
			}
		})
	}
}
