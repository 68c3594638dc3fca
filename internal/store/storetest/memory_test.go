package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/onemessenger/relay/internal/store"
)

func seedAccounts(t *testing.T, m *Memory, handles ...string) {
	t.Helper()
	for _, h := range handles {
		if err := m.CreateAccount(context.Background(), h, h, ""); err != nil {
			t.Fatalf("CreateAccount(%s): %v", h, err)
		}
	}
}

func TestFriendEdge_Symmetric(t *testing.T) {
	m := New(nil)
	ctx := context.Background()
	seedAccounts(t, m, "alice", "bob")

	if err := m.AddFriendEdge(ctx, "alice", "bob"); err != nil {
		t.Fatalf("AddFriendEdge: %v", err)
	}

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		ok, err := m.FriendEdgeExists(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("FriendEdgeExists: %v", err)
		}
		if !ok {
			t.Errorf("edge %s->%s missing; edges must be symmetric", pair[0], pair[1])
		}
	}

	ok, _ := m.FriendEdgeExists(ctx, "alice", "carol")
	if ok {
		t.Error("edge alice->carol exists without being added")
	}
}

func TestCreateGroup_OwnerMembershipAtomic(t *testing.T) {
	m := New(nil)
	ctx := context.Background()
	seedAccounts(t, m, "alice")

	g, err := m.CreateGroup(ctx, "team", "", "alice")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	role, ok, err := m.GroupRole(ctx, g.ID, "alice")
	if err != nil || !ok {
		t.Fatalf("GroupRole: ok=%v err=%v", ok, err)
	}
	if role != store.RoleOwner {
		t.Errorf("creator role = %s, want owner", role)
	}
}

func TestUpdateRole_OwnerRowUntouchable(t *testing.T) {
	m := New(nil)
	ctx := context.Background()
	seedAccounts(t, m, "alice", "bob")

	g, _ := m.CreateGroup(ctx, "team", "", "alice")
	if err := m.AddMember(ctx, g.ID, "bob", store.RoleMember); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	if err := m.UpdateRole(ctx, g.ID, "alice", store.RoleMember); err == nil {
		t.Error("UpdateRole targeting the owner succeeded")
	}
	if err := m.UpdateRole(ctx, g.ID, "bob", store.RoleAdmin); err != nil {
		t.Errorf("UpdateRole(bob, admin): %v", err)
	}
	role, _, _ := m.GroupRole(ctx, g.ID, "bob")
	if role != store.RoleAdmin {
		t.Errorf("bob role = %s, want admin", role)
	}
}

func TestAppendAndQuery_OrderedPerContext(t *testing.T) {
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := New(func() time.Time {
		ts = ts.Add(time.Millisecond)
		return ts
	})
	ctx := context.Background()
	seedAccounts(t, m, "alice", "bob", "carol")

	for _, text := range []string{"one", "two", "three"} {
		if _, err := m.Append(ctx, store.Message{Sender: "alice", Recipient: "bob", Text: text}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// A different pair must not bleed into the query.
	if _, err := m.Append(ctx, store.Message{Sender: "alice", Recipient: "carol", Text: "other"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	msgs, err := m.QueryPrivate(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("QueryPrivate: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("QueryPrivate returned %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Text != want {
			t.Errorf("msgs[%d].Text = %q, want %q (ascending creation order)", i, msgs[i].Text, want)
		}
		if i > 0 && msgs[i].CreatedAt < msgs[i-1].CreatedAt {
			t.Errorf("msgs[%d] out of order", i)
		}
	}
}

func TestClearSuspension(t *testing.T) {
	m := New(nil)
	ctx := context.Background()
	seedAccounts(t, m, "alice", "mallory")

	m.SetAccount(store.Account{Handle: "alice", SuspendedUntil: 123})
	if err := m.ClearSuspension(ctx, "alice"); err != nil {
		t.Fatalf("ClearSuspension: %v", err)
	}
	a, _ := m.Account(ctx, "alice")
	if a.SuspendedUntil != 0 {
		t.Errorf("SuspendedUntil = %d, want 0", a.SuspendedUntil)
	}

	m.SetAccount(store.Account{Handle: "mallory", Permanent: true})
	if err := m.ClearSuspension(ctx, "mallory"); err != nil {
		t.Fatalf("ClearSuspension: %v", err)
	}
	a, _ = m.Account(ctx, "mallory")
	if !a.Permanent {
		t.Error("permanent suspension was cleared")
	}
}
