// Package storetest provides an in-memory persistence gateway with the same
// behavior as the PostgreSQL store. Router, session, and API tests run
// against it; it is not meant for production use.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onemessenger/relay/internal/moderation"
	"github.com/onemessenger/relay/internal/store"
)

// Memory is a mutex-guarded in-memory implementation of the persistence
// gateway. The zero value is not usable; call New.
type Memory struct {
	mu          sync.Mutex
	now         func() time.Time
	nextMsgID   int64
	nextGroupID int64
	accounts    map[string]store.Account
	friends     map[string]map[string]bool // owner -> friend -> true
	groups      map[int64]store.Group
	members     map[int64]map[string]store.Role
	messages    []store.Message
	violations  []Violation
}

// Violation is one recorded audit-log entry.
type Violation struct {
	Handle  string
	Term    string
	Context string
}

// New returns an empty Memory store using the given clock (time.Now when nil).
func New(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:      now,
		accounts: make(map[string]store.Account),
		friends:  make(map[string]map[string]bool),
		groups:   make(map[int64]store.Group),
		members:  make(map[int64]map[string]store.Role),
	}
}

func (m *Memory) CreateAccount(ctx context.Context, handle, displayName, bio string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[handle]; ok {
		return fmt.Errorf("storetest: account %s already exists", handle)
	}
	m.accounts[handle] = store.Account{Handle: handle, DisplayName: displayName, Bio: bio}
	return nil
}

func (m *Memory) Account(ctx context.Context, handle string) (store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[handle]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (m *Memory) ClearSuspension(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[handle]
	if !ok {
		return store.ErrNotFound
	}
	if !a.Permanent {
		a.SuspendedUntil = 0
		m.accounts[handle] = a
	}
	return nil
}

func (m *Memory) ApplyViolation(ctx context.Context, handle string, apply func(strikes int) moderation.Outcome) (moderation.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[handle]
	if !ok {
		return moderation.Outcome{}, store.ErrNotFound
	}
	out := apply(a.Strikes)
	a.Strikes = out.Strikes
	if out.Suspended {
		if out.Permanent {
			a.Permanent = true
		} else {
			a.SuspendedUntil = out.Until.UnixMilli()
		}
	}
	m.accounts[handle] = a
	return out, nil
}

func (m *Memory) RecordViolation(ctx context.Context, handle, term, chatContext string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, Violation{Handle: handle, Term: term, Context: chatContext})
	return nil
}

// Violations returns a snapshot of the audit log for assertions.
func (m *Memory) Violations() []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

func (m *Memory) AddFriendEdge(ctx context.Context, a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a]; !ok {
		return store.ErrNotFound
	}
	if _, ok := m.accounts[b]; !ok {
		return store.ErrNotFound
	}
	// Both directed rows or neither.
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if m.friends[pair[0]] == nil {
			m.friends[pair[0]] = make(map[string]bool)
		}
		m.friends[pair[0]][pair[1]] = true
	}
	return nil
}

func (m *Memory) FriendEdgeExists(ctx context.Context, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.friends[from][to], nil
}

func (m *Memory) CreateGroup(ctx context.Context, name, description, owner string) (store.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[owner]; !ok {
		return store.Group{}, store.ErrNotFound
	}
	m.nextGroupID++
	g := store.Group{ID: m.nextGroupID, Name: name, Description: description, CreatedAt: m.now().UnixMilli()}
	m.groups[g.ID] = g
	m.members[g.ID] = map[string]store.Role{owner: store.RoleOwner}
	return g, nil
}

func (m *Memory) GroupRole(ctx context.Context, groupID int64, handle string) (store.Role, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.members[groupID][handle]
	return role, ok, nil
}

func (m *Memory) GroupMembers(ctx context.Context, groupID int64) ([]store.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Membership
	for handle, role := range m.members[groupID] {
		out = append(out, store.Membership{GroupID: groupID, Handle: handle, Role: role})
	}
	return out, nil
}

func (m *Memory) AddMember(ctx context.Context, groupID int64, handle string, role store.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == store.RoleOwner {
		return fmt.Errorf("storetest: owner membership is created with the group")
	}
	members, ok := m.members[groupID]
	if !ok {
		return store.ErrNotFound
	}
	members[handle] = role
	return nil
}

func (m *Memory) UpdateRole(ctx context.Context, groupID int64, handle string, role store.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.members[groupID]
	if !ok {
		return store.ErrNotFound
	}
	cur, ok := members[handle]
	if !ok || cur == store.RoleOwner {
		return store.ErrNotFound
	}
	members[handle] = role
	return nil
}

func (m *Memory) Append(ctx context.Context, msg store.Message) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMsgID++
	msg.ID = m.nextMsgID
	msg.CreatedAt = m.now().UnixMilli()
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *Memory) QueryPrivate(ctx context.Context, a, b string) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Message
	for _, msg := range m.messages {
		if !msg.Private() {
			continue
		}
		if (msg.Sender == a && msg.Recipient == b) || (msg.Sender == b && msg.Recipient == a) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *Memory) QueryGroup(ctx context.Context, groupID int64) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Message
	for _, msg := range m.messages {
		if msg.GroupID == groupID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// SetAccount overwrites an account row directly, for arranging test fixtures
// such as pre-suspended accounts.
func (m *Memory) SetAccount(a store.Account) {
	m.mu.Lock()
	m.accounts[a.Handle] = a
	m.mu.Unlock()
}
