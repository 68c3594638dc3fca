package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/onemessenger/relay/internal/moderation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is the production persistence gateway.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres connects to the database, verifies the connection, and applies
// the embedded migration list. Migrations are ordered and idempotent; running
// them on every startup is the supported path.
func OpenPostgres(ctx context.Context, dsn string, now func() time.Time) (*Postgres, error) {
	if now == nil {
		now = time.Now
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: postgres ping: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Postgres{db: db, now: now}, nil
}

// Migrate applies all pending migrations from the embedded list.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: load migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("store: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// CreateAccount inserts a new account. The handle must already be lowercase;
// registration (an external collaborator) enforces that before calling in.
func (p *Postgres) CreateAccount(ctx context.Context, handle, displayName, bio string) error {
	const q = `
		INSERT INTO accounts (handle, display_name, bio, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := p.db.ExecContext(ctx, q, handle, displayName, bio, p.now().UnixMilli()); err != nil {
		return fmt.Errorf("store: create account %s: %w", handle, err)
	}
	return nil
}

// Account loads one account by handle.
func (p *Postgres) Account(ctx context.Context, handle string) (Account, error) {
	const q = `
		SELECT handle, display_name, bio, strikes, suspended_until, permanent_ban
		FROM accounts WHERE handle = $1`

	var a Account
	err := p.db.QueryRowContext(ctx, q, handle).Scan(
		&a.Handle, &a.DisplayName, &a.Bio, &a.Strikes, &a.SuspendedUntil, &a.Permanent)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("store: load account %s: %w", handle, err)
	}
	return a, nil
}

// ClearSuspension zeroes a lapsed suspension window. Called lazily when an
// account is touched after its window has elapsed; permanent suspensions are
// never cleared here.
func (p *Postgres) ClearSuspension(ctx context.Context, handle string) error {
	const q = `
		UPDATE accounts SET suspended_until = 0
		WHERE handle = $1 AND NOT permanent_ban`
	if _, err := p.db.ExecContext(ctx, q, handle); err != nil {
		return fmt.Errorf("store: clear suspension %s: %w", handle, err)
	}
	return nil
}

// ApplyViolation runs the strike transition inside a row-locking transaction
// so that concurrent violations for the same account cannot interleave.
func (p *Postgres) ApplyViolation(ctx context.Context, handle string, apply func(strikes int) moderation.Outcome) (moderation.Outcome, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return moderation.Outcome{}, fmt.Errorf("store: begin violation tx: %w", err)
	}
	defer tx.Rollback()

	var strikes int
	err = tx.QueryRowContext(ctx,
		`SELECT strikes FROM accounts WHERE handle = $1 FOR UPDATE`, handle).Scan(&strikes)
	if errors.Is(err, sql.ErrNoRows) {
		return moderation.Outcome{}, ErrNotFound
	}
	if err != nil {
		return moderation.Outcome{}, fmt.Errorf("store: lock account %s: %w", handle, err)
	}

	out := apply(strikes)

	var until int64
	if out.Suspended && !out.Permanent {
		until = out.Until.UnixMilli()
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE accounts
		SET strikes = $1,
		    suspended_until = CASE WHEN $2 THEN $3 ELSE suspended_until END,
		    permanent_ban = permanent_ban OR $4
		WHERE handle = $5`,
		out.Strikes, out.Suspended, until, out.Permanent, handle)
	if err != nil {
		return moderation.Outcome{}, fmt.Errorf("store: apply violation %s: %w", handle, err)
	}

	if err := tx.Commit(); err != nil {
		return moderation.Outcome{}, fmt.Errorf("store: commit violation %s: %w", handle, err)
	}
	return out, nil
}

// RecordViolation appends one row to the moderation audit log. Best-effort:
// callers log failures and move on, the strike itself is already committed.
func (p *Postgres) RecordViolation(ctx context.Context, handle, term, chatContext string) error {
	const q = `
		INSERT INTO violations (handle, term, context, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := p.db.ExecContext(ctx, q, handle, term, chatContext, p.now().UnixMilli()); err != nil {
		return fmt.Errorf("store: record violation %s: %w", handle, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Friend edges
// ---------------------------------------------------------------------------

// AddFriendEdge inserts both directed rows of the unordered pair in one
// transaction. Edge existence is always symmetric; a lone directed row is a
// corruption state this method makes unreachable.
func (p *Postgres) AddFriendEdge(ctx context.Context, a, b string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin friend tx: %w", err)
	}
	defer tx.Rollback()

	now := p.now().UnixMilli()
	const q = `INSERT INTO friend_edges (owner, friend, created_at) VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, q, a, b, now); err != nil {
		return fmt.Errorf("store: add friend edge %s->%s: %w", a, b, err)
	}
	if _, err := tx.ExecContext(ctx, q, b, a, now); err != nil {
		return fmt.Errorf("store: add friend edge %s->%s: %w", b, a, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit friend edge %s<->%s: %w", a, b, err)
	}
	return nil
}

// FriendEdgeExists reports whether the directed edge from->to exists.
func (p *Postgres) FriendEdgeExists(ctx context.Context, from, to string) (bool, error) {
	const q = `SELECT 1 FROM friend_edges WHERE owner = $1 AND friend = $2`
	var one int
	err := p.db.QueryRowContext(ctx, q, from, to).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: friend edge %s->%s: %w", from, to, err)
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Groups
// ---------------------------------------------------------------------------

// CreateGroup inserts the group and its owning membership in one transaction,
// keeping the exactly-one-owner invariant from the first instant.
func (p *Postgres) CreateGroup(ctx context.Context, name, description, owner string) (Group, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Group{}, fmt.Errorf("store: begin group tx: %w", err)
	}
	defer tx.Rollback()

	g := Group{Name: name, Description: description, CreatedAt: p.now().UnixMilli()}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO groups (name, description, created_at)
		VALUES ($1, $2, $3) RETURNING id`,
		name, description, g.CreatedAt).Scan(&g.ID)
	if err != nil {
		return Group{}, fmt.Errorf("store: create group %q: %w", name, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, handle, role) VALUES ($1, $2, $3)`,
		g.ID, owner, RoleOwner)
	if err != nil {
		return Group{}, fmt.Errorf("store: create group owner %s: %w", owner, err)
	}

	if err := tx.Commit(); err != nil {
		return Group{}, fmt.Errorf("store: commit group %q: %w", name, err)
	}
	return g, nil
}

// GroupRole returns the role handle holds in the group, if any.
func (p *Postgres) GroupRole(ctx context.Context, groupID int64, handle string) (Role, bool, error) {
	const q = `SELECT role FROM group_members WHERE group_id = $1 AND handle = $2`
	var role Role
	err := p.db.QueryRowContext(ctx, q, groupID, handle).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: group role %d/%s: %w", groupID, handle, err)
	}
	return role, true, nil
}

// GroupMembers returns every membership row of the group.
func (p *Postgres) GroupMembers(ctx context.Context, groupID int64) ([]Membership, error) {
	const q = `SELECT group_id, handle, role FROM group_members WHERE group_id = $1`
	rows, err := p.db.QueryContext(ctx, q, groupID)
	if err != nil {
		return nil, fmt.Errorf("store: group members %d: %w", groupID, err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.GroupID, &m.Handle, &m.Role); err != nil {
			return nil, fmt.Errorf("store: scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMember inserts a non-owner membership row.
func (p *Postgres) AddMember(ctx context.Context, groupID int64, handle string, role Role) error {
	if role == RoleOwner {
		return fmt.Errorf("store: owner membership is created with the group")
	}
	const q = `INSERT INTO group_members (group_id, handle, role) VALUES ($1, $2, $3)`
	if _, err := p.db.ExecContext(ctx, q, groupID, handle, role); err != nil {
		return fmt.Errorf("store: add member %d/%s: %w", groupID, handle, err)
	}
	return nil
}

// UpdateRole rewrites a member's role. Authorization (actor role, owner
// immunity, allowed target roles) is the caller's concern; the statement
// still refuses to touch an owner row so the invariant holds even against a
// buggy caller.
func (p *Postgres) UpdateRole(ctx context.Context, groupID int64, handle string, role Role) error {
	const q = `
		UPDATE group_members SET role = $1
		WHERE group_id = $2 AND handle = $3 AND role <> 'owner'`
	res, err := p.db.ExecContext(ctx, q, role, groupID, handle)
	if err != nil {
		return fmt.Errorf("store: update role %d/%s: %w", groupID, handle, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update role %d/%s: %w", groupID, handle, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// Append persists one message and returns it with the assigned id and
// creation timestamp. Creation order is monotonic per chat context; there is
// no global total order guarantee.
func (p *Postgres) Append(ctx context.Context, m Message) (Message, error) {
	m.CreatedAt = p.now().UnixMilli()

	var recipient sql.NullString
	var groupID sql.NullInt64
	if m.Private() {
		recipient = sql.NullString{String: m.Recipient, Valid: true}
	} else {
		groupID = sql.NullInt64{Int64: m.GroupID, Valid: true}
	}

	err := p.db.QueryRowContext(ctx, `
		INSERT INTO messages (sender, recipient, group_id, text, media_ref, media_kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		m.Sender, recipient, groupID, m.Text, m.MediaRef, m.MediaKind, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}
	return m, nil
}

// QueryPrivate returns the full private history between two handles in
// ascending creation order.
func (p *Postgres) QueryPrivate(ctx context.Context, a, b string) ([]Message, error) {
	const q = `
		SELECT id, sender, recipient, text, media_ref, media_kind, created_at
		FROM messages
		WHERE (sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1)
		ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, q, a, b)
	if err != nil {
		return nil, fmt.Errorf("store: query private %s/%s: %w", a, b, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Text, &m.MediaRef, &m.MediaKind, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// QueryGroup returns the full group history in ascending creation order.
func (p *Postgres) QueryGroup(ctx context.Context, groupID int64) ([]Message, error) {
	const q = `
		SELECT id, sender, group_id, text, media_ref, media_kind, created_at
		FROM messages
		WHERE group_id = $1
		ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, q, groupID)
	if err != nil {
		return nil, fmt.Errorf("store: query group %d: %w", groupID, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.GroupID, &m.Text, &m.MediaRef, &m.MediaKind, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
