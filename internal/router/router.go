// Package router orchestrates the real-time core per inbound event:
// suspension gate, payload validation, moderation, authorization,
// persistence, and fan-out, in that order. A failure at any stage is
// terminal for the send attempt and feeds a moderation notice back to the
// sender; nothing is persisted or routed past the failing stage.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/onemessenger/relay/internal/auth"
	"github.com/onemessenger/relay/internal/authz"
	"github.com/onemessenger/relay/internal/metrics"
	"github.com/onemessenger/relay/internal/moderation"
	"github.com/onemessenger/relay/internal/presence"
	"github.com/onemessenger/relay/internal/protocol"
	"github.com/onemessenger/relay/internal/store"
)

// ErrJoinDenied is returned by Join for any reason the client may not learn:
// bad token, unknown account, active suspension. The session drops the join
// silently.
var ErrJoinDenied = errors.New("router: join denied")

// Accounts is the account slice of the persistence gateway.
type Accounts interface {
	Account(ctx context.Context, handle string) (store.Account, error)
	ClearSuspension(ctx context.Context, handle string) error
	RecordViolation(ctx context.Context, handle, term, chatContext string) error
}

// Messages is the append-only message log.
type Messages interface {
	Append(ctx context.Context, m store.Message) (store.Message, error)
	QueryPrivate(ctx context.Context, a, b string) ([]store.Message, error)
	QueryGroup(ctx context.Context, groupID int64) ([]store.Message, error)
}

// Groups exposes membership reads and the role-change write.
type Groups interface {
	GroupMembers(ctx context.Context, groupID int64) ([]store.Membership, error)
	UpdateRole(ctx context.Context, groupID int64, handle string, role store.Role) error
}

// Media stores attachment payloads and returns retrievable references.
type Media interface {
	Put(payload []byte, kind string) (string, error)
}

// Remote forwards a delivery to whichever relay instance holds the handle's
// connection. Deployments without a bridge leave it nil.
type Remote interface {
	Deliver(handle string, data []byte) error
}

// Router wires the pipeline stages together.
type Router struct {
	accounts Accounts
	messages Messages
	groups   Groups
	policy   *authz.Policy
	engine   *moderation.Engine
	media    Media
	dir      presence.Directory
	verifier auth.Verifier
	remote   Remote
	now      func() time.Time
}

// Config collects the router's collaborators. Remote may be nil; now
// defaults to time.Now.
type Config struct {
	Accounts Accounts
	Messages Messages
	Groups   Groups
	Policy   *authz.Policy
	Engine   *moderation.Engine
	Media    Media
	Presence presence.Directory
	Verifier auth.Verifier
	Remote   Remote
	Now      func() time.Time
}

// New builds a Router from its collaborators.
func New(c Config) *Router {
	if c.Now == nil {
		c.Now = time.Now
	}
	return &Router{
		accounts: c.Accounts,
		messages: c.Messages,
		groups:   c.Groups,
		policy:   c.Policy,
		engine:   c.Engine,
		media:    c.Media,
		dir:      c.Presence,
		verifier: c.Verifier,
		remote:   c.Remote,
		now:      c.Now,
	}
}

// ---------------------------------------------------------------------------
// Join
// ---------------------------------------------------------------------------

// Join resolves a session token to a non-suspended account. Every failure
// collapses into ErrJoinDenied so the caller cannot leak whether the account
// exists or why it was refused. A lapsed suspension window is cleared here,
// reverting the account to clean before the join proceeds.
func (r *Router) Join(ctx context.Context, token string) (store.Account, error) {
	handle, err := r.verifier.Verify(token)
	if err != nil {
		return store.Account{}, ErrJoinDenied
	}

	a, err := r.accounts.Account(ctx, handle)
	if err != nil {
		return store.Account{}, ErrJoinDenied
	}

	now := r.now()
	if a.Suspended(now) {
		return store.Account{}, ErrJoinDenied
	}
	if !a.Permanent && a.SuspendedUntil != 0 && now.UnixMilli() >= a.SuspendedUntil {
		if err := r.accounts.ClearSuspension(ctx, handle); err != nil {
			log.Printf("router: clear lapsed suspension handle=%s: %v", handle, err)
		}
		a.SuspendedUntil = 0
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Sends
// ---------------------------------------------------------------------------

// SendPrivate runs the full pipeline for a private message from sender. Any
// negative outcome is reported to conn as a moderation notice; the returned
// error covers only infrastructure failures the sender was already notified
// about (callers just log it).
func (r *Router) SendPrivate(ctx context.Context, sender string, conn presence.Conn, evt protocol.PrivateMessageEvent) error {
	started := r.now()

	a, ok, err := r.gate(ctx, sender, conn)
	if err != nil || !ok {
		return err
	}

	kind, ok := r.validatePayload(conn, evt.Text, evt.MediaKind, evt.MediaPayload)
	if !ok {
		return nil
	}

	if blocked, err := r.moderate(ctx, sender, conn, evt.Text, "private:"+evt.To); blocked || err != nil {
		return err
	}

	allowed, err := r.policy.CanSendPrivate(ctx, sender, evt.To)
	if err != nil {
		return r.fail(conn, fmt.Errorf("router: private authorization %s->%s: %w", sender, evt.To, err))
	}
	if !allowed {
		metrics.MessagesTotal.WithLabelValues("denied").Inc()
		return conn.Send(protocol.NewNotice(fmt.Sprintf("you are not friends with %s", evt.To)))
	}

	ref, ok, err := r.storeMedia(conn, kind, evt.MediaPayload)
	if err != nil || !ok {
		return err
	}

	msg, err := r.messages.Append(ctx, store.Message{
		Sender:    sender,
		Recipient: evt.To,
		Text:      evt.Text,
		MediaRef:  ref,
		MediaKind: mediaKindTag(kind),
	})
	if err != nil {
		return r.fail(conn, fmt.Errorf("router: append private message: %w", err))
	}

	data, err := protocol.NewServerEvent(protocol.TypePrivateMessage, protocol.PrivateDelivery{
		SenderHandle: a.Handle,
		SenderName:   a.DisplayName,
		Text:         msg.Text,
		MediaKind:    msg.MediaKind,
		MediaRef:     msg.MediaRef,
		CreatedAt:    msg.CreatedAt,
	})
	if err != nil {
		return r.fail(conn, fmt.Errorf("router: encode private delivery: %w", err))
	}

	// Sender echo first: the sender's UI adopts the authoritative id and
	// timestamp from its own copy.
	if err := conn.Send(data); err != nil {
		log.Printf("router: echo to sender %s failed: %v", sender, err)
	}
	r.deliver(evt.To, data, "private")

	metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	metrics.RouteLatency.Observe(r.now().Sub(started).Seconds())
	return nil
}

// SendGroup runs the pipeline for a group message and fans out to every
// member currently present, the sender included; the sender's echo arrives
// through its own membership row, not a special case.
func (r *Router) SendGroup(ctx context.Context, sender string, conn presence.Conn, evt protocol.GroupMessageEvent) error {
	started := r.now()

	a, ok, err := r.gate(ctx, sender, conn)
	if err != nil || !ok {
		return err
	}

	kind, ok := r.validatePayload(conn, evt.Text, evt.MediaKind, evt.MediaPayload)
	if !ok {
		return nil
	}

	if blocked, err := r.moderate(ctx, sender, conn, evt.Text, fmt.Sprintf("group:%d", evt.GroupID)); blocked || err != nil {
		return err
	}

	allowed, err := r.policy.CanSendGroup(ctx, sender, evt.GroupID)
	if err != nil {
		return r.fail(conn, fmt.Errorf("router: group authorization %s->%d: %w", sender, evt.GroupID, err))
	}
	if !allowed {
		metrics.MessagesTotal.WithLabelValues("denied").Inc()
		return conn.Send(protocol.NewNotice(fmt.Sprintf("you are not a member of group %d", evt.GroupID)))
	}

	ref, ok, err := r.storeMedia(conn, kind, evt.MediaPayload)
	if err != nil || !ok {
		return err
	}

	msg, err := r.messages.Append(ctx, store.Message{
		Sender:    sender,
		GroupID:   evt.GroupID,
		Text:      evt.Text,
		MediaRef:  ref,
		MediaKind: mediaKindTag(kind),
	})
	if err != nil {
		return r.fail(conn, fmt.Errorf("router: append group message: %w", err))
	}

	data, err := protocol.NewServerEvent(protocol.TypeGroupMessage, protocol.GroupDelivery{
		GroupID:      msg.GroupID,
		SenderHandle: a.Handle,
		SenderName:   a.DisplayName,
		Text:         msg.Text,
		MediaKind:    msg.MediaKind,
		MediaRef:     msg.MediaRef,
		CreatedAt:    msg.CreatedAt,
	})
	if err != nil {
		return r.fail(conn, fmt.Errorf("router: encode group delivery: %w", err))
	}

	members, err := r.groups.GroupMembers(ctx, evt.GroupID)
	if err != nil {
		// The message is persisted; recipients will see it in history.
		log.Printf("router: fan-out member list group=%d: %v", evt.GroupID, err)
		return nil
	}
	for _, m := range members {
		r.deliver(m.Handle, data, "group")
	}

	metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	metrics.RouteLatency.Observe(r.now().Sub(started).Seconds())
	return nil
}

// ---------------------------------------------------------------------------
// Role changes and history (request/response surface)
// ---------------------------------------------------------------------------

// ErrRoleDenied is returned when the actor may not perform the role change.
var ErrRoleDenied = errors.New("router: role change denied")

// ChangeRole applies a role change after consulting the authorization
// policy: actor must be owner or admin, the target must not be the owner,
// and the new role must be admin or member.
func (r *Router) ChangeRole(ctx context.Context, actor string, groupID int64, target string, newRole store.Role) error {
	allowed, err := r.policy.CanChangeRole(ctx, actor, groupID, target, newRole)
	if err != nil {
		return fmt.Errorf("router: role authorization: %w", err)
	}
	if !allowed {
		return ErrRoleDenied
	}
	return r.groups.UpdateRole(ctx, groupID, target, newRole)
}

// HistoryPrivate returns the requester's private history with peer, ascending.
func (r *Router) HistoryPrivate(ctx context.Context, requester, peer string) ([]store.Message, error) {
	return r.messages.QueryPrivate(ctx, requester, peer)
}

// HistoryGroup returns the group history, ascending, for members only.
func (r *Router) HistoryGroup(ctx context.Context, requester string, groupID int64) ([]store.Message, error) {
	allowed, err := r.policy.CanSendGroup(ctx, requester, groupID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrRoleDenied
	}
	return r.messages.QueryGroup(ctx, groupID)
}

// ---------------------------------------------------------------------------
// Pipeline stages
// ---------------------------------------------------------------------------

// gate reloads the account and enforces suspension on every message, not
// just at join: an account suspended mid-session is cut off immediately. It
// also clears a lapsed window lazily.
func (r *Router) gate(ctx context.Context, sender string, conn presence.Conn) (store.Account, bool, error) {
	a, err := r.accounts.Account(ctx, sender)
	if err != nil {
		return store.Account{}, false, r.fail(conn, fmt.Errorf("router: load account %s: %w", sender, err))
	}

	now := r.now()
	if a.Suspended(now) {
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		notice := moderation.SuspensionNotice(time.UnixMilli(a.SuspendedUntil), a.Permanent, now)
		return store.Account{}, false, conn.Send(protocol.NewNotice(notice))
	}
	if !a.Permanent && a.SuspendedUntil != 0 && now.UnixMilli() >= a.SuspendedUntil {
		if err := r.accounts.ClearSuspension(ctx, sender); err != nil {
			log.Printf("router: clear lapsed suspension handle=%s: %v", sender, err)
		}
		a.SuspendedUntil = 0
	}
	return a, true, nil
}

// validatePayload enforces the payload shape: text-only messages need text,
// media messages need a payload and a known kind. Violations earn a notice
// and end the attempt.
func (r *Router) validatePayload(conn presence.Conn, text, kind string, payload []byte) (string, bool) {
	if kind == "" {
		kind = protocol.KindText
	}
	if !protocol.ValidKind(kind) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		_ = conn.Send(protocol.NewNotice(fmt.Sprintf("unsupported media kind %q", kind)))
		return "", false
	}
	if kind == protocol.KindText && text == "" {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		_ = conn.Send(protocol.NewNotice("message is empty"))
		return "", false
	}
	if kind != protocol.KindText && len(payload) == 0 {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		_ = conn.Send(protocol.NewNotice("missing media payload"))
		return "", false
	}
	return kind, true
}

// moderate scans any text component. Media-only messages skip the scan but
// not the rest of the pipeline. A blocked verdict is terminal: the strike is
// already recorded, the sender gets the notice, nothing further runs.
func (r *Router) moderate(ctx context.Context, sender string, conn presence.Conn, text, chatContext string) (bool, error) {
	if text == "" {
		return false, nil
	}
	v, err := r.engine.Review(ctx, sender, text)
	if err != nil {
		return true, r.fail(conn, err)
	}
	if !v.Blocked {
		return false, nil
	}

	if err := r.accounts.RecordViolation(ctx, sender, v.Term, chatContext); err != nil {
		log.Printf("router: violation audit handle=%s: %v", sender, err)
	}
	metrics.MessagesTotal.WithLabelValues("blocked").Inc()
	if v.Outcome.Suspended {
		kind := "fixed"
		if v.Outcome.Permanent {
			kind = "permanent"
		}
		metrics.Suspensions.WithLabelValues(kind).Inc()
		log.Printf("router: suspension applied handle=%s term=%q permanent=%v", sender, v.Term, v.Outcome.Permanent)
	}
	return true, conn.Send(protocol.NewNotice(v.NoticeText()))
}

// storeMedia uploads the payload for non-text kinds. A store failure leaves
// no partial state: the message is neither persisted nor routed.
func (r *Router) storeMedia(conn presence.Conn, kind string, payload []byte) (string, bool, error) {
	if kind == protocol.KindText {
		return "", true, nil
	}
	ref, err := r.media.Put(payload, kind)
	if err != nil {
		log.Printf("router: media store failed kind=%s: %v", kind, err)
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return "", false, conn.Send(protocol.NewNotice("upload failed"))
	}
	return ref, true, nil
}

// deliver writes to the handle's live connection if present, otherwise hands
// the delivery to the remote bridge. Absence everywhere is not an error; the
// recipient catches up through history.
func (r *Router) deliver(handle string, data []byte, context string) {
	if conn, ok := r.dir.Lookup(handle); ok {
		if err := conn.Send(data); err != nil {
			log.Printf("router: deliver to %s failed: %v", handle, err)
			return
		}
		metrics.FanoutDeliveries.WithLabelValues(context).Inc()
		return
	}
	if r.remote != nil {
		if err := r.remote.Deliver(handle, data); err != nil {
			log.Printf("router: remote deliver to %s failed: %v", handle, err)
		}
	}
}

// fail notifies the sender that the message could not be processed and
// propagates the underlying error for logging.
func (r *Router) fail(conn presence.Conn, err error) error {
	_ = conn.Send(protocol.NewNotice("message could not be processed"))
	metrics.MessagesTotal.WithLabelValues("failed").Inc()
	return err
}

// mediaKindTag normalizes the stored kind tag: text-only messages carry no
// media kind at all.
func mediaKindTag(kind string) string {
	if kind == protocol.KindText {
		return ""
	}
	return kind
}
