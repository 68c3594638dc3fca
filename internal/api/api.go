// Package api is the request/response surface of the relay: history reads,
// profile lookup, and group role changes. Every endpoint authenticates the
// caller with the same session tokens the WebSocket join uses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/onemessenger/relay/internal/auth"
	"github.com/onemessenger/relay/internal/router"
	"github.com/onemessenger/relay/internal/store"
)

// Accounts is the account lookup slice of the persistence gateway.
type Accounts interface {
	Account(ctx context.Context, handle string) (store.Account, error)
}

// Handler serves the REST endpoints under /api/.
type Handler struct {
	verifier auth.Verifier
	router   *router.Router
	accounts Accounts
	mux      *http.ServeMux
}

// New builds the REST handler.
func New(verifier auth.Verifier, rtr *router.Router, accounts Accounts) *Handler {
	h := &Handler{
		verifier: verifier,
		router:   rtr,
		accounts: accounts,
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("/api/history/private", h.handlePrivateHistory)
	h.mux.HandleFunc("/api/history/group", h.handleGroupHistory)
	h.mux.HandleFunc("/api/search", h.handleSearch)
	h.mux.HandleFunc("/api/groups/role", h.handleRoleChange)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// authenticate resolves the Bearer token to an account handle. It writes the
// 401 itself and returns "" on failure.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return ""
	}
	handle, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return ""
	}
	return handle
}

// messageJSON is the wire shape of one history entry.
type messageJSON struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient,omitempty"`
	GroupID   int64  `json:"groupId,omitempty"`
	Text      string `json:"text,omitempty"`
	MediaKind string `json:"mediaKind,omitempty"`
	MediaRef  string `json:"mediaRef,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

func toJSON(msgs []store.Message) []messageJSON {
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageJSON{
			ID:        m.ID,
			Sender:    m.Sender,
			Recipient: m.Recipient,
			GroupID:   m.GroupID,
			Text:      m.Text,
			MediaKind: m.MediaKind,
			MediaRef:  m.MediaRef,
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}

// handlePrivateHistory returns the caller's private history with the handle
// named by ?with=, oldest first.
func (h *Handler) handlePrivateHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller := h.authenticate(w, r)
	if caller == "" {
		return
	}
	peer := r.URL.Query().Get("with")
	if peer == "" {
		http.Error(w, "missing \"with\" parameter", http.StatusBadRequest)
		return
	}

	msgs, err := h.router.HistoryPrivate(r.Context(), caller, peer)
	if err != nil {
		log.Printf("api: private history %s<->%s: %v", caller, peer, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, toJSON(msgs))
}

// handleGroupHistory returns the history of the group named by ?group=. Only
// members may read it.
func (h *Handler) handleGroupHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller := h.authenticate(w, r)
	if caller == "" {
		return
	}
	groupID, err := strconv.ParseInt(r.URL.Query().Get("group"), 10, 64)
	if err != nil {
		http.Error(w, "invalid \"group\" parameter", http.StatusBadRequest)
		return
	}

	msgs, err := h.router.HistoryGroup(r.Context(), caller, groupID)
	if err != nil {
		if errors.Is(err, router.ErrRoleDenied) {
			http.Error(w, "not a member", http.StatusForbidden)
			return
		}
		log.Printf("api: group history group=%d caller=%s: %v", groupID, caller, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, toJSON(msgs))
}

// handleSearch returns the public profile for an exact handle.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if caller := h.authenticate(w, r); caller == "" {
		return
	}
	handle := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("handle")))
	if handle == "" {
		http.Error(w, "missing \"handle\" parameter", http.StatusBadRequest)
		return
	}

	a, err := h.accounts.Account(r.Context(), handle)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Printf("api: search handle=%s: %v", handle, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
		Bio         string `json:"bio,omitempty"`
	}{a.Handle, a.DisplayName, a.Bio})
}

// roleChangeRequest is the POST body for /api/groups/role.
type roleChangeRequest struct {
	GroupID int64  `json:"groupId"`
	Handle  string `json:"handle"`
	Role    string `json:"role"`
}

// handleRoleChange promotes or demotes a member. The authorization rules
// live in the router; this handler only translates the outcome to a status
// code.
func (h *Handler) handleRoleChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller := h.authenticate(w, r)
	if caller == "" {
		return
	}

	var req roleChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	role := store.Role(req.Role)
	if req.GroupID == 0 || req.Handle == "" || !store.ValidRole(role) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.router.ChangeRole(r.Context(), caller, req.GroupID, req.Handle, role)
	switch {
	case errors.Is(err, router.ErrRoleDenied):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "no such member", http.StatusNotFound)
	case err != nil:
		log.Printf("api: role change group=%d target=%s by=%s: %v", req.GroupID, req.Handle, caller, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
