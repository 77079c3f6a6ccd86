// Package dashboard exposes a thin JSON API and websocket feed for
// operator tooling. It renders no HTML: the dashboard's job is to answer
// "what's pending?" and "what's this session been doing?", not to be a
// UI.
//
//	GET  /api/sessions         — session list with request counts
//	GET  /api/pending          — all pending tool-call approvals
//	POST /api/pending/resolve  — resolve one pending approval
//	GET  /dashboard/ws         — live feed of newly-enqueued approvals
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ctrlproxy/ctrlproxy/internal/approval"
	"github.com/ctrlproxy/ctrlproxy/internal/store"
)

// Options holds the dependencies injected into the dashboard.
type Options struct {
	Store *store.Store
	Queue *approval.Queue
}

// Dashboard serves the JSON API and websocket feed.
type Dashboard struct {
	store *store.Store
	queue *approval.Queue
	wsHub *wsHub
}

// New creates a new Dashboard with the given dependencies and wires its
// websocket hub to the approval queue so every newly-enqueued approval
// broadcasts to connected clients.
func New(opts Options) *Dashboard {
	d := &Dashboard{
		store: opts.Store,
		queue: opts.Queue,
		wsHub: newWSHub(),
	}

	go d.wsHub.run()

	d.queue.Subscribe(func(id string, p approval.Pending) {
		data, err := json.Marshal(pendingJSON{ID: id, SessionID: p.SessionID, Tools: p.Tools})
		if err != nil {
			slog.Error("failed to marshal pending approval broadcast", "error", err)
			return
		}
		d.wsHub.broadcast(data)
	})

	return d
}

// WebSocketHandler returns an http.Handler for the /dashboard/ws endpoint.
func (d *Dashboard) WebSocketHandler() http.Handler {
	return http.HandlerFunc(d.handleWebSocket)
}

// APIHandler returns an http.Handler for the /api/ REST endpoints.
func (d *Dashboard) APIHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", d.handleAPISessions)
	mux.HandleFunc("/api/pending", d.handleAPIPending)
	mux.HandleFunc("/api/pending/resolve", d.handleAPIResolve)
	return mux
}

type pendingJSON struct {
	ID        string               `json:"id"`
	SessionID string               `json:"session_id"`
	Tools     []approval.ToolInfo  `json:"tools"`
}

// handleAPISessions returns every session with its request count.
// GET /api/sessions
func (d *Dashboard) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	sessions, err := d.store.ListSessions()
	if err != nil {
		slog.Error("listing sessions for dashboard", "error", err)
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleAPIPending returns every pending tool-call approval across all
// sessions. GET /api/pending
func (d *Dashboard) handleAPIPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	all := d.queue.ListAll()
	out := make([]pendingJSON, 0, len(all))
	for id, p := range all {
		out = append(out, pendingJSON{ID: id, SessionID: p.SessionID, Tools: p.Tools})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAPIResolve resolves one pending approval with an operator's
// decision. POST /api/pending/resolve { "id": "...", "decision": "accept" }
func (d *Dashboard) handleAPIResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID       string `json:"id"`
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	decision, ok := parseDecision(req.Decision)
	if !ok {
		http.Error(w, "decision must be one of fail, mock, accept", http.StatusBadRequest)
		return
	}

	if !d.queue.Resolve(req.ID, decision) {
		http.Error(w, "no such pending approval", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved", "id": req.ID})
}

func parseDecision(s string) (approval.Decision, bool) {
	switch s {
	case "fail":
		return approval.Fail, true
	case "mock":
		return approval.Mock, true
	case "accept":
		return approval.Accept, true
	default:
		return 0, false
	}
}

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
