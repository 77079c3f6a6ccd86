package dashboard

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ctrlproxy/ctrlproxy/internal/approval"
	"github.com/ctrlproxy/ctrlproxy/internal/store"
)

func newTestDashboard(t *testing.T) (*Dashboard, *store.Store, *approval.Queue) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	queue := approval.New()
	d := New(Options{Store: st, Queue: queue})
	return d, st, queue
}

func TestHandleAPISessions(t *testing.T) {
	d, st, _ := newTestDashboard(t)
	if _, err := st.CreateSession(store.Session{Name: "prod", TargetURL: "https://api.anthropic.com"}); err != nil {
		t.Fatalf("creating session: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/sessions", nil)
	rec := httptest.NewRecorder()
	d.APIHandler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var sessions []store.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Name != "prod" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestHandleAPIPending(t *testing.T) {
	d, _, queue := newTestDashboard(t)
	queue.Enqueue("sess-1", []approval.ToolInfo{{Name: "WebFetch", InputSummary: "url"}})

	req := httptest.NewRequest("GET", "/api/pending", nil)
	rec := httptest.NewRecorder()
	d.APIHandler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var pending []pendingJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(pending) != 1 || pending[0].SessionID != "sess-1" {
		t.Fatalf("unexpected pending: %+v", pending)
	}
}

func TestHandleAPIResolve(t *testing.T) {
	d, _, queue := newTestDashboard(t)
	id, reply := queue.Enqueue("sess-1", nil)

	body, _ := json.Marshal(map[string]string{"id": id, "decision": "accept"})
	req := httptest.NewRequest("POST", "/api/pending/resolve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.APIHandler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := <-reply; got != approval.Accept {
		t.Fatalf("expected Accept delivered to waiter, got %v", got)
	}
}

func TestHandleAPIResolve_UnknownID(t *testing.T) {
	d, _, _ := newTestDashboard(t)

	body, _ := json.Marshal(map[string]string{"id": "nonexistent", "decision": "accept"})
	req := httptest.NewRequest("POST", "/api/pending/resolve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.APIHandler().ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("expected 404 for unknown approval id, got %d", rec.Code)
	}
}

func TestHandleAPIResolve_InvalidDecision(t *testing.T) {
	d, _, queue := newTestDashboard(t)
	id, _ := queue.Enqueue("sess-1", nil)

	body, _ := json.Marshal(map[string]string{"id": id, "decision": "maybe"})
	req := httptest.NewRequest("POST", "/api/pending/resolve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.APIHandler().ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("expected 400 for invalid decision, got %d", rec.Code)
	}
}

func TestNewSubscribesToQueueForBroadcast(t *testing.T) {
	d, _, queue := newTestDashboard(t)
	if d.wsHub == nil {
		t.Fatal("expected wsHub to be initialized")
	}
	// Enqueue should not panic or block even with no websocket clients
	// connected; the hub's broadcast channel just drops on no subscribers.
	queue.Enqueue("sess-1", []approval.ToolInfo{{Name: "WebFetch"}})
}
