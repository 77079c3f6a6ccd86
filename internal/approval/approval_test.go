package approval

import "testing"

func TestEnqueueAndResolve(t *testing.T) {
	q := New()
	id, reply := q.Enqueue("sess-1", []ToolInfo{{Name: "WebFetch", InputSummary: "URL: https://example.com"}})

	pending := q.ListPending("sess-1")
	if _, ok := pending[id]; !ok {
		t.Fatalf("expected approval %s to be listed", id)
	}

	if ok := q.Resolve(id, Accept); !ok {
		t.Fatalf("expected resolve to succeed")
	}
	if got := <-reply; got != Accept {
		t.Fatalf("expected Accept, got %v", got)
	}

	if ok := q.Resolve(id, Fail); ok {
		t.Fatalf("expected double-resolve to fail")
	}
}

func TestListPendingFiltersBySession(t *testing.T) {
	q := New()
	q.Enqueue("sess-1", nil)
	q.Enqueue("sess-2", nil)

	if len(q.ListPending("sess-1")) != 1 {
		t.Fatalf("expected 1 pending for sess-1")
	}
}

func TestSubscribeNotifiedOnEnqueue(t *testing.T) {
	q := New()
	var got Pending
	q.Subscribe(func(id string, p Pending) { got = p })
	q.Enqueue("sess-1", []ToolInfo{{Name: "WebFetch"}})

	if got.SessionID != "sess-1" {
		t.Fatalf("expected subscriber to be notified, got %+v", got)
	}
}

func TestRemoveWithoutResolve(t *testing.T) {
	q := New()
	id, _ := q.Enqueue("sess-1", nil)
	q.Remove(id)
	if ok := q.Resolve(id, Accept); ok {
		t.Fatalf("expected resolve after remove to fail")
	}
}

func TestListAllSpansSessions(t *testing.T) {
	q := New()
	id1, _ := q.Enqueue("sess-1", []ToolInfo{{Name: "WebFetch"}})
	id2, _ := q.Enqueue("sess-2", nil)

	all := q.ListAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 pending approvals, got %d", len(all))
	}
	if all[id1].SessionID != "sess-1" {
		t.Errorf("expected %s to belong to sess-1, got %+v", id1, all[id1])
	}
	if all[id2].SessionID != "sess-2" {
		t.Errorf("expected %s to belong to sess-2, got %+v", id2, all[id2])
	}

	q.Resolve(id1, Accept)
	if len(q.ListAll()) != 1 {
		t.Fatalf("expected resolved approval to drop out of ListAll")
	}
}
