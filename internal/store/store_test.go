package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionCRUD(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateSession(Session{Name: "prod", TargetURL: "https://api.anthropic.com"})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	got, err := s.GetSession(id)
	if err != nil {
		t.Fatalf("getting session: %v", err)
	}
	if got.Name != "prod" || got.RequestCount != 0 {
		t.Fatalf("unexpected session: %+v", got)
	}

	got.Name = "prod-renamed"
	if err := s.UpdateSession(got); err != nil {
		t.Fatalf("updating session: %v", err)
	}
	got, _ = s.GetSession(id)
	if got.Name != "prod-renamed" {
		t.Fatalf("rename did not persist: %+v", got)
	}

	key := "not_found_error"
	if err := s.SetErrorInject(id, &key); err != nil {
		t.Fatalf("setting error inject: %v", err)
	}
	got, _ = s.GetSession(id)
	if got.ErrorInject == nil || *got.ErrorInject != key {
		t.Fatalf("error inject did not persist: %+v", got)
	}

	if err := s.DeleteSession(id); err != nil {
		t.Fatalf("deleting session: %v", err)
	}
	if _, err := s.GetSession(id); err == nil {
		t.Fatalf("expected error after deleting session")
	}
}

func TestFilterProfileCRUD(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateProfile("strict")
	if err != nil {
		t.Fatalf("creating profile: %v", err)
	}

	if _, err := s.AddSystemFilter(id, "^You are Claude Code"); err != nil {
		t.Fatalf("adding system filter: %v", err)
	}
	if _, err := s.AddToolFilter(id, "WebSearch"); err != nil {
		t.Fatalf("adding tool filter: %v", err)
	}
	if err := s.SetKeepToolPairs(id, 3); err != nil {
		t.Fatalf("setting keep_tool_pairs: %v", err)
	}

	got, err := s.GetProfile(id)
	if err != nil {
		t.Fatalf("getting profile: %v", err)
	}
	if len(got.SystemFilters) != 1 || len(got.ToolFilters) != 1 || got.KeepToolPairs != 3 {
		t.Fatalf("unexpected profile: %+v", got)
	}

	if err := s.DeleteProfile(id); err != nil {
		t.Fatalf("deleting profile: %v", err)
	}
	if _, err := s.GetProfile(id); err == nil {
		t.Fatalf("expected error after deleting profile")
	}
}

func TestEnsureDefaultProfileCreatesOne(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnsureDefaultProfile(); err != nil {
		t.Fatalf("ensuring default profile: %v", err)
	}

	profiles, err := s.ListProfiles()
	if err != nil {
		t.Fatalf("listing profiles: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Name != "default" {
		t.Fatalf("expected a single 'default' profile, got %+v", profiles)
	}

	activeID, err := s.GetActiveProfileID()
	if err != nil {
		t.Fatalf("getting active profile id: %v", err)
	}
	if activeID != profiles[0].ID {
		t.Fatalf("active_profile_id %q does not point at the default profile %q", activeID, profiles[0].ID)
	}

	if err := s.EnsureDefaultProfile(); err != nil {
		t.Fatalf("re-ensuring default profile: %v", err)
	}
	profiles, _ = s.ListProfiles()
	if len(profiles) != 1 {
		t.Fatalf("expected ensure to be idempotent, got %d profiles", len(profiles))
	}
}

func TestRequestLogAndResponse(t *testing.T) {
	s := openTestStore(t)
	sessionID, _ := s.CreateSession(Session{Name: "s", TargetURL: "https://api.anthropic.com"})
	ctx := context.Background()

	reqID, err := s.InsertRequest(ctx, InsertRequestParams{
		SessionID: sessionID,
		Method:    "POST",
		Path:      "/v1/messages",
		Timestamp: "2026-07-31T00:00:00Z",
		Body:      []byte(`{"model":"claude-3","messages":[{"role":"user","content":"hi"}]}`),
	})
	if err != nil {
		t.Fatalf("inserting request: %v", err)
	}

	if err := s.UpdateResponse(ctx, reqID, 200, "", []byte("event: message_delta\ndata: {\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n")); err != nil {
		t.Fatalf("updating response: %v", err)
	}

	got, err := s.GetRequest(reqID)
	if err != nil {
		t.Fatalf("getting request: %v", err)
	}
	if got.Model == nil || *got.Model != "claude-3" {
		t.Fatalf("unexpected model: %+v", got.Model)
	}
	if got.ResponseStatus == nil || *got.ResponseStatus != 200 {
		t.Fatalf("unexpected response status: %+v", got.ResponseStatus)
	}
	if got.ResponseEventsJSON == nil || *got.ResponseEventsJSON == "[]" {
		t.Fatalf("expected a non-empty decoded events array, got %v", got.ResponseEventsJSON)
	}

	list, err := s.ListRequests(sessionID)
	if err != nil {
		t.Fatalf("listing requests: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 request, got %d", len(list))
	}
}

func TestSessionLoggerImplementsInterfaces(t *testing.T) {
	s := openTestStore(t)
	sessionID, _ := s.CreateSession(Session{Name: "s", TargetURL: "https://api.anthropic.com"})

	logger := &SessionLogger{Store: s, SessionID: sessionID, Method: "POST", Path: "/v1/messages", Timestamp: func() string { return "2026-07-31T00:00:00Z" }}

	ctx := context.Background()
	id, err := logger.LogRequest(ctx, "webfetch follow-up (round 1)", []byte(`{"model":"claude-3"}`))
	if err != nil {
		t.Fatalf("LogRequest: %v", err)
	}
	logger.StoreResponse(ctx, id, 200, []byte("event: message_delta\ndata: {\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n"))

	got, err := s.GetRequest(id)
	if err != nil {
		t.Fatalf("getting logged request: %v", err)
	}
	if got.Note == nil || *got.Note != "webfetch follow-up (round 1)" {
		t.Fatalf("unexpected note: %+v", got.Note)
	}
}
