package proxy

import "testing"

func TestParseRoute_Native(t *testing.T) {
	tests := []struct {
		path          string
		wantSessionID string
		wantTail      string
	}{
		{"/_proxy/sess-1/v1/messages", "sess-1", "/v1/messages"},
		{"/_proxy/sess-1", "sess-1", ""},
		{"/_proxy/sess-1/", "sess-1", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			route, err := ParseRoute(tt.path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if route.Dialect != DialectNative {
				t.Errorf("expected DialectNative, got %d", route.Dialect)
			}
			if route.SessionID != tt.wantSessionID {
				t.Errorf("SessionID: expected %q, got %q", tt.wantSessionID, route.SessionID)
			}
			if route.Tail != tt.wantTail {
				t.Errorf("Tail: expected %q, got %q", tt.wantTail, route.Tail)
			}
		})
	}
}

func TestParseRoute_Framed(t *testing.T) {
	path := "/_bedrock/sess-1/us.anthropic.claude-haiku-4-5-20251001-v1:0/model/us.anthropic.claude-haiku-4-5-20251001-v1:0/invoke-with-response-stream"
	route, err := ParseRoute(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.Dialect != DialectFramed {
		t.Errorf("expected DialectFramed, got %d", route.Dialect)
	}
	if route.SessionID != "sess-1" {
		t.Errorf("SessionID: expected sess-1, got %q", route.SessionID)
	}
	if route.ModelID != "us.anthropic.claude-haiku-4-5-20251001-v1:0" {
		t.Errorf("ModelID: unexpected %q", route.ModelID)
	}
}

func TestParseRoute_FramedModelMismatch(t *testing.T) {
	path := "/_bedrock/sess-1/model-a/model/model-b/invoke-with-response-stream"
	if _, err := ParseRoute(path); err == nil {
		t.Error("expected error on model id mismatch")
	}
}

func TestParseRoute_Invalid(t *testing.T) {
	tests := []string{
		"",
		"/",
		"/invalid/path",
		"/_bedrock/sess-1/model-a/notmodel/model-a/invoke-with-response-stream",
		"/_bedrock/sess-1/model-a/model/model-a/wrong-action",
	}
	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			if _, err := ParseRoute(path); err == nil {
				t.Errorf("expected error for path %q", path)
			}
		})
	}
}
