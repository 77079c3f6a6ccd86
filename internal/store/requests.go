package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ctrlproxy/ctrlproxy/internal/requestlog"
	"github.com/ctrlproxy/ctrlproxy/internal/sse"
)

// Request is one logged proxied request/response exchange, including the
// interception auxiliary fields for an intercepted exchange's originating
// request.
type Request struct {
	ID                    string
	SessionID             string
	Method                string
	Path                  string
	Timestamp             string
	HeadersJSON           *string
	BodyJSON              *string
	TruncatedJSON         *string
	Model                 *string
	ToolsJSON             *string
	MessagesJSON          *string
	SystemJSON            *string
	ParamsJSON            *string
	Note                  *string
	CreatedAt             string
	ResponseStatus        *int
	ResponseHeadersJSON   *string
	ResponseBody          *string
	ResponseEventsJSON    *string
	InterceptFirstBody    *string
	InterceptFirstEvents  *string
	InterceptFollowupJSON *string
	InterceptRoundsJSON   *string
}

// InsertRequestParams carries everything needed to log one client request.
type InsertRequestParams struct {
	SessionID     string
	Method        string
	Path          string
	Timestamp     string
	HeadersJSON   string
	Body          []byte // raw request body, "" if none
	ModelOverride string
	Note          string // overrides the note requestlog.ExtractFields would derive, e.g. "webfetch follow-up (round 2)"
}

// InsertRequest persists one request row using requestlog.ExtractFields to
// derive the body-shaped columns, and returns the new row's id.
func (s *Store) InsertRequest(ctx context.Context, p InsertRequestParams) (string, error) {
	id := newID()
	fields := requestlog.ExtractFields(p.Body, p.ModelOverride)

	note := fields.Note
	if p.Note != "" {
		note = p.Note
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (id, session_id, method, path, timestamp, headers_json, body_json, truncated_json, model, tools_json, messages_json, system_json, params_json, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.SessionID, p.Method, p.Path, p.Timestamp,
		nullable(p.HeadersJSON), nullable(fields.BodyJSON), nullable(fields.TruncatedJSON), nullable(fields.Model),
		nullable(fields.ToolsJSON), nullable(fields.MessagesJSON), nullable(fields.SystemJSON), nullable(fields.ParamsJSON),
		nullable(note),
	)
	if err != nil {
		return "", fmt.Errorf("inserting request log row: %w", err)
	}
	return id, nil
}

// UpdateResponse records a request's upstream response: status, headers,
// raw body, and the body decoded as an SSE event array (empty array if the
// body isn't SSE or fails to parse).
func (s *Store) UpdateResponse(ctx context.Context, requestID string, status int, headersJSON string, body []byte) error {
	events, err := sse.ParseEvents(body)
	if err != nil {
		events = nil
	}
	eventsJSON, err := jsonArray(events)
	if err != nil {
		return fmt.Errorf("encoding response events for request %s: %w", requestID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE requests SET response_status = ?, response_headers_json = ?, response_body = ?, response_events_json = ? WHERE id = ?`,
		status, nullable(headersJSON), nullable(string(body)), eventsJSON, requestID,
	)
	if err != nil {
		return fmt.Errorf("updating response for request %s: %w", requestID, err)
	}
	return nil
}

// UpdateInterceptionFields persists the auxiliary fields on an
// intercepted exchange's originating request row.
func (s *Store) UpdateInterceptionFields(ctx context.Context, requestID, firstResponseBody, firstResponseEventsJSON, followupBodyJSON, roundsJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE requests SET intercept_first_body = ?, intercept_first_events = ?, intercept_followup_json = ?, intercept_rounds_json = ? WHERE id = ?`,
		nullable(firstResponseBody), nullable(firstResponseEventsJSON), nullable(followupBodyJSON), nullable(roundsJSON), requestID,
	)
	if err != nil {
		return fmt.Errorf("updating interception fields for request %s: %w", requestID, err)
	}
	return nil
}

// ListRequests returns every request logged for a session, most recent first.
func (s *Store) ListRequests(sessionID string) ([]Request, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, method, path, timestamp, headers_json, body_json, truncated_json, model,
		 tools_json, messages_json, system_json, params_json, note, created_at,
		 response_status, response_headers_json, response_body, response_events_json,
		 intercept_first_body, intercept_first_events, intercept_followup_json, intercept_rounds_json
		 FROM requests WHERE session_id = ? ORDER BY created_at DESC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing requests for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning request row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRequest loads one request by id.
func (s *Store) GetRequest(id string) (Request, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, method, path, timestamp, headers_json, body_json, truncated_json, model,
		 tools_json, messages_json, system_json, params_json, note, created_at,
		 response_status, response_headers_json, response_body, response_events_json,
		 intercept_first_body, intercept_first_events, intercept_followup_json, intercept_rounds_json
		 FROM requests WHERE id = ?`, id,
	)
	return scanRequest(row)
}

func scanRequest(row interface{ Scan(dest ...any) error }) (Request, error) {
	var r Request
	err := row.Scan(
		&r.ID, &r.SessionID, &r.Method, &r.Path, &r.Timestamp, &r.HeadersJSON, &r.BodyJSON, &r.TruncatedJSON, &r.Model,
		&r.ToolsJSON, &r.MessagesJSON, &r.SystemJSON, &r.ParamsJSON, &r.Note, &r.CreatedAt,
		&r.ResponseStatus, &r.ResponseHeadersJSON, &r.ResponseBody, &r.ResponseEventsJSON,
		&r.InterceptFirstBody, &r.InterceptFirstEvents, &r.InterceptFollowupJSON, &r.InterceptRoundsJSON,
	)
	return r, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonArray(events []sse.Event) (string, error) {
	if events == nil {
		events = []sse.Event{}
	}
	b, err := json.Marshal(events)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SessionLogger implements webfetch.Logger and intercept.RoundLogger,
// binding every logged request/response pair to one session, method, and
// path for the lifetime of one client request.
type SessionLogger struct {
	Store     *Store
	SessionID string
	Method    string
	Path      string
	Headers   string
	Timestamp func() string
}

// LogRequest persists requestBody as a new request row under this logger's
// session, returning its id.
func (l *SessionLogger) LogRequest(ctx context.Context, note string, requestBody []byte) (string, error) {
	ts := ""
	if l.Timestamp != nil {
		ts = l.Timestamp()
	}
	id, err := l.Store.InsertRequest(ctx, InsertRequestParams{
		SessionID:   l.SessionID,
		Method:      l.Method,
		Path:        l.Path,
		Timestamp:   ts,
		HeadersJSON: l.Headers,
		Body:        requestBody,
		Note:        note,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// StoreResponse persists a response for a previously logged request.
// Failures are logged at warning level and otherwise swallowed: response
// persistence is best-effort and must never fail the caller's request.
func (l *SessionLogger) StoreResponse(ctx context.Context, requestID string, status int, body []byte) {
	if err := l.Store.UpdateResponse(ctx, requestID, status, "", body); err != nil {
		slog.Warn("store: failed to persist response", "request_id", requestID, "error", err)
	}
}
