package store

import "fmt"

// Session is the administrative envelope for a stream of requests to one
// upstream.
type Session struct {
	ID                string
	Name              string
	TargetURL         string
	TLSVerifyDisabled bool
	AuthHeader        *string
	XAPIKey           *string
	ProfileID         *string
	ErrorInject       *string
	WebfetchIntercept bool
	Whitelist         *string // newline-separated domains
	CreatedAt         string
	RequestCount      int64
}

// CreateSession inserts a new session and returns its generated id.
func (s *Store) CreateSession(sess Session) (string, error) {
	id := newID()
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, name, target_url, tls_verify_disabled, auth_header, x_api_key, profile_id, error_inject, webfetch_intercept, whitelist)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sess.Name, sess.TargetURL, sess.TLSVerifyDisabled, sess.AuthHeader, sess.XAPIKey, sess.ProfileID, sess.ErrorInject, sess.WebfetchIntercept, sess.Whitelist,
	)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return id, nil
}

func scanSession(row interface {
	Scan(dest ...any) error
}) (Session, error) {
	var sess Session
	var tlsDisabled int
	var intercept int
	err := row.Scan(
		&sess.ID, &sess.Name, &sess.TargetURL, &tlsDisabled, &sess.AuthHeader, &sess.XAPIKey,
		&sess.ProfileID, &sess.ErrorInject, &intercept, &sess.Whitelist, &sess.CreatedAt, &sess.RequestCount,
	)
	sess.TLSVerifyDisabled = tlsDisabled != 0
	sess.WebfetchIntercept = intercept != 0
	return sess, err
}

const sessionSelectColumns = `s.id, s.name, s.target_url, s.tls_verify_disabled, s.auth_header, s.x_api_key,
	s.profile_id, s.error_inject, s.webfetch_intercept, s.whitelist, s.created_at,
	COALESCE((SELECT COUNT(*) FROM requests r WHERE r.session_id = s.id), 0)`

// GetSession loads one session by id. Returns an error (sql.ErrNoRows) if absent.
func (s *Store) GetSession(id string) (Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionSelectColumns+` FROM sessions s WHERE s.id = ?`, id)
	return scanSession(row)
}

// ListSessions returns every session, most recently created first.
func (s *Store) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionSelectColumns + ` FROM sessions s ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateSession overwrites every mutable field of an existing session.
func (s *Store) UpdateSession(sess Session) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET name = ?, target_url = ?, tls_verify_disabled = ?, auth_header = ?, x_api_key = ?,
		 profile_id = ?, error_inject = ?, webfetch_intercept = ?, whitelist = ? WHERE id = ?`,
		sess.Name, sess.TargetURL, sess.TLSVerifyDisabled, sess.AuthHeader, sess.XAPIKey,
		sess.ProfileID, sess.ErrorInject, sess.WebfetchIntercept, sess.Whitelist, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", sess.ID, err)
	}
	return nil
}

// SetErrorInject sets or clears (key == nil) a session's error-injection key.
func (s *Store) SetErrorInject(sessionID string, key *string) error {
	_, err := s.db.Exec(`UPDATE sessions SET error_inject = ? WHERE id = ?`, key, sessionID)
	if err != nil {
		return fmt.Errorf("setting error_inject for session %s: %w", sessionID, err)
	}
	return nil
}

// SetWebfetchIntercept toggles a session's interception flag.
func (s *Store) SetWebfetchIntercept(sessionID string, enabled bool) error {
	_, err := s.db.Exec(`UPDATE sessions SET webfetch_intercept = ? WHERE id = ?`, enabled, sessionID)
	if err != nil {
		return fmt.Errorf("setting webfetch_intercept for session %s: %w", sessionID, err)
	}
	return nil
}

// SetWhitelist sets or clears (whitelist == nil) a session's auto-accept
// domain whitelist.
func (s *Store) SetWhitelist(sessionID string, whitelist *string) error {
	_, err := s.db.Exec(`UPDATE sessions SET whitelist = ? WHERE id = ?`, whitelist, sessionID)
	if err != nil {
		return fmt.Errorf("setting whitelist for session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteSession removes a session and, via foreign-key cascade, every
// request logged against it.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// ClearRequests deletes every logged request for a session without
// touching the session itself.
func (s *Store) ClearRequests(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM requests WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("clearing requests for session %s: %w", sessionID, err)
	}
	return nil
}
