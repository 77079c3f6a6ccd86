package store

import "fmt"

// Profile is a named bundle of system-text filters, tool-name filters, and
// a keep_tool_pairs retention count.
type Profile struct {
	ID            string
	Name          string
	CreatedAt     string
	SystemFilters []string
	ToolFilters   []string
	KeepToolPairs int
}

// SystemFilter is one system-text pattern belonging to a profile.
type SystemFilter struct {
	ID        string
	ProfileID string
	Pattern   string
	CreatedAt string
}

// ToolFilterRow is one dropped tool name belonging to a profile.
type ToolFilterRow struct {
	ID        string
	ProfileID string
	Name      string
	CreatedAt string
}

// CreateProfile inserts a new, empty filter profile and returns its id.
func (s *Store) CreateProfile(name string) (string, error) {
	id := newID()
	if _, err := s.db.Exec(`INSERT INTO filter_profiles (id, name) VALUES (?, ?)`, id, name); err != nil {
		return "", fmt.Errorf("creating filter profile %q: %w", name, err)
	}
	return id, nil
}

// ListProfiles returns every filter profile, oldest first.
func (s *Store) ListProfiles() ([]Profile, error) {
	rows, err := s.db.Query(`SELECT id, name, keep_tool_pairs, created_at FROM filter_profiles ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing filter profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.KeepToolPairs, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning filter profile row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProfile loads a profile's metadata plus its system- and tool-filter
// patterns, ready for internal/filter.Apply.
func (s *Store) GetProfile(id string) (Profile, error) {
	var p Profile
	row := s.db.QueryRow(`SELECT id, name, keep_tool_pairs, created_at FROM filter_profiles WHERE id = ?`, id)
	if err := row.Scan(&p.ID, &p.Name, &p.KeepToolPairs, &p.CreatedAt); err != nil {
		return Profile{}, err
	}

	sysRows, err := s.db.Query(`SELECT pattern FROM system_filters WHERE profile_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return Profile{}, fmt.Errorf("listing system filters for profile %s: %w", id, err)
	}
	defer sysRows.Close()
	for sysRows.Next() {
		var pattern string
		if err := sysRows.Scan(&pattern); err != nil {
			return Profile{}, err
		}
		p.SystemFilters = append(p.SystemFilters, pattern)
	}

	toolRows, err := s.db.Query(`SELECT name FROM tool_filters WHERE profile_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return Profile{}, fmt.Errorf("listing tool filters for profile %s: %w", id, err)
	}
	defer toolRows.Close()
	for toolRows.Next() {
		var name string
		if err := toolRows.Scan(&name); err != nil {
			return Profile{}, err
		}
		p.ToolFilters = append(p.ToolFilters, name)
	}

	return p, nil
}

// SetKeepToolPairs updates a profile's tool-pair retention count.
func (s *Store) SetKeepToolPairs(id string, keep int) error {
	if _, err := s.db.Exec(`UPDATE filter_profiles SET keep_tool_pairs = ? WHERE id = ?`, keep, id); err != nil {
		return fmt.Errorf("setting keep_tool_pairs for profile %s: %w", id, err)
	}
	return nil
}

// RenameProfile changes a profile's display name.
func (s *Store) RenameProfile(id, name string) error {
	if _, err := s.db.Exec(`UPDATE filter_profiles SET name = ? WHERE id = ?`, name, id); err != nil {
		return fmt.Errorf("renaming filter profile %s: %w", id, err)
	}
	return nil
}

// DeleteProfile removes a profile and, via foreign-key cascade, its
// system- and tool-filter rows. Sessions referencing it fall back to no
// active profile (ON DELETE SET NULL).
func (s *Store) DeleteProfile(id string) error {
	if _, err := s.db.Exec(`DELETE FROM filter_profiles WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting filter profile %s: %w", id, err)
	}
	return nil
}

// AddSystemFilter appends a system-text pattern to a profile.
func (s *Store) AddSystemFilter(profileID, pattern string) (string, error) {
	id := newID()
	if _, err := s.db.Exec(`INSERT INTO system_filters (id, profile_id, pattern) VALUES (?, ?, ?)`, id, profileID, pattern); err != nil {
		return "", fmt.Errorf("adding system filter to profile %s: %w", profileID, err)
	}
	return id, nil
}

// DeleteSystemFilter removes one system-text pattern by id.
func (s *Store) DeleteSystemFilter(id string) error {
	if _, err := s.db.Exec(`DELETE FROM system_filters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting system filter %s: %w", id, err)
	}
	return nil
}

// AddToolFilter appends a dropped-tool-name entry to a profile.
func (s *Store) AddToolFilter(profileID, name string) (string, error) {
	id := newID()
	if _, err := s.db.Exec(`INSERT INTO tool_filters (id, profile_id, name) VALUES (?, ?, ?)`, id, profileID, name); err != nil {
		return "", fmt.Errorf("adding tool filter to profile %s: %w", profileID, err)
	}
	return id, nil
}

// DeleteToolFilter removes one dropped-tool-name entry by id.
func (s *Store) DeleteToolFilter(id string) error {
	if _, err := s.db.Exec(`DELETE FROM tool_filters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting tool filter %s: %w", id, err)
	}
	return nil
}

// DefaultFilterSuggestions are the system filters `ctrlproxy profiles seed`
// adds to a profile.
var DefaultFilterSuggestions = []string{
	`^x-anthropic-billing-header: cc_version=`,
	`^You are Claude Code, Anthropic's official CLI for Claude\.$`,
}

// DefaultToolFilterSuggestions are the tool filters `ctrlproxy profiles seed`
// adds to a profile.
var DefaultToolFilterSuggestions = []string{"WebSearch"}

// EnsureDefaultProfile guarantees a "default" profile exists and that the
// active_profile_id setting points at a profile that actually exists,
// creating one and/or repointing the setting as needed.
func (s *Store) EnsureDefaultProfile() error {
	profiles, err := s.ListProfiles()
	if err != nil {
		return err
	}

	activeID, err := s.GetSetting("active_profile_id")
	if err != nil {
		return err
	}

	activeValid := false
	for _, p := range profiles {
		if activeID != "" && p.ID == activeID {
			activeValid = true
			break
		}
	}

	switch {
	case len(profiles) == 0:
		id, err := s.CreateProfile("default")
		if err != nil {
			return err
		}
		return s.SetActiveProfileID(id)
	case !activeValid:
		return s.SetActiveProfileID(profiles[0].ID)
	default:
		return nil
	}
}

// GetActiveProfileID returns the active_profile_id setting, or "" if unset.
func (s *Store) GetActiveProfileID() (string, error) {
	return s.GetSetting("active_profile_id")
}

// SetActiveProfileID sets the active_profile_id setting.
func (s *Store) SetActiveProfileID(profileID string) error {
	return s.SetSetting("active_profile_id", profileID)
}
