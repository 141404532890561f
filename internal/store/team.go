package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/basket/boss/internal/taxonomy"
)

// TeamRole is the closed role set from SPEC §3.1.
type TeamRole string

const (
	RoleDeveloper TeamRole = "Developer"
	RoleAdmin     TeamRole = "Admin"
	RoleMarketing TeamRole = "Marketing"
	RoleDesign    TeamRole = "Design"
	RoleOther     TeamRole = "other"
)

// TeamMember mirrors SPEC §3.1.
type TeamMember struct {
	Name               string    `json:"name"`
	Role               TeamRole  `json:"role"`
	TransportID        string    `json:"transport_id"`
	SecondaryChannelID string    `json:"secondary_channel_id"`
	Email              string    `json:"email"`
	Timezone           string    `json:"timezone"`
	WorkStart          string    `json:"work_start"` // HH:MM local
	Active             bool      `json:"active"`
	Skills             []string  `json:"skills"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultEstimateMinutes implements the role-default table from SPEC §4.7's
// self-answering loop (dev=4h, admin=2h, marketing=3h, design=6h).
func (r TeamRole) DefaultEstimateMinutes() int {
	switch r {
	case RoleDeveloper:
		return 4 * 60
	case RoleAdmin:
		return 2 * 60
	case RoleMarketing:
		return 3 * 60
	case RoleDesign:
		return 6 * 60
	default:
		return 4 * 60
	}
}

// GetTeamMemberByName is tier 1 of the 3-tier assignee lookup (SPEC §4.8).
func (s *Store) GetTeamMemberByName(ctx context.Context, name string) (*TeamMember, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, role, transport_id, secondary_channel_id, email, timezone, work_start, active, skills, created_at, updated_at
		FROM team_members WHERE name = ? COLLATE NOCASE;
	`, name)
	var m TeamMember
	var role string
	var skillsJSON string
	var active int
	var createdAt, updatedAt string
	err := row.Scan(&m.Name, &role, &m.TransportID, &m.SecondaryChannelID, &m.Email, &m.Timezone, &m.WorkStart, &active, &skillsJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "GetTeamMemberByName", Err: err}
	}
	m.Role = TeamRole(role)
	m.Active = active != 0
	m.CreatedAt = parseTimeLenient(createdAt)
	m.UpdatedAt = parseTimeLenient(updatedAt)
	_ = json.Unmarshal([]byte(skillsJSON), &m.Skills)
	return &m, nil
}

// UpsertTeamMember creates or updates a team member by name.
func (s *Store) UpsertTeamMember(ctx context.Context, m TeamMember) error {
	skillsJSON, _ := json.Marshal(nonNil(m.Skills))
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (name, role, transport_id, secondary_channel_id, email, timezone, work_start, active, skills, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			role=excluded.role, transport_id=excluded.transport_id, secondary_channel_id=excluded.secondary_channel_id,
			email=excluded.email, timezone=excluded.timezone, work_start=excluded.work_start,
			active=excluded.active, skills=excluded.skills, updated_at=excluded.updated_at;
	`, m.Name, string(m.Role), m.TransportID, m.SecondaryChannelID, m.Email, m.Timezone, m.WorkStart, boolToInt(m.Active), string(skillsJSON), now, now)
	if err != nil {
		return &taxonomy.PersistenceError{Op: "UpsertTeamMember", Err: err}
	}
	return nil
}

// ListTeamMembers lists all team members ordered by name.
func (s *Store) ListTeamMembers(ctx context.Context) ([]TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, role, transport_id, secondary_channel_id, email, timezone, work_start, active, skills, created_at, updated_at
		FROM team_members ORDER BY name;
	`)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ListTeamMembers", Err: err}
	}
	defer rows.Close()
	var out []TeamMember
	for rows.Next() {
		var m TeamMember
		var role string
		var skillsJSON string
		var active int
		var createdAt, updatedAt string
		if err := rows.Scan(&m.Name, &role, &m.TransportID, &m.SecondaryChannelID, &m.Email, &m.Timezone, &m.WorkStart, &active, &skillsJSON, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		m.Role = TeamRole(role)
		m.Active = active != 0
		m.CreatedAt = parseTimeLenient(createdAt)
		m.UpdatedAt = parseTimeLenient(updatedAt)
		_ = json.Unmarshal([]byte(skillsJSON), &m.Skills)
		out = append(out, m)
	}
	return out, rows.Err()
}
