// Package session holds the live session registry: per-session history,
// SSE fan-out, memory bounds, and the bridge to semantic-event subscribers.
package session

import (
	"time"

	"github.com/cohort-dev/cohort/internal/persistence"
)

// Role names what a session's specialist is expected to do.
type Role string

const (
	RoleCoordinator Role = "COORDINATOR"
	RoleImplementor Role = "IMPLEMENTOR"
	RoleVerifier    Role = "VERIFIER"
	RoleSolo        Role = "SOLO"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleCoordinator, RoleImplementor, RoleVerifier, RoleSolo:
		return true
	}
	return false
}

// Session is one conversational thread with one upstream specialist.
// Provider, role and workspace are immutable after creation.
type Session struct {
	ID              string    `json:"id"`
	WorkspaceID     string    `json:"workspaceId"`
	Title           string    `json:"title,omitempty"`
	Cwd             string    `json:"cwd"`
	Provider        string    `json:"provider"`
	Role            Role      `json:"role"`
	SpecialistID    string    `json:"specialistId,omitempty"`
	ParentSessionID string    `json:"parentSessionId,omitempty"`
	SystemHeader    string    `json:"systemHeader,omitempty"`
	FirstPromptSent bool      `json:"firstPromptSent"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Record converts the session to its durable shape.
func (s *Session) Record() *persistence.SessionRecord {
	return &persistence.SessionRecord{
		ID:              s.ID,
		WorkspaceID:     s.WorkspaceID,
		Title:           s.Title,
		Cwd:             s.Cwd,
		Provider:        s.Provider,
		Role:            string(s.Role),
		SpecialistID:    s.SpecialistID,
		ParentSessionID: s.ParentSessionID,
		SystemHeader:    s.SystemHeader,
		FirstPromptSent: s.FirstPromptSent,
		CreatedAt:       s.CreatedAt,
	}
}

// FromRecord converts a durable record back into a live session.
func FromRecord(rec *persistence.SessionRecord) *Session {
	return &Session{
		ID:              rec.ID,
		WorkspaceID:     rec.WorkspaceID,
		Title:           rec.Title,
		Cwd:             rec.Cwd,
		Provider:        rec.Provider,
		Role:            Role(rec.Role),
		SpecialistID:    rec.SpecialistID,
		ParentSessionID: rec.ParentSessionID,
		SystemHeader:    rec.SystemHeader,
		FirstPromptSent: rec.FirstPromptSent,
		CreatedAt:       rec.CreatedAt,
	}
}
