package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Access describes how a member can interact with the system. It is either
// LoginCapable or RecordOnly; code that needs an email must type-switch.
type Access interface {
	accessKind() string
}

// LoginCapable members have credentials and a reachable email address.
type LoginCapable struct {
	Email        string
	PasswordHash string
}

// RecordOnly members exist for bookkeeping (e.g. bulk-created) and cannot log in.
type RecordOnly struct{}

func (LoginCapable) accessKind() string { return "login" }
func (RecordOnly) accessKind() string   { return "record_only" }

type Member struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Phone    string    `json:"phone,omitempty"`
	Role     Role      `json:"role"`
	Active   bool      `json:"active"`
	JoinedAt time.Time `json:"joined_at"`
	Access   Access    `json:"-"`
}

// AccessKind is "login" or "record_only".
func (m *Member) AccessKind() string {
	if m.Access == nil {
		return RecordOnly{}.accessKind()
	}
	return m.Access.accessKind()
}

// Email returns the member's address if the member can log in.
func (m *Member) Email() (string, bool) {
	lc, ok := m.Access.(LoginCapable)
	if !ok || lc.Email == "" {
		return "", false
	}
	return lc.Email, true
}
