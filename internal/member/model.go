package member

import (
	"errors"
	"time"

	"pettrack-auth/internal/token"
)

var (
	ErrNotFound          = errors.New("member not found")
	ErrAlreadyRegistered = errors.New("member already registered")
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusRegister  Status = "REGISTER"
	StatusSuspended Status = "SUSPENDED"
	StatusDormant   Status = "DORMANT"
	StatusDeleted   Status = "DELETED"
)

// Restricted statuses block login. Callers must not reveal which one applies.
func (s Status) Restricted() bool {
	switch s {
	case StatusSuspended, StatusDormant, StatusDeleted:
		return true
	default:
		return false
	}
}

type Member struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
	Provider  string
	Role      token.Role
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pending reports whether the member has been provisioned from a social
// profile but has not finished signup.
func (m Member) Pending() bool {
	return m.Status == StatusRegister
}
