package models

import "time"

// Account status values
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusLocked    = "locked"
	StatusSuspended = "suspended"
)

// Account roles
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleViewer  = "viewer"
)

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         string // "admin", "manager", "viewer"
	Status       string // "active", "inactive", "locked", "suspended"
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the account may authenticate at all.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// ValidRole reports whether s is a recognized role.
func ValidRole(s string) bool {
	return s == RoleAdmin || s == RoleManager || s == RoleViewer
}

// ValidStatus reports whether s is a recognized account status.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusInactive, StatusLocked, StatusSuspended:
		return true
	}
	return false
}
