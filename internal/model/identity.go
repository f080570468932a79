package model

import (
	"errors"
	"time"
)

// Identity is a worker or administrator account belonging to one tenant.
type Identity struct {
	ID          int64      `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	PINHash     string     `json:"-"`
	Role        string     `json:"role"`
	Active      bool       `json:"active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Roles.
const (
	RoleAdmin  = "admin"
	RoleWorker = "worker"
)

// ValidRole reports whether role is a known identity role.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleWorker
}

// RoleAtLeast checks if role meets or exceeds the minimum required role.
func RoleAtLeast(role, minimum string) bool {
	levels := map[string]int{
		RoleAdmin:  2,
		RoleWorker: 1,
	}
	return levels[role] >= levels[minimum] && levels[minimum] > 0
}

// PINLength is the exact number of digits in a PIN.
const PINLength = 8

var ErrInvalidPIN = errors.New("pin must be exactly 8 digits")

// ValidatePIN checks that pin is exactly PINLength ASCII digits.
func ValidatePIN(pin string) error {
	if len(pin) != PINLength {
		return ErrInvalidPIN
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}
