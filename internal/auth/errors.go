// Package auth verifies PINs and issues the two signed token types: short
// lived session tokens and long lived remember tokens.
package auth

import "errors"

var (
	// ErrInvalidCredential covers every PIN failure: bad format, unknown
	// tenant, no matching identity, inactive identity.
	ErrInvalidCredential = errors.New("invalid credential")

	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrTenantMismatch   = errors.New("token issued for another tenant")
)
