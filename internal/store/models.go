package store

import (
	"time"

	"prdigy/api/internal/auth"
)

// User is an account row. Guest users have no email or password; they own
// roadmaps until a migration hands them to a verified account.
type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsGuest               bool
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Claims builds the access token claims for u.
func (u User) Claims(jti string, expiresAt time.Time) auth.Claims {
	claims := auth.Claims{
		Sub:  u.ID,
		Name: u.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	}
	if u.IsGuest {
		claims.Guest = true
		return claims
	}
	claims.Email = u.Email
	claims.Verified = u.IsEmailVerified
	return claims
}
