package model

import (
	"time"

	"github.com/google/uuid"
)

// UserType is the coarse role carried in access tokens
type UserType string

const (
	UserTypeAdmin UserType = "ADMIN"
	UserTypeUser  UserType = "USER"
)

// Valid reports whether t is a known user type
func (t UserType) Valid() bool {
	return t == UserTypeAdmin || t == UserTypeUser
}

// User represents a user in the system.
// OTPHash, OTPExpiry and OTPIssuedAt are either all nil or all set.
type User struct {
	ID                    uuid.UUID
	Username              string
	Email                 string
	PasswordHash          string
	IsVerified            bool
	VerificationTokenHash *string
	OTPHash               *string
	OTPExpiry             *time.Time
	OTPIssuedAt           *time.Time
	UserType              UserType
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasPendingOTP reports whether an OTP has been issued and not yet consumed
func (u User) HasPendingOTP() bool {
	return u.OTPHash != nil && u.OTPExpiry != nil && u.OTPIssuedAt != nil
}

// UserPatch is a partial update of the profile fields of a user. Nil fields are left untouched.
type UserPatch struct {
	Username              *string
	Email                 *string
	PasswordHash          *string
	IsVerified            *bool
	VerificationTokenHash *string
	ClearVerification     bool
	UserType              *UserType
}

// Empty reports whether the patch changes nothing
func (p UserPatch) Empty() bool {
	return p.Username == nil && p.Email == nil && p.PasswordHash == nil &&
		p.IsVerified == nil && p.VerificationTokenHash == nil && !p.ClearVerification &&
		p.UserType == nil
}

// RefreshSession represents one refresh token lineage (one login on one device).
// ID is stable for the lifetime of the session; TokenHash changes on every rotation.
type RefreshSession struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenPair is the pair of bearer credentials handed out after a successful auth step
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	SessionID    uuid.UUID
}
