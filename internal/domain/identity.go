package domain

import (
	"strings"
	"time"
)

// DefaultDisplayName is used when the identity carries neither a name nor an email.
const DefaultDisplayName = "Friend"

// Identity is the authenticated user context scoping all data access.
type Identity struct {
	// ID is the stable user identifier used as bookmark owner.
	ID string `json:"id"`

	// Email and FullName come from the OAuth provider profile.
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`

	// Token is the opaque session token issued by the backend.
	Token string `json:"-"`

	// ExpiresAt is the moment the session token stops being valid.
	ExpiresAt time.Time `json:"expires_at"`
}

// DisplayName returns the name used in the greeting.
// Falls back to the local part of the email, then to DefaultDisplayName.
func (i *Identity) DisplayName() string {
	if i == nil {
		return DefaultDisplayName
	}
	if name := strings.TrimSpace(i.FullName); name != "" {
		return name
	}
	if local, _, _ := strings.Cut(i.Email, "@"); local != "" {
		return local
	}
	return DefaultDisplayName
}

// Expired reports whether the session token is past its expiry at now.
// A zero ExpiresAt never expires.
func (i *Identity) Expired(now time.Time) bool {
	if i == nil {
		return true
	}
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// SameUser reports whether a and b refer to the same user (both nil counts as same).
func SameUser(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}
