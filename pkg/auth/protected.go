package auth

import (
	"strings"

	"github.com/google/uuid"
)

// ProtectedIdentity is the single system actor whose account may only be
// modified by itself. Loaded from startup configuration; the process refuses
// to start without it.
type ProtectedIdentity struct {
	ID             uuid.UUID
	Email          string
	OrganizationID int64
}

// MatchesID reports whether the given target identifier names the protected
// actor.
func (p ProtectedIdentity) MatchesID(id string) bool {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return false
	}
	return parsed == p.ID
}

// MatchesEmail reports whether the given email names the protected actor.
// Comparison is case-insensitive.
func (p ProtectedIdentity) MatchesEmail(email string) bool {
	return p.Email != "" && strings.EqualFold(strings.TrimSpace(email), p.Email)
}

// IsSelf reports whether the acting identity is the protected actor.
// Self-service is the one exception to the protection rules.
func (p ProtectedIdentity) IsSelf(actor *Actor) bool {
	return actor != nil && actor.ID == p.ID
}
