// Package auth provides API token generation and verification for
// identifying the actor behind each request.
package auth

import "time"

// Actor identifies the authenticated caller of a request. The ID is
// stamped onto created_by/updated_by fields of mutated roles.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// APIToken is the stored record of an issued token. The plaintext token
// is never persisted, only its SHA256 hash.
type APIToken struct {
	ActorID     string     `json:"actor_id"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Expired reports whether the token is past its expiry.
func (t *APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
