// internal/models/auth.go
package models

import (
	"time"
)

// AuthorizationLevel represents the level of access for an API key
type AuthorizationLevel int

const (
	// NoAuthLevel represents public access with no authentication
	NoAuthLevel AuthorizationLevel = 0
	// ViewerAuthLevel represents read-only access
	ViewerAuthLevel AuthorizationLevel = 1
	// WriterAuthLevel represents read-write access to the owner's fleet
	WriterAuthLevel AuthorizationLevel = 2
	// SudoAuthLevel represents administrative access, including global alert rules
	SudoAuthLevel AuthorizationLevel = 3
)

// Valid reports whether the level is one the API understands
func (l AuthorizationLevel) Valid() bool {
	switch l {
	case NoAuthLevel, ViewerAuthLevel, WriterAuthLevel, SudoAuthLevel:
		return true
	}
	return false
}

// APIKey is an owner-facing API token. Only the SHA-256 of the key is stored.
type APIKey struct {
	Model
	KeyHash            string             `json:"-" gorm:"uniqueIndex;Column:key_hash;size:64"`
	Name               string             `json:"name" gorm:"Column:name"`
	OwnerID            *uint              `json:"owner_id" gorm:"Column:owner_id;index"`
	AuthorizationLevel AuthorizationLevel `json:"authorization_level" gorm:"Column:authorization_level"`
	ExpiresAt          *time.Time         `json:"expires_at" gorm:"Column:expires_at"`
	LastUsedAt         *time.Time         `json:"last_used_at" gorm:"Column:last_used_at"`
}
