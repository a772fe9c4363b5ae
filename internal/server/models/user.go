// Package models holds the persistent records of the gatekeeper server.
package models

import (
	"encoding/json"
	"time"
)

// User is a registered credential. PasswordHash is an argon2id PHC string.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Roles        []string
	Preferences  json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

// UserStats is the account summary served by the user statistics service.
type UserStats struct {
	UserID            string
	Email             string
	FullName          string
	Preferences       json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastLoginAt       *time.Time
	RefreshTokenCount int64
}
