package database

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateIdentity is returned when an identity already has a template
	// or an account.
	ErrDuplicateIdentity = errors.New("identity already enrolled")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// TemplateRecord is a template row as stored, before the embedding is decoded.
type TemplateRecord struct {
	Identity  string
	Data      []byte // facematch.MarshalEmbedding encoding
	CreatedAt time.Time
}

// Account is a registered user.
type Account struct {
	Username     string
	PasswordHash string // argon2 encoded hash
	CreatedAt    time.Time
}

// IdentityPair is two enrolled identities whose templates lie close together.
type IdentityPair struct {
	A        string  `json:"a"`
	B        string  `json:"b"`
	Distance float64 `json:"distance"`
}

// LoginAttempt is the audit record of one login.
type LoginAttempt struct {
	AttemptID string
	Username  string
	Method    string // password | face
	Success   bool
	Reason    string
}
