package database

import (
	"context"

	"github.com/kozaktomas/faceauth/internal/facematch"
)

// TemplateReader provides read-only access to face templates
type TemplateReader interface {
	// LoadGallery returns every decodable template. Corrupt records are
	// skipped and logged; only a failure of the store itself is an error.
	LoadGallery(ctx context.Context) (facematch.Gallery, error)
	// HasTemplate checks if an identity has a template
	HasTemplate(ctx context.Context, identity string) (bool, error)
	// GetTemplate retrieves the template of one identity, ErrNotFound if missing
	GetTemplate(ctx context.Context, identity string) (*facematch.Template, error)
	// ListIdentities returns enrolled identities in lexical order
	ListIdentities(ctx context.Context) ([]string, error)
	// CountTemplates returns the number of stored templates
	CountTemplates(ctx context.Context) (int, error)
}

// TemplateWriter provides write access to face templates
type TemplateWriter interface {
	TemplateReader

	// SaveTemplate enrols a new identity. It fails with ErrDuplicateIdentity
	// when the identity already has a template.
	SaveTemplate(ctx context.Context, identity string, emb facematch.Embedding) error
	// ReplaceTemplate stores emb for identity whether or not one exists.
	ReplaceTemplate(ctx context.Context, identity string, emb facematch.Embedding) error
	// DeleteTemplate removes the template of an identity, ErrNotFound if missing
	DeleteTemplate(ctx context.Context, identity string) error
}

// AccountReader provides read-only access to accounts
type AccountReader interface {
	// GetAccount retrieves an account by username, ErrNotFound if missing
	GetAccount(ctx context.Context, username string) (*Account, error)
}

// AccountWriter provides write access to accounts
type AccountWriter interface {
	AccountReader

	// Register creates an account together with its face template. Neither
	// is stored when either already exists (ErrDuplicateIdentity).
	Register(ctx context.Context, account Account, emb facematch.Embedding) error
}

// AttemptRecorder stores login audit records. Backends implement it
// optionally.
type AttemptRecorder interface {
	RecordLoginAttempt(ctx context.Context, attempt LoginAttempt) error
}
