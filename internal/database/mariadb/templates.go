package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/facematch"
)

// TemplateRepository provides MariaDB-backed face template storage
type TemplateRepository struct {
	pool *Pool
}

// NewTemplateRepository creates a new MariaDB template repository
func NewTemplateRepository(pool *Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// LoadGallery returns all templates ordered by enrolment time.
func (r *TemplateRepository) LoadGallery(ctx context.Context) (facematch.Gallery, error) {
	rows, err := r.pool.db.QueryContext(ctx, `SELECT identity, embedding, created_at FROM templates ORDER BY created_at, identity`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var records []database.TemplateRecord
	for rows.Next() {
		var rec database.TemplateRecord
		if err := rows.Scan(&rec.Identity, &rec.Data, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}

	return database.DecodeGallery(records, r.pool.logger), nil
}

// HasTemplate checks if an identity has a template
func (r *TemplateRepository) HasTemplate(ctx context.Context, identity string) (bool, error) {
	var exists bool
	err := r.pool.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM templates WHERE identity = ?)`, identity).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check template exists: %w", err)
	}
	return exists, nil
}

// GetTemplate retrieves the template of one identity
func (r *TemplateRepository) GetTemplate(ctx context.Context, identity string) (*facematch.Template, error) {
	var data []byte
	err := r.pool.db.QueryRowContext(ctx, `SELECT embedding FROM templates WHERE identity = ?`, identity).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %q: %w", identity, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}

	emb, err := facematch.UnmarshalEmbedding(data)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", identity, err)
	}
	return &facematch.Template{Identity: identity, Embedding: emb}, nil
}

// ListIdentities returns enrolled identities in lexical order
func (r *TemplateRepository) ListIdentities(ctx context.Context) ([]string, error) {
	rows, err := r.pool.db.QueryContext(ctx, `SELECT identity FROM templates ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// CountTemplates returns the number of stored templates
func (r *TemplateRepository) CountTemplates(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return count, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertTemplate relies on INSERT IGNORE and the primary key to reject a
// second template for the same identity.
func insertTemplate(ctx context.Context, db execer, identity string, emb facematch.Embedding) error {
	result, err := db.ExecContext(ctx,
		`INSERT IGNORE INTO templates (identity, embedding, dim) VALUES (?, ?, ?)`,
		identity, facematch.MarshalEmbedding(emb), emb.Dim())
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("template %q: %w", identity, database.ErrDuplicateIdentity)
	}
	return nil
}

// SaveTemplate enrols a new identity
func (r *TemplateRepository) SaveTemplate(ctx context.Context, identity string, emb facematch.Embedding) error {
	exists, err := r.HasTemplate(ctx, identity)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("template %q: %w", identity, database.ErrDuplicateIdentity)
	}
	return insertTemplate(ctx, r.pool.db, identity, emb)
}

// ReplaceTemplate stores emb for identity, overwriting any existing template
func (r *TemplateRepository) ReplaceTemplate(ctx context.Context, identity string, emb facematch.Embedding) error {
	_, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO templates (identity, embedding, dim) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE embedding = VALUES(embedding), dim = VALUES(dim), updated_at = CURRENT_TIMESTAMP(6)
	`, identity, facematch.MarshalEmbedding(emb), emb.Dim())
	if err != nil {
		return fmt.Errorf("replace template: %w", err)
	}
	return nil
}

// DeleteTemplate removes the template of an identity
func (r *TemplateRepository) DeleteTemplate(ctx context.Context, identity string) error {
	result, err := r.pool.db.ExecContext(ctx, `DELETE FROM templates WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("template %q: %w", identity, database.ErrNotFound)
	}
	return nil
}
