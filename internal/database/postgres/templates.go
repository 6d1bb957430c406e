package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/facematch"
)

// TemplateRepository provides PostgreSQL-backed face template storage.
// The embedding is kept twice: as the canonical binary encoding and as a
// pgvector column used for nearest-template queries.
type TemplateRepository struct {
	pool   *Pool
	logger *zap.Logger
}

// NewTemplateRepository creates a new PostgreSQL template repository
func NewTemplateRepository(pool *Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool, logger: pool.logger}
}

// LoadGallery returns all templates ordered by enrolment time.
func (r *TemplateRepository) LoadGallery(ctx context.Context) (facematch.Gallery, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identity, embedding, created_at
		FROM templates
		ORDER BY created_at, identity
	`)
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

	return database.DecodeGallery(records, r.logger), nil
}

// HasTemplate checks if an identity has a template
func (r *TemplateRepository) HasTemplate(ctx context.Context, identity string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM templates WHERE identity = $1)", identity).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check template exists: %w", err)
	}
	return exists, nil
}

// GetTemplate retrieves the template of one identity
func (r *TemplateRepository) GetTemplate(ctx context.Context, identity string) (*facematch.Template, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, "SELECT embedding FROM templates WHERE identity = $1", identity).Scan(&data)
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
	rows, err := r.pool.Query(ctx, "SELECT identity FROM templates ORDER BY identity")
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
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM templates").Scan(&count); err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return count, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertTemplate inserts a template unless the identity exists. The primary
// key decides races between concurrent registrations.
func insertTemplate(ctx context.Context, db execer, identity string, emb facematch.Embedding) error {
	result, err := db.ExecContext(ctx, `
		INSERT INTO templates (identity, embedding, embedding_vec, dim)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity) DO NOTHING
	`, identity, facematch.MarshalEmbedding(emb), pgvector.NewVector(emb.Values()), emb.Dim())
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
	return insertTemplate(ctx, r.pool.DB(), identity, emb)
}

// ReplaceTemplate stores emb for identity, overwriting any existing template
func (r *TemplateRepository) ReplaceTemplate(ctx context.Context, identity string, emb facematch.Embedding) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO templates (identity, embedding, embedding_vec, dim)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			embedding_vec = EXCLUDED.embedding_vec,
			dim = EXCLUDED.dim,
			updated_at = NOW()
	`, identity, facematch.MarshalEmbedding(emb), pgvector.NewVector(emb.Values()), emb.Dim())
	if err != nil {
		return fmt.Errorf("replace template: %w", err)
	}
	return nil
}

// DeleteTemplate removes the template of an identity
func (r *TemplateRepository) DeleteTemplate(ctx context.Context, identity string) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM templates WHERE identity = $1", identity)
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

// Nearest returns the k templates closest to probe by Euclidean distance,
// computed by pgvector. Only templates of the probe's dimension are searched.
func (r *TemplateRepository) Nearest(ctx context.Context, probe facematch.Embedding, k int) ([]database.Neighbor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identity, embedding_vec <-> $1 AS distance
		FROM templates
		WHERE dim = $2 AND embedding_vec IS NOT NULL
		ORDER BY distance, identity
		LIMIT $3
	`, pgvector.NewVector(probe.Values()), probe.Dim(), k)
	if err != nil {
		return nil, fmt.Errorf("query nearest templates: %w", err)
	}
	defer rows.Close()

	var neighbors []database.Neighbor
	for rows.Next() {
		var n database.Neighbor
		if err := rows.Scan(&n.Identity, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return neighbors, nil
}
