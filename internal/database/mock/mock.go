// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/facematch"
)

// MockTemplateStore is an in-memory implementation of database.TemplateWriter.
// Records are kept encoded so tests can plant corrupt rows.
type MockTemplateStore struct {
	mu      sync.RWMutex
	records []database.TemplateRecord

	// Track calls
	LoadGalleryCalls int
	SaveCalls        []string

	// Error injection
	LoadGalleryError error
	HasError         error
	SaveError        error
	ReplaceError     error
	DeleteError      error
}

// NewMockTemplateStore creates a new mock template store
func NewMockTemplateStore() *MockTemplateStore {
	return &MockTemplateStore{}
}

// AddTemplate adds a template to the mock store
func (m *MockTemplateStore) AddTemplate(identity string, emb facematch.Embedding) {
	m.AddRecord(database.TemplateRecord{Identity: identity, Data: facematch.MarshalEmbedding(emb)})
}

// AddRecord adds a raw record, which may hold undecodable data
func (m *MockTemplateStore) AddRecord(rec database.TemplateRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.records = append(m.records, rec)
}

func (m *MockTemplateStore) indexOf(identity string) int {
	return slices.IndexFunc(m.records, func(r database.TemplateRecord) bool { return r.Identity == identity })
}

// LoadGallery decodes all records in insertion order
func (m *MockTemplateStore) LoadGallery(ctx context.Context) (facematch.Gallery, error) {
	m.mu.Lock()
	m.LoadGalleryCalls++
	m.mu.Unlock()
	if m.LoadGalleryError != nil {
		return nil, m.LoadGalleryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return database.DecodeGallery(slices.Clone(m.records), nil), nil
}

// HasTemplate checks if an identity has a template
func (m *MockTemplateStore) HasTemplate(ctx context.Context, identity string) (bool, error) {
	if m.HasError != nil {
		return false, m.HasError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexOf(identity) >= 0, nil
}

// GetTemplate retrieves the template of one identity
func (m *MockTemplateStore) GetTemplate(ctx context.Context, identity string) (*facematch.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexOf(identity)
	if i < 0 {
		return nil, fmt.Errorf("template %q: %w", identity, database.ErrNotFound)
	}
	emb, err := facematch.UnmarshalEmbedding(m.records[i].Data)
	if err != nil {
		return nil, err
	}
	return &facematch.Template{Identity: identity, Embedding: emb}, nil
}

// ListIdentities returns identities in lexical order
func (m *MockTemplateStore) ListIdentities(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for _, r := range m.records {
		ids = append(ids, r.Identity)
	}
	slices.Sort(ids)
	return ids, nil
}

// CountTemplates returns the number of records
func (m *MockTemplateStore) CountTemplates(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// SaveTemplate enrols a new identity
func (m *MockTemplateStore) SaveTemplate(ctx context.Context, identity string, emb facematch.Embedding) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls = append(m.SaveCalls, identity)
	if m.indexOf(identity) >= 0 {
		return fmt.Errorf("template %q: %w", identity, database.ErrDuplicateIdentity)
	}
	m.records = append(m.records, database.TemplateRecord{
		Identity:  identity,
		Data:      facematch.MarshalEmbedding(emb),
		CreatedAt: time.Now(),
	})
	return nil
}

// ReplaceTemplate stores emb for identity
func (m *MockTemplateStore) ReplaceTemplate(ctx context.Context, identity string, emb facematch.Embedding) error {
	if m.ReplaceError != nil {
		return m.ReplaceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := database.TemplateRecord{Identity: identity, Data: facematch.MarshalEmbedding(emb), CreatedAt: time.Now()}
	if i := m.indexOf(identity); i >= 0 {
		rec.CreatedAt = m.records[i].CreatedAt
		m.records[i] = rec
		return nil
	}
	m.records = append(m.records, rec)
	return nil
}

// DeleteTemplate removes the template of an identity
func (m *MockTemplateStore) DeleteTemplate(ctx context.Context, identity string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(identity)
	if i < 0 {
		return fmt.Errorf("template %q: %w", identity, database.ErrNotFound)
	}
	m.records = slices.Delete(m.records, i, i+1)
	return nil
}

// MockAccountStore is an in-memory implementation of database.AccountWriter
// and database.AttemptRecorder. Registration stores the template in the
// attached MockTemplateStore.
type MockAccountStore struct {
	mu        sync.RWMutex
	accounts  map[string]*database.Account
	Templates *MockTemplateStore

	// Track calls
	Attempts []database.LoginAttempt

	// Error injection
	GetError      error
	RegisterError error
}

// NewMockAccountStore creates a new mock account store backed by templates
func NewMockAccountStore(templates *MockTemplateStore) *MockAccountStore {
	if templates == nil {
		templates = NewMockTemplateStore()
	}
	return &MockAccountStore{
		accounts:  make(map[string]*database.Account),
		Templates: templates,
	}
}

// AddAccount adds an account to the mock store
func (m *MockAccountStore) AddAccount(acc database.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acc.Username] = &acc
}

// GetAccount retrieves an account by username
func (m *MockAccountStore) GetAccount(ctx context.Context, username string) (*database.Account, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[username]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", username, database.ErrNotFound)
	}
	copied := *acc
	return &copied, nil
}

// Register creates an account with its template, all or nothing
func (m *MockAccountStore) Register(ctx context.Context, account database.Account, emb facematch.Embedding) error {
	if m.RegisterError != nil {
		return m.RegisterError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.Username]; ok {
		return fmt.Errorf("account %q: %w", account.Username, database.ErrDuplicateIdentity)
	}
	if err := m.Templates.SaveTemplate(ctx, account.Username, emb); err != nil {
		return err
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	m.accounts[account.Username] = &account
	return nil
}

// RecordLoginAttempt records an attempt for later inspection
func (m *MockAccountStore) RecordLoginAttempt(ctx context.Context, attempt database.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts = append(m.Attempts, attempt)
	return nil
}

// Compile-time interface checks.
var (
	_ database.TemplateWriter  = (*MockTemplateStore)(nil)
	_ database.AccountWriter   = (*MockAccountStore)(nil)
	_ database.AttemptRecorder = (*MockAccountStore)(nil)
)
