package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	backendMu      sync.RWMutex
	backendName    string
	templateWriter func() TemplateWriter
	accountWriter  func() AccountWriter
)

// RegisterBackend registers the repository constructors of the active store.
// This is called by the postgres and mariadb packages to avoid import cycles.
func RegisterBackend(name string, templates func() TemplateWriter, accounts func() AccountWriter) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendName = name
	templateWriter = templates
	accountWriter = accounts
}

// ResetBackend forgets the registered backend.
func ResetBackend() {
	RegisterBackend("", nil, nil)
}

// IsInitialized returns whether a storage backend has been registered.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backendName != ""
}

// BackendName returns the name of the registered backend.
func BackendName() string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backendName
}

var errNotInitialized = errors.New("storage backend not initialized: DATABASE_URL is required")

// GetTemplateReader returns a TemplateReader from the active backend
func GetTemplateReader(ctx context.Context) (TemplateReader, error) {
	return GetTemplateWriter(ctx)
}

// GetTemplateWriter returns a TemplateWriter from the active backend
func GetTemplateWriter(ctx context.Context) (TemplateWriter, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if backendName == "" {
		return nil, errNotInitialized
	}
	if templateWriter == nil {
		return nil, fmt.Errorf("%s template repository not registered", backendName)
	}
	return templateWriter(), nil
}

// GetAccountWriter returns an AccountWriter from the active backend
func GetAccountWriter(ctx context.Context) (AccountWriter, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if backendName == "" {
		return nil, errNotInitialized
	}
	if accountWriter == nil {
		return nil, fmt.Errorf("%s account repository not registered", backendName)
	}
	return accountWriter(), nil
}
