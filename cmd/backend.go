package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/kozaktomas/faceauth/internal/auth"
	"github.com/kozaktomas/faceauth/internal/capture"
	"github.com/kozaktomas/faceauth/internal/config"
	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/database/mariadb"
	"github.com/kozaktomas/faceauth/internal/database/postgres"
	"github.com/kozaktomas/faceauth/internal/facematch"
	"github.com/kozaktomas/faceauth/internal/fingerprint"
	"github.com/kozaktomas/faceauth/internal/web/middleware"
)

// store is an opened storage backend.
type store struct {
	closer      io.Closer
	postgres    *postgres.Pool
	sessionRepo middleware.SessionRepository
}

func (s *store) Close() {
	if s.closer != nil {
		s.closer.Close()
	}
}

// openStore connects the backend selected by DATABASE_DRIVER and registers
// it with the database package.
func openStore(cfg *config.Config, logger *zap.Logger) (*store, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	switch cfg.Database.Driver {
	case "", "postgres":
		fmt.Printf("Connecting to PostgreSQL database...\n")
		pool, err := postgres.Initialize(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		return &store{
			closer:      pool,
			postgres:    pool,
			sessionRepo: postgres.NewSessionRepository(pool),
		}, nil
	case "mysql", "mariadb":
		fmt.Printf("Connecting to MariaDB database...\n")
		pool, err := mariadb.Initialize(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MariaDB: %w", err)
		}
		return &store{closer: pool}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// loadExtractor connects to the face model server. An unreachable server
// yields an unavailable extractor, not an error.
func loadExtractor(ctx context.Context, cfg *config.Config, logger *zap.Logger) *fingerprint.Extractor {
	client := fingerprint.NewModelClient(cfg.Model.URL, cfg.Model.Timeout)
	ex := fingerprint.Load(ctx, client, fingerprint.OptionsFromConfig(cfg.Face), logger)
	if !ex.Available() {
		fmt.Printf("Warning: face model at %s is unavailable, face features disabled\n", cfg.Model.URL)
	}
	return ex
}

// newCaptureSession wires a capture session to the registered template store.
func newCaptureSession(cfg *config.Config, ex *fingerprint.Extractor, templates database.TemplateReader, skipStalled bool, logger *zap.Logger) *capture.Session {
	return capture.NewSession(
		ex,
		facematch.NewMatcher(cfg.Face.AcceptThreshold),
		auth.Gallery(templates),
		capture.Options{Timeout: cfg.Face.Timeout, SkipStalledFrames: skipStalled},
		logger,
	)
}
