// Package auth implements password login, face login and registration on
// top of the template store and the capture session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/faceauth/internal/capture"
	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/facematch"
	"github.com/kozaktomas/faceauth/internal/fingerprint"
)

var (
	// ErrInvalidCredentials is returned for an unknown user or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoFace is returned when a registration image contains no usable face.
	ErrNoFace = errors.New("no face detected")
	// ErrFaceUnavailable is returned when face features are disabled because
	// the model could not be loaded.
	ErrFaceUnavailable = errors.New("face recognition unavailable")
	// ErrInvalidUsername is returned for usernames that are empty after
	// normalization.
	ErrInvalidUsername = errors.New("invalid username")
)

// Login methods recorded in the audit log.
const (
	MethodPassword = "password"
	MethodFace     = "face"
)

// Service authenticates users.
type Service struct {
	accounts  database.AccountWriter
	templates database.TemplateReader
	extractor *fingerprint.Extractor
	session   *capture.Session
	logger    *zap.Logger
}

// NewService wires the login flows. The capture session must use the same
// extractor and a gallery loader backed by templates.
func NewService(accounts database.AccountWriter, templates database.TemplateReader, extractor *fingerprint.Extractor, session *capture.Session, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		accounts:  accounts,
		templates: templates,
		extractor: extractor,
		session:   session,
		logger:    logger,
	}
}

// FaceAvailable reports whether face login and registration can work.
func (s *Service) FaceAvailable() bool {
	return s.extractor.Available()
}

// LoginPassword checks a username and password and returns the canonical
// username.
func (s *Service) LoginPassword(ctx context.Context, username, password string) (string, error) {
	attemptID := uuid.NewString()
	identity := facematch.NormalizeIdentity(username)
	log := s.logger.With(zap.String("attempt_id", attemptID), zap.String("identity", identity))

	ok := false
	if identity != "" {
		acc, err := s.accounts.GetAccount(ctx, identity)
		switch {
		case errors.Is(err, database.ErrNotFound):
		case err != nil:
			return "", fmt.Errorf("loading account: %w", err)
		default:
			ok = VerifyPassword(acc.PasswordHash, password)
		}
	}

	s.record(ctx, database.LoginAttempt{AttemptID: attemptID, Username: identity, Method: MethodPassword, Success: ok})
	if !ok {
		log.Info("password login failed")
		return "", ErrInvalidCredentials
	}
	log.Info("password login succeeded")
	return identity, nil
}

// LoginFace runs a capture session over the frames produced by open.
// An aborted session is returned as an error; rejections are reported in
// the outcome.
func (s *Service) LoginFace(ctx context.Context, open capture.Opener) (*capture.Outcome, error) {
	out, err := s.session.Run(ctx, open)

	attempt := database.LoginAttempt{
		AttemptID: out.AttemptID,
		Username:  out.Identity,
		Method:    MethodFace,
		Success:   out.Accepted,
		Reason:    string(out.Reason),
	}
	if err != nil {
		attempt.Reason = string(out.State)
	}
	s.record(ctx, attempt)

	return out, err
}

// Register creates an account whose template is taken from img.
func (s *Service) Register(ctx context.Context, username, password string, img image.Image) (string, error) {
	identity := facematch.NormalizeIdentity(username)
	if identity == "" {
		return "", ErrInvalidUsername
	}
	if !s.extractor.Available() {
		return "", ErrFaceUnavailable
	}

	// Cheap rejection before hashing and running the model.
	if _, err := s.accounts.GetAccount(ctx, identity); err == nil {
		return "", fmt.Errorf("account %q: %w", identity, database.ErrDuplicateIdentity)
	} else if !errors.Is(err, database.ErrNotFound) {
		return "", fmt.Errorf("loading account: %w", err)
	}
	if has, err := s.templates.HasTemplate(ctx, identity); err != nil {
		return "", fmt.Errorf("checking template: %w", err)
	} else if has {
		return "", fmt.Errorf("template %q: %w", identity, database.ErrDuplicateIdentity)
	}

	emb, err := s.extractor.Extract(ctx, img)
	if err != nil {
		return "", fmt.Errorf("extracting face: %w", err)
	}
	if emb == nil {
		return "", ErrNoFace
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}

	if err := s.accounts.Register(ctx, database.Account{Username: identity, PasswordHash: hash}, *emb); err != nil {
		return "", err
	}
	s.logger.Info("account registered", zap.String("identity", identity), zap.Int("dim", emb.Dim()))
	return identity, nil
}

// Gallery returns a loader over the template store for capture sessions.
func Gallery(templates database.TemplateReader) capture.GalleryLoader {
	return capture.GalleryFunc(templates.LoadGallery)
}

func (s *Service) record(ctx context.Context, attempt database.LoginAttempt) {
	rec, ok := s.accounts.(database.AttemptRecorder)
	if !ok {
		return
	}
	if err := rec.RecordLoginAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		s.logger.Warn("failed to record login attempt", zap.String("attempt_id", attempt.AttemptID), zap.Error(err))
	}
}
