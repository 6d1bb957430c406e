// Package capture runs deadline-bounded face verification sessions over a
// stream of frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/faceauth/internal/facematch"
	"github.com/kozaktomas/faceauth/internal/fingerprint"
)

// ErrSessionAborted wraps every failure that ends a session without a
// verdict.
var ErrSessionAborted = errors.New("capture session aborted")

// DefaultTimeout is the session budget when none is configured.
const DefaultTimeout = 5 * time.Second

// Extractor is the part of fingerprint.Extractor a session needs.
type Extractor interface {
	Available() bool
	Extract(ctx context.Context, img image.Image) (*facematch.Embedding, error)
}

// GalleryLoader fetches the template snapshot a session matches against.
type GalleryLoader interface {
	LoadGallery(ctx context.Context) (facematch.Gallery, error)
}

// GalleryFunc adapts a function to GalleryLoader.
type GalleryFunc func(ctx context.Context) (facematch.Gallery, error)

func (f GalleryFunc) LoadGallery(ctx context.Context) (facematch.Gallery, error) {
	return f(ctx)
}

// Options configures a Session.
type Options struct {
	Timeout time.Duration
	// SkipStalledFrames skips extraction for frames that are visually
	// identical to the previous one, as delivered by a frozen camera.
	SkipStalledFrames bool
}

// Session verifies one face against the gallery within a time budget.
// A Session value may be reused; each Run is independent.
type Session struct {
	extractor Extractor
	matcher   *facematch.Matcher
	gallery   GalleryLoader
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewSession creates a session runner.
func NewSession(extractor Extractor, matcher *facematch.Matcher, gallery GalleryLoader, opts Options, logger *zap.Logger) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if matcher == nil {
		matcher = facematch.NewMatcher(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		extractor: extractor,
		matcher:   matcher,
		gallery:   gallery,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one verification attempt. A non-nil error is returned only
// for aborted sessions and always wraps ErrSessionAborted; the returned
// Outcome is never nil.
func (s *Session) Run(ctx context.Context, open Opener) (*Outcome, error) {
	out := &Outcome{State: StateRunning, AttemptID: uuid.NewString()}
	log := s.logger.With(zap.String("attempt_id", out.AttemptID))

	if s.extractor == nil || !s.extractor.Available() {
		out.State = StateUnavailable
		out.Reason = ReasonExtractorUnavailable
		log.Info("face verification skipped", zap.String("reason", string(out.Reason)))
		return out, nil
	}

	gallery, err := s.gallery.LoadGallery(ctx)
	if err != nil {
		return s.abort(log, out, fmt.Errorf("loading gallery: %w", err))
	}
	log.Debug("gallery loaded", zap.Strings("identities", gallery.Identities()))

	src, err := open(ctx)
	if err != nil {
		if !errors.Is(err, ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return s.abort(log, out, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warn("closing frame source", zap.Error(cerr))
		}
	}()

	// The budget covers capture only, not waiting for the device.
	deadline := s.now().Add(s.opts.Timeout)

	var (
		produced   bool
		best       = math.Inf(1)
		lastHash   uint64
		haveHash   bool
		lastFailed bool
	)

	for out.State == StateRunning {
		if err := ctx.Err(); err != nil {
			return s.abort(log, out, err)
		}
		if !s.now().Before(deadline) {
			out.State = StateExhausted
			break
		}

		frame, err := src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrEndOfStream):
			out.State = StateExhausted
			continue
		case errors.Is(err, ErrFrameDropped):
			log.Debug("frame dropped", zap.Error(err))
			continue
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.abort(log, out, ctxErr)
			}
			if !errors.Is(err, ErrSourceUnavailable) {
				err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
			}
			return s.abort(log, out, err)
		}
		out.Frames++

		// An identical frame yields the same verdict unless extraction failed.
		if s.opts.SkipStalledFrames {
			hash := fingerprint.FrameHash(frame)
			stalled := haveHash && !lastFailed && fingerprint.SameFrame(hash, lastHash, 2)
			lastHash, haveHash = hash, true
			if stalled {
				continue
			}
		}

		emb, err := s.extractor.Extract(ctx, frame)
		lastFailed = err != nil
		if err != nil {
			log.Warn("embedding extraction failed", zap.Int("frame", out.Frames), zap.Error(err))
			continue
		}
		if emb == nil {
			continue
		}
		produced = true

		result := s.matcher.Match(*emb, gallery)
		best = min(best, result.Distance)
		if result.Matched {
			out.State = StateAccepted
			out.Accepted = true
			out.Identity = result.Identity
			out.Reason = ReasonMatched
		}
	}

	if !math.IsInf(best, 1) {
		out.Distance = &best
	}
	if out.State == StateExhausted {
		if produced {
			out.Reason = ReasonNoMatchWithinTimeout
		} else {
			out.Reason = ReasonNoFaceDetected
		}
	}

	log.Info("face verification finished",
		zap.String("state", string(out.State)),
		zap.String("reason", string(out.Reason)),
		zap.String("identity", out.Identity),
		zap.Int("frames", out.Frames),
	)
	return out, nil
}

func (s *Session) abort(log *zap.Logger, out *Outcome, cause error) (*Outcome, error) {
	out.State = StateAborted
	out.Accepted = false
	out.Identity = ""
	log.Warn("face verification aborted", zap.Int("frames", out.Frames), zap.Error(cause))
	return out, fmt.Errorf("%w: %w", ErrSessionAborted, cause)
}
