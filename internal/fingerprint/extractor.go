package fingerprint

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/kozaktomas/faceauth/internal/config"
	"github.com/kozaktomas/faceauth/internal/facematch"
)

// Options controls how the extractor filters and crops detector output.
type Options struct {
	MinConfidence float64 // candidates must score strictly above this
	InputSize     int     // embedder input edge in pixels
	Selection     string  // config.SelectFirst, SelectHighestConfidence or SelectLargest
	EmbeddingDim  int     // expected embedding length, 0 accepts any
}

// OptionsFromConfig builds extractor options from the face config section.
func OptionsFromConfig(cfg config.FaceConfig) Options {
	return Options{
		MinConfidence: cfg.MinConfidence,
		InputSize:     cfg.InputSize,
		Selection:     cfg.Selection,
		EmbeddingDim:  cfg.EmbeddingDim,
	}
}

// Extractor turns an image into a face embedding.
// An extractor without a detector or embedder is unavailable and reports
// no face for every image.
type Extractor struct {
	detector Detector
	embedder Embedder
	opts     Options
	logger   *zap.Logger
}

// NewExtractor creates an extractor from a detector and an embedder.
func NewExtractor(detector Detector, embedder Embedder, opts Options, logger *zap.Logger) *Extractor {
	if opts.InputSize <= 0 {
		opts.InputSize = 96
	}
	if opts.Selection == "" {
		opts.Selection = config.SelectFirst
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{detector: detector, embedder: embedder, opts: opts, logger: logger}
}

// Unavailable returns an extractor that never produces an embedding.
func Unavailable(logger *zap.Logger) *Extractor {
	return NewExtractor(nil, nil, Options{}, logger)
}

// Load checks that the model server answers and returns an extractor backed
// by it. When the server cannot be reached the returned extractor is
// unavailable; the failure is logged, not returned.
func Load(ctx context.Context, client *ModelClient, opts Options, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := client.Health(ctx); err != nil {
		logger.Warn("face model unavailable, face login disabled", zap.Error(err))
		return Unavailable(logger)
	}
	return NewExtractor(client, client, opts, logger)
}

// Available reports whether the extractor has working model handles.
func (e *Extractor) Available() bool {
	return e != nil && e.detector != nil && e.embedder != nil
}

// Extract returns the embedding of one face in img, or nil when no face
// passes the confidence filter. Errors are reserved for failures of the
// model itself.
func (e *Extractor) Extract(ctx context.Context, img image.Image) (*facematch.Embedding, error) {
	if !e.Available() || img == nil {
		return nil, nil
	}

	detections, err := e.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	candidate, ok := e.selectCandidate(detections)
	if !ok {
		return nil, nil
	}

	rect := facematch.ClampToImage(candidate.BBox, img.Bounds())
	if rect.Empty() {
		e.logger.Debug("face box outside image", zap.Float64s("bbox", candidate.BBox[:]))
		return nil, nil
	}

	crop := cropAndScale(img, rect, e.opts.InputSize)
	values, err := e.embedder.Embed(ctx, crop)
	if err != nil {
		return nil, fmt.Errorf("face embedding failed: %w", err)
	}
	if e.opts.EmbeddingDim > 0 && len(values) != e.opts.EmbeddingDim {
		return nil, fmt.Errorf("embedder returned %d values, expected %d", len(values), e.opts.EmbeddingDim)
	}

	emb := facematch.NewEmbedding(values)
	return &emb, nil
}

// ExtractBytes decodes image bytes and extracts an embedding from them.
func (e *Extractor) ExtractBytes(ctx context.Context, data []byte) (*facematch.Embedding, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return e.Extract(ctx, img)
}

// selectCandidate drops detections at or below MinConfidence and picks one of
// the rest according to the selection policy.
func (e *Extractor) selectCandidate(detections []Detection) (Detection, bool) {
	var best Detection
	found := false
	for _, d := range detections {
		if d.Score <= e.opts.MinConfidence {
			continue
		}
		if !found {
			best, found = d, true
			if e.opts.Selection == config.SelectFirst {
				break
			}
			continue
		}
		switch e.opts.Selection {
		case config.SelectHighestConfidence:
			if d.Score > best.Score {
				best = d
			}
		case config.SelectLargest:
			if d.BBox.Area() > best.BBox.Area() {
				best = d
			}
		}
	}
	return best, found
}
