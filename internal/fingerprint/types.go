package fingerprint

import (
	"context"
	"image"

	"github.com/kozaktomas/faceauth/internal/facematch"
)

// Detection is a single face candidate reported by a Detector.
type Detection struct {
	BBox  facematch.BBox // [x1, y1, x2, y2] in pixels of the analysed image
	Score float64        // detector confidence in [0, 1]
}

// Detector localises faces in an image. Candidates are returned in the
// detector's scan order.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Embedder maps an aligned face crop to an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, face image.Image) ([]float32, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, img image.Image) ([]Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	return f(ctx, img)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, face image.Image) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, face image.Image) ([]float32, error) {
	return f(ctx, face)
}
