package fingerprint

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/faceauth/internal/config"
	"github.com/kozaktomas/faceauth/internal/facematch"
)

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func fixedDetector(detections ...Detection) Detector {
	return DetectorFunc(func(context.Context, image.Image) ([]Detection, error) {
		return detections, nil
	})
}

// recordingEmbedder returns the crop width as the first value so tests can
// tell which candidate was embedded.
type recordingEmbedder struct {
	dim   int
	crops []image.Rectangle
}

func (r *recordingEmbedder) Embed(_ context.Context, face image.Image) ([]float32, error) {
	r.crops = append(r.crops, face.Bounds())
	values := make([]float32, r.dim)
	values[0] = float32(face.Bounds().Dx())
	return values, nil
}

func TestExtractor_Unavailable(t *testing.T) {
	e := Unavailable(nil)
	assert.False(t, e.Available())

	emb, err := e.Extract(context.Background(), solidImage(10, 10))
	assert.NoError(t, err)
	assert.Nil(t, emb)

	var nilExtractor *Extractor
	assert.False(t, nilExtractor.Available())
}

func TestExtractor_NoFace(t *testing.T) {
	emb := &recordingEmbedder{dim: 4}
	e := NewExtractor(fixedDetector(), emb, Options{MinConfidence: 0.5}, nil)

	got, err := e.Extract(context.Background(), solidImage(50, 50))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, emb.crops)
}

func TestExtractor_ConfidenceIsStrict(t *testing.T) {
	emb := &recordingEmbedder{dim: 4}
	e := NewExtractor(fixedDetector(
		Detection{BBox: facematch.BBox{0, 0, 20, 20}, Score: 0.5},
		Detection{BBox: facematch.BBox{0, 0, 20, 20}, Score: 0.3},
	), emb, Options{MinConfidence: 0.5}, nil)

	got, err := e.Extract(context.Background(), solidImage(50, 50))
	require.NoError(t, err)
	assert.Nil(t, got, "a score equal to the minimum must be discarded")
}

func TestExtractor_CropsToInputSize(t *testing.T) {
	emb := &recordingEmbedder{dim: 128}
	e := NewExtractor(fixedDetector(
		Detection{BBox: facematch.BBox{10, 10, 60, 70}, Score: 0.9},
	), emb, Options{MinConfidence: 0.5, InputSize: 96, EmbeddingDim: 128}, nil)

	got, err := e.Extract(context.Background(), solidImage(100, 100))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 128, got.Dim())
	require.Len(t, emb.crops, 1)
	assert.Equal(t, image.Rect(0, 0, 96, 96), emb.crops[0])
}

func TestExtractor_SelectionPolicies(t *testing.T) {
	detections := []Detection{
		{BBox: facematch.BBox{0, 0, 10, 10}, Score: 0.2},  // below minimum
		{BBox: facematch.BBox{0, 0, 20, 20}, Score: 0.6},  // first surviving
		{BBox: facematch.BBox{0, 0, 30, 30}, Score: 0.95}, // most confident
		{BBox: facematch.BBox{0, 0, 80, 80}, Score: 0.7},  // largest
	}

	tests := []struct {
		selection string
		wantArea  float64
	}{
		{config.SelectFirst, 400},
		{config.SelectHighestConfidence, 900},
		{config.SelectLargest, 6400},
	}

	for _, tt := range tests {
		t.Run(tt.selection, func(t *testing.T) {
			e := NewExtractor(fixedDetector(detections...), &recordingEmbedder{dim: 1},
				Options{MinConfidence: 0.5, Selection: tt.selection}, nil)

			got, ok := e.selectCandidate(detections)
			require.True(t, ok)
			assert.Equal(t, tt.wantArea, got.BBox.Area())
		})
	}
}

func TestExtractor_BoxOutsideImageIsNoFace(t *testing.T) {
	emb := &recordingEmbedder{dim: 4}
	e := NewExtractor(fixedDetector(
		Detection{BBox: facematch.BBox{200, 200, 260, 260}, Score: 0.99},
	), emb, Options{MinConfidence: 0.5}, nil)

	got, err := e.Extract(context.Background(), solidImage(100, 100))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, emb.crops)
}

func TestExtractor_ModelErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := DetectorFunc(func(context.Context, image.Image) ([]Detection, error) {
		return nil, boom
	})

	e := NewExtractor(failing, &recordingEmbedder{dim: 4}, Options{}, nil)
	_, err := e.Extract(context.Background(), solidImage(10, 10))
	assert.ErrorIs(t, err, boom)

	e = NewExtractor(fixedDetector(Detection{BBox: facematch.BBox{0, 0, 10, 10}, Score: 0.9}),
		&recordingEmbedder{dim: 64}, Options{MinConfidence: 0.5, EmbeddingDim: 128}, nil)
	_, err = e.Extract(context.Background(), solidImage(10, 10))
	assert.ErrorContains(t, err, "expected 128")
}

func TestExtractor_ExtractBytesRejectsGarbage(t *testing.T) {
	e := NewExtractor(fixedDetector(), &recordingEmbedder{dim: 1}, Options{}, nil)
	_, err := e.ExtractBytes(context.Background(), []byte("not an image"))
	assert.ErrorIs(t, err, ErrUndecodableImage)
}
