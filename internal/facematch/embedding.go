// Package facematch holds the face identity primitives shared by the extractor,
// the template stores and the live-capture session: embeddings, templates,
// galleries and the nearest-embedding matcher.
package facematch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrCorruptEmbedding is returned when a persisted embedding cannot be decoded.
var ErrCorruptEmbedding = errors.New("corrupt embedding")

// Embedding is an immutable fixed-length face feature vector.
// The zero value is an empty embedding.
type Embedding struct {
	values []float32
}

// NewEmbedding copies values into a new Embedding.
func NewEmbedding(values []float32) Embedding {
	v := make([]float32, len(values))
	copy(v, values)
	return Embedding{values: v}
}

// Dim returns the dimensionality of the embedding.
func (e Embedding) Dim() int {
	return len(e.values)
}

// IsZero reports whether the embedding holds no values.
func (e Embedding) IsZero() bool {
	return len(e.values) == 0
}

// At returns the i-th component.
func (e Embedding) At(i int) float32 {
	return e.values[i]
}

// Values returns a copy of the underlying vector.
func (e Embedding) Values() []float32 {
	v := make([]float32, len(e.values))
	copy(v, e.values)
	return v
}

// Equal reports whether both embeddings hold bit-identical values.
func (e Embedding) Equal(other Embedding) bool {
	if len(e.values) != len(other.values) {
		return false
	}
	for i := range e.values {
		if math.Float32bits(e.values[i]) != math.Float32bits(other.values[i]) {
			return false
		}
	}
	return true
}

// EuclideanDistance computes the L2 distance between two embeddings.
// Embeddings of different or zero dimension are infinitely far apart.
func EuclideanDistance(a, b Embedding) float64 {
	if len(a.values) != len(b.values) || len(a.values) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a.values {
		d := float64(a.values[i]) - float64(b.values[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// embeddingHeaderSize is the size of the uint32 dimension prefix.
const embeddingHeaderSize = 4

// MarshalEmbedding encodes e as a little-endian uint32 dimension count
// followed by dim little-endian IEEE-754 float32 values.
func MarshalEmbedding(e Embedding) []byte {
	buf := make([]byte, embeddingHeaderSize+4*len(e.values))
	binary.LittleEndian.PutUint32(buf, uint32(len(e.values))) //nolint:gosec // dim is bounded by model size
	for i, v := range e.values {
		binary.LittleEndian.PutUint32(buf[embeddingHeaderSize+4*i:], math.Float32bits(v))
	}
	return buf
}

// UnmarshalEmbedding decodes the output of MarshalEmbedding.
func UnmarshalEmbedding(data []byte) (Embedding, error) {
	if len(data) < embeddingHeaderSize {
		return Embedding{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptEmbedding, len(data))
	}

	dim := binary.LittleEndian.Uint32(data)
	if dim == 0 {
		return Embedding{}, fmt.Errorf("%w: zero dimension", ErrCorruptEmbedding)
	}
	if uint64(len(data)-embeddingHeaderSize) != uint64(dim)*4 {
		return Embedding{}, fmt.Errorf("%w: dimension %d does not match payload of %d bytes",
			ErrCorruptEmbedding, dim, len(data)-embeddingHeaderSize)
	}

	values := make([]float32, dim)
	for i := range values {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[embeddingHeaderSize+4*i:]))
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return Embedding{}, fmt.Errorf("%w: non-finite value at index %d", ErrCorruptEmbedding, i)
		}
		values[i] = v
	}

	return Embedding{values: values}, nil
}
