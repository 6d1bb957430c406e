package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/faceauth/internal/facematch"
)

func emb(values ...float32) facematch.Embedding {
	return facematch.NewEmbedding(values)
}

func TestGalleryIndex_Search(t *testing.T) {
	idx := NewGalleryIndex()
	require.NoError(t, idx.Build(facematch.Gallery{
		{Identity: "alice", Embedding: emb(0, 0)},
		{Identity: "bob", Embedding: emb(1, 0)},
		{Identity: "carol", Embedding: emb(5, 5)},
	}))
	assert.Equal(t, 3, idx.Len())

	hits, err := idx.Search(emb(0.9, 0), 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "bob", hits[0].Identity)
	assert.InDelta(t, 0.1, hits[0].Distance, 1e-6)
	assert.Equal(t, "alice", hits[1].Identity)
}

func TestGalleryIndex_Empty(t *testing.T) {
	idx := NewGalleryIndex()
	require.NoError(t, idx.Build(nil))
	assert.Zero(t, idx.Len())

	_, err := idx.Search(emb(1), 1)
	assert.Error(t, err)
}

func TestGalleryIndex_RejectsMixedDimensions(t *testing.T) {
	idx := NewGalleryIndex()
	err := idx.Build(facematch.Gallery{
		{Identity: "a", Embedding: emb(0, 0)},
		{Identity: "b", Embedding: emb(0, 0, 0)},
	})
	assert.Error(t, err)
	assert.Zero(t, idx.Len())
}

func TestGalleryIndex_FailedRebuildClearsIndex(t *testing.T) {
	idx := NewGalleryIndex()
	require.NoError(t, idx.Build(facematch.Gallery{
		{Identity: "alice", Embedding: emb(0, 0)},
		{Identity: "bob", Embedding: emb(1, 0)},
	}))
	require.Equal(t, 2, idx.Len())

	err := idx.Build(facematch.Gallery{
		{Identity: "carol", Embedding: emb(0, 1)},
		{Identity: "dave", Embedding: emb(0, 1, 0)},
	})
	require.Error(t, err)

	assert.Zero(t, idx.Len())
	_, err = idx.Search(emb(0, 0), 1)
	assert.Error(t, err)
}

func TestGalleryIndex_NearDuplicates(t *testing.T) {
	idx := NewGalleryIndex()
	require.NoError(t, idx.Build(facematch.Gallery{
		{Identity: "twin1", Embedding: emb(0, 0, 0)},
		{Identity: "loner", Embedding: emb(10, 10, 10)},
		{Identity: "twin2", Embedding: emb(0.2, 0, 0)},
	}))

	pairs, err := idx.NearDuplicates(0.6, 2)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "twin1", pairs[0].A)
	assert.Equal(t, "twin2", pairs[0].B)
	assert.InDelta(t, 0.2, pairs[0].Distance, 1e-6)
}
