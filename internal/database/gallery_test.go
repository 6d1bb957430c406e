package database

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kozaktomas/faceauth/internal/facematch"
)

func TestDecodeGallery_SkipsCorruptRecords(t *testing.T) {
	var records []TemplateRecord
	for i := 0; i < 10; i++ {
		emb := facematch.NewEmbedding([]float32{float32(i), 1, 2})
		records = append(records, TemplateRecord{
			Identity: fmt.Sprintf("user%02d", i),
			Data:     facematch.MarshalEmbedding(emb),
		})
	}
	records = append(records[:4], append([]TemplateRecord{{Identity: "broken", Data: []byte("pickle")}}, records[4:]...)...)

	core, logs := observer.New(zap.WarnLevel)
	gallery := DecodeGallery(records, zap.New(core))

	require.Len(t, gallery, 10)
	assert.NotContains(t, gallery.Identities(), "broken")
	assert.Equal(t, "user00", gallery[0].Identity)
	assert.Equal(t, "user04", gallery[4].Identity, "order of valid records is preserved")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "broken", logs.All()[0].ContextMap()["identity"])
}

func TestDecodeGallery_OneOfTenCorrupt(t *testing.T) {
	records := make([]TemplateRecord, 10)
	for i := range records {
		records[i] = TemplateRecord{
			Identity: fmt.Sprintf("id%d", i),
			Data:     facematch.MarshalEmbedding(facematch.NewEmbedding([]float32{float32(i)})),
		}
	}
	records[7].Data = records[7].Data[:3]

	gallery := DecodeGallery(records, nil)
	assert.Len(t, gallery, 9)
}

func TestUniform(t *testing.T) {
	g := facematch.Gallery{
		{Identity: "a", Embedding: facematch.NewEmbedding([]float32{1, 2})},
		{Identity: "b", Embedding: facematch.NewEmbedding([]float32{3, 4})},
	}
	assert.True(t, Uniform(g, 2))
	assert.False(t, Uniform(g, 3))
	assert.True(t, Uniform(nil, 128))
}
