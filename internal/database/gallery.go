package database

import (
	"go.uber.org/zap"

	"github.com/kozaktomas/faceauth/internal/facematch"
)

// DecodeGallery decodes stored template records in order. Records whose
// embedding cannot be decoded are logged and left out.
func DecodeGallery(records []TemplateRecord, logger *zap.Logger) facematch.Gallery {
	if logger == nil {
		logger = zap.NewNop()
	}

	gallery := make(facematch.Gallery, 0, len(records))
	for _, rec := range records {
		emb, err := facematch.UnmarshalEmbedding(rec.Data)
		if err != nil {
			logger.Warn("skipping corrupt template",
				zap.String("identity", rec.Identity),
				zap.Int("bytes", len(rec.Data)),
				zap.Error(err),
			)
			continue
		}
		gallery = append(gallery, facematch.Template{Identity: rec.Identity, Embedding: emb})
	}
	return gallery
}

// Uniform reports whether every template in g has dimension dim.
func Uniform(g facematch.Gallery, dim int) bool {
	for _, t := range g {
		if t.Embedding.Dim() != dim {
			return false
		}
	}
	return true
}
