package vision

import (
	"image"
	"math"

	"github.com/procwatch/proctor-go/internal/errors"
)

// FaceVerifier checks whether the currently visible face matches a reference
// encoding captured at session start.
type FaceVerifier struct {
	backend   Backend
	threshold float64
}

// NewFaceVerifier creates a verifier, or nil when the feature is disabled or
// the backend cannot produce face encodings.
func NewFaceVerifier(backend Backend, enabled bool, threshold float64) *FaceVerifier {
	if !enabled || !backend.Capabilities().FaceEncoding {
		return nil
	}
	return &FaceVerifier{backend: backend, threshold: threshold}
}

// Encode produces the embedding for a face crop.
func (v *FaceVerifier) Encode(img image.Image, bbox BoundingBox) ([]float32, error) {
	enc, err := v.backend.EncodeFace(img, bbox)
	if err != nil {
		return nil, errors.New(err).
			Component("vision").
			Category(errors.CategoryVision).
			Context("operation", "encode-face").
			Build()
	}
	return enc, nil
}

// Threshold returns the similarity threshold below which the visible face is
// treated as a different person.
func (v *FaceVerifier) Threshold() float64 {
	return v.threshold
}

// CosineSimilarity returns the cosine similarity of two encodings clamped to
// [0, 1]. Degenerate inputs (length mismatch, zero norm) yield 0.0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Min(1.0, math.Max(0.0, sim))
}
