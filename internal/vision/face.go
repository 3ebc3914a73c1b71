package vision

import (
	"image"
	"log/slog"

	"github.com/procwatch/proctor-go/internal/logging"
)

// FaceDetector performs per-frame face localization with confidence
// filtering.
type FaceDetector struct {
	backend       Backend
	minConfidence float64
	log           *slog.Logger
}

// NewFaceDetector creates a face detector. Faces below minConfidence are
// dropped before results are returned.
func NewFaceDetector(backend Backend, minConfidence float64) *FaceDetector {
	return &FaceDetector{
		backend:       backend,
		minConfidence: minConfidence,
		log:           logging.ForService("vision"),
	}
}

// Detect returns the faces visible in the frame. A backend failure reports
// zero faces: a broken detector must read as "no face visible" so a student
// cannot pass proctoring by breaking the camera pipeline.
func (d *FaceDetector) Detect(img image.Image) []Face {
	faces, err := d.backend.DetectFaces(img)
	if err != nil {
		d.log.Debug("face detection failed, reporting zero faces", "error", err)
		return nil
	}

	filtered := faces[:0]
	for _, f := range faces {
		if f.Confidence >= d.minConfidence {
			filtered = append(filtered, f)
		}
	}
	return filtered
}
