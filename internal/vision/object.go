package vision

import (
	"image"
	"log/slog"
	"strings"

	"github.com/procwatch/proctor-go/internal/logging"
)

// suspiciousLabels is the fixed whitelist of object classes that count as
// suspicious during an assessment. Matching is substring-based so model
// label variants like "cell phone" and "mobile phone" both match "phone".
var suspiciousLabels = []string{"phone", "book", "laptop", "tablet"}

// ObjectDetector filters backend object detections down to suspicious items.
// A nil *ObjectDetector is valid and performs no work at all, which is how
// the disabled path stays zero-cost.
type ObjectDetector struct {
	backend       Backend
	minConfidence float64
	log           *slog.Logger
}

// NewObjectDetector creates an object detector, or nil when the feature is
// disabled or the backend cannot detect objects.
func NewObjectDetector(backend Backend, enabled bool, minConfidence float64) *ObjectDetector {
	if !enabled || !backend.Capabilities().ObjectDetection {
		return nil
	}
	return &ObjectDetector{
		backend:       backend,
		minConfidence: minConfidence,
		log:           logging.ForService("vision"),
	}
}

// Detect returns the suspicious objects visible in the frame. Backend
// failures report no objects.
func (d *ObjectDetector) Detect(img image.Image) []Object {
	if d == nil {
		return nil
	}

	objects, err := d.backend.DetectObjects(img)
	if err != nil {
		d.log.Debug("object detection failed, reporting no objects", "error", err)
		return nil
	}

	var suspicious []Object
	for _, obj := range objects {
		if obj.Confidence >= d.minConfidence && isSuspiciousLabel(obj.Label) {
			suspicious = append(suspicious, obj)
		}
	}
	return suspicious
}

func isSuspiciousLabel(label string) bool {
	lower := strings.ToLower(label)
	for _, want := range suspiciousLabels {
		if strings.Contains(lower, want) {
			return true
		}
	}
	return false
}
